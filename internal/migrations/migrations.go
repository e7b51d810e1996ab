package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/admin/*.sql sql/tenant/*.sql
var embeddedMigrations embed.FS

const (
	adminDir  = "sql/admin"
	tenantDir = "sql/tenant"

	// StandardCategory tags the fixed tenant migration chain in the
	// schema_migrations table
	StandardCategory = "standard"

	// DefaultTimeout bounds a single migration pass
	DefaultTimeout = 5 * time.Minute
)

type migrationFile struct {
	Name    string
	Content string
}

// Runner applies migration chains to databases addressed by connection
// string. Each file runs in its own transaction and is recorded in a
// schema_migrations table inside the target database, so re-running a
// chain skips files already applied.
type Runner struct {
	// Timeout bounds each pass; DefaultTimeout when zero
	Timeout time.Duration

	// openDB is swappable for tests
	openDB func(dsn string) (*sql.DB, error)
}

// NewRunner creates a migration runner
func NewRunner() *Runner {
	return &Runner{
		Timeout: DefaultTimeout,
		openDB: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		},
	}
}

// ApplyAdminSchema applies the registry's own schema chain to the
// administration database
func ApplyAdminSchema(ctx context.Context, db *sql.DB) error {
	files, err := loadEmbedded(adminDir)
	if err != nil {
		return err
	}
	return applyFiles(ctx, db, files, "admin")
}

// MigrateToLatest applies the standard tenant migration chain to the
// database addressed by dsn
func (r *Runner) MigrateToLatest(ctx context.Context, dsn string) error {
	files, err := loadEmbedded(tenantDir)
	if err != nil {
		return err
	}
	return r.apply(ctx, dsn, files, StandardCategory)
}

// ApplyDir applies the .sql files of a filesystem directory, in lexical
// order, to the database addressed by dsn. Files are tracked under the
// given category. A missing or empty directory is reported by ErrNoScripts
// via HasScripts; callers decide whether that is an error.
func (r *Runner) ApplyDir(ctx context.Context, dsn, dir, category string) error {
	files, err := loadDir(dir)
	if err != nil {
		return err
	}
	return r.apply(ctx, dsn, files, category)
}

// HasScripts reports whether dir exists and contains at least one .sql file
func HasScripts(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return true, nil
		}
	}
	return false, nil
}

// AcquireLock takes a session-scoped advisory lock on the database
// addressed by dsn, serializing concurrent migration passes against the
// same tenant. The returned release func unlocks and closes the session.
func (r *Runner) AcquireLock(ctx context.Context, dsn string, key int64) (func(), error) {
	db, err := r.openDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	release := func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
			log.Warn().Err(err).Int64("key", key).Msg("Failed to release advisory lock")
		}
		conn.Close()
		db.Close()
	}
	return release, nil
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

func (r *Runner) apply(ctx context.Context, dsn string, files []migrationFile, category string) error {
	if len(files) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	db, err := r.openDB(dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return applyFiles(ctx, db, files, category)
}

func applyFiles(ctx context.Context, db *sql.DB, files []migrationFile, category string) error {
	if err := ensureSchemaMigrationsTable(ctx, db); err != nil {
		return err
	}

	applied, err := fetchApplied(ctx, db, category)
	if err != nil {
		return err
	}

	var executed []string
	for _, file := range files {
		if applied[file.Name] {
			continue
		}
		if err := executeMigration(ctx, db, file, category); err != nil {
			return err
		}
		executed = append(executed, file.Name)
	}

	if len(executed) > 0 {
		log.Info().
			Str("category", category).
			Strs("files", executed).
			Msg("Applied migrations")
	}

	return nil
}

func loadEmbedded(dir string) ([]migrationFile, error) {
	return loadFS(embeddedMigrations, dir)
}

func loadDir(dir string) ([]migrationFile, error) {
	return loadFS(os.DirFS(dir), ".")
}

func loadFS(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	files := make([]migrationFile, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		content, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, name)))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		files = append(files, migrationFile{Name: name, Content: string(content)})
	}

	// Lexical sort order is execution order
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}

func ensureSchemaMigrationsTable(ctx context.Context, db *sql.DB) error {
	const createTable = `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            id SERIAL PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            category VARCHAR(100) NOT NULL,
            applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL DEFAULT NOW(),
            UNIQUE (name, category)
        )`
	_, err := db.ExecContext(ctx, createTable)
	return err
}

func fetchApplied(ctx context.Context, db *sql.DB, category string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT name FROM schema_migrations WHERE category = $1", category)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func executeMigration(ctx context.Context, db *sql.DB, file migrationFile, category string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, file.Content); err != nil {
		tx.Rollback()
		return fmt.Errorf("apply migration %s: %w", file.Name, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (name, category) VALUES ($1, $2)",
		file.Name, category,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration %s: %w", file.Name, err)
	}

	return tx.Commit()
}
