package projectgen

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/erp-backoffice/backoffice-server/internal/config"
	"github.com/erp-backoffice/backoffice-server/internal/models"
)

// Placeholders replaced in template file contents and file names
const (
	placeholderCode = "{{TENANT_CODE}}"
	placeholderName = "{{TENANT_NAME}}"
	placeholderAPI  = "{{API_URL}}"
)

// textExtensions are the file types that get placeholder substitution;
// everything else is copied verbatim
var textExtensions = map[string]bool{
	".html": true, ".js": true, ".ts": true, ".css": true,
	".json": true, ".md": true, ".env": true, ".yaml": true, ".yml": true,
}

// Generator scaffolds a per-tenant frontend project folder from a
// template directory
type Generator struct {
	cfg config.ProjectGenConfig
}

// NewGenerator creates a generator
func NewGenerator(cfg config.ProjectGenConfig) *Generator {
	return &Generator{cfg: cfg}
}

// Generate copies the template directory into the output directory under
// the tenant's code, substituting placeholders in text files. An existing
// project folder is rejected.
func (g *Generator) Generate(tenant *models.Tenant) (string, error) {
	if g.cfg.TemplateDir == "" || g.cfg.OutputDir == "" {
		return "", fmt.Errorf("project generation is not configured")
	}

	target := filepath.Join(g.cfg.OutputDir, tenant.Code)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("project folder %s already exists", target)
	}

	replacer := strings.NewReplacer(
		placeholderCode, tenant.Code,
		placeholderName, tenant.Name,
		placeholderAPI, g.cfg.APIBaseURL,
	)

	err := filepath.WalkDir(g.cfg.TemplateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(g.cfg.TemplateDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(target, replacer.Replace(rel))

		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if textExtensions[filepath.Ext(path)] {
			data = []byte(replacer.Replace(string(data)))
		}
		return os.WriteFile(dest, data, 0o644)
	})
	if err != nil {
		os.RemoveAll(target)
		return "", fmt.Errorf("generate project: %w", err)
	}

	log.Info().
		Str("tenant", tenant.Code).
		Str("path", target).
		Msg("Generated tenant project")

	return target, nil
}
