package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	API          APIConfig          `yaml:"api"`
	Database     DatabaseConfig     `yaml:"database"`
	TenantServer TenantServerConfig `yaml:"tenant_server"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	NATS         NATSConfig         `yaml:"nats"`
	JWT          JWTConfig          `yaml:"jwt"`
	Log          LogConfig          `yaml:"log"`
	ProjectGen   ProjectGenConfig   `yaml:"project_gen"`
}

// ServerConfig represents server identification
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the REST API bind configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents the registry database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// TenantServerConfig holds operator credentials for the shared database
// server where tenant databases are created
type TenantServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// AdminDSN composes the connection string for the server's default
// administrative database
func (c *TenantServerConfig) AdminDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// DatabaseDSN composes a connection string for another database on the
// same server, still using operator credentials
func (c *TenantServerConfig) DatabaseDSN(database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, database, c.SSLMode)
}

// ProvisioningConfig represents provisioning and migration configuration
type ProvisioningConfig struct {
	// WorkspaceRoot is where custom module project folders live
	WorkspaceRoot string `yaml:"workspace_root"`

	// ModuleMigrationsPath is the base path holding standard modules'
	// SQL script directories, one subfolder per module code
	ModuleMigrationsPath string `yaml:"module_migrations_path"`

	// CredentialKey is a hex-encoded 256-bit key sealing tenant
	// database passwords at rest
	CredentialKey string `yaml:"credential_key"`

	// MigrationTimeout bounds a single migration pass
	MigrationTimeout time.Duration `yaml:"migration_timeout"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	TenantTokenTTL time.Duration `yaml:"tenant_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProjectGenConfig represents frontend project generation configuration
type ProjectGenConfig struct {
	TemplateDir string `yaml:"template_dir"`
	OutputDir   string `yaml:"output_dir"`
	APIBaseURL  string `yaml:"api_base_url"`
}

// Load loads configuration from a YAML file with environment overrides
func Load(filename string) (*Config, error) {
	cfg := defaults()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Name: "backoffice-server", Version: "1.0.0"},
		API:    APIConfig{Host: "0.0.0.0", Port: 8080},
		TenantServer: TenantServerConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "postgres",
			SSLMode:  "disable",
		},
		Provisioning: ProvisioningConfig{
			MigrationTimeout: 5 * time.Minute,
		},
		JWT: JWTConfig{
			AccessTokenTTL: time.Hour,
			TenantTokenTTL: 24 * time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("ADMIN_DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if host := os.Getenv("DB_ADMIN_HOST"); host != "" {
		c.TenantServer.Host = host
	}
	if port := os.Getenv("DB_ADMIN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.TenantServer.Port = p
		}
	}
	if user := os.Getenv("DB_ADMIN_USER"); user != "" {
		c.TenantServer.User = user
	}
	if pass := os.Getenv("DB_ADMIN_PASSWORD"); pass != "" {
		c.TenantServer.Password = pass
	}

	if root := os.Getenv("WORKSPACE_ROOT"); root != "" {
		c.Provisioning.WorkspaceRoot = root
	}
	if path := os.Getenv("MODULE_MIGRATIONS_PATH"); path != "" {
		c.Provisioning.ModuleMigrationsPath = path
	}
	if key := os.Getenv("CREDENTIAL_KEY"); key != "" {
		c.Provisioning.CredentialKey = key
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// applyDefaults fills zero values left after file and env loading
func (c *Config) applyDefaults() {
	if c.TenantServer.Host == "" {
		c.TenantServer.Host = "localhost"
	}
	if c.TenantServer.Port == 0 {
		c.TenantServer.Port = 5432
	}
	if c.TenantServer.User == "" {
		c.TenantServer.User = "postgres"
	}
	if c.TenantServer.Password == "" {
		c.TenantServer.Password = "postgres"
	}
	if c.TenantServer.Database == "" {
		c.TenantServer.Database = "postgres"
	}
	if c.TenantServer.SSLMode == "" {
		c.TenantServer.SSLMode = "disable"
	}
	if c.Provisioning.MigrationTimeout == 0 {
		c.Provisioning.MigrationTimeout = 5 * time.Minute
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = time.Hour
	}
	if c.JWT.TenantTokenTTL == 0 {
		c.JWT.TenantTokenTTL = 24 * time.Hour
	}
}
