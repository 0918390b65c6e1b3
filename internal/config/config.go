package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Postgres holds the direct database connection settings. Direct SQL is
// reserved for diagnostics and for dump/restore; all business writes go
// through the Odoo RPC surface.
type Postgres struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// Config is the on-disk configuration for odoo-forge.
//
// NOTE: This file contains credentials. Always keep it chmod 0600.
type Config struct {
	// OdooURL is the base URL of the target instance (e.g. http://localhost:8069).
	OdooURL string `json:"odoo_url"`
	// MasterPassword is the Odoo master password for the database service.
	MasterPassword string `json:"master_password,omitempty"`
	// DefaultDB is the database used when a call does not name one.
	DefaultDB string `json:"default_db,omitempty"`
	// AdminUser / AdminPassword authenticate the RPC session.
	AdminUser     string `json:"admin_user"`
	AdminPassword string `json:"admin_password"`

	Postgres Postgres `json:"postgres"`

	// ComposePath is the directory containing docker-compose.yml for the
	// target stack. Required for restart/reload and snapshot operations.
	ComposePath string `json:"compose_path"`

	// WebService / DBService are the compose service names of the Odoo
	// process and its database. Defaults: "web" and "db".
	WebService string `json:"web_service,omitempty"`
	DBService  string `json:"db_service,omitempty"`

	// StateDir holds the snapshot manifest, dump artifacts and the
	// instance lock. If empty, ~/.odooforge is used.
	StateDir string `json:"state_dir,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	raw := strings.TrimSpace(c.OdooURL)
	if raw == "" {
		return errors.New("missing odoo_url")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid odoo_url %q", raw)
	}
	if strings.TrimSpace(c.AdminUser) == "" {
		return errors.New("missing admin_user")
	}
	if strings.TrimSpace(c.AdminPassword) == "" {
		return errors.New("missing admin_password")
	}
	if c.Postgres.Port < 0 || c.Postgres.Port > 65535 {
		return fmt.Errorf("invalid postgres port %d", c.Postgres.Port)
	}
	switch strings.TrimSpace(c.LogFormat) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	return nil
}

// ApplyDefaults fills unset optional fields in place.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.WebService) == "" {
		c.WebService = "web"
	}
	if strings.TrimSpace(c.DBService) == "" {
		c.DBService = "db"
	}
	if strings.TrimSpace(c.StateDir) == "" {
		c.StateDir = DefaultStateDir()
	}
	if strings.TrimSpace(c.Postgres.Host) == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if strings.TrimSpace(c.Postgres.User) == "" {
		c.Postgres.User = "odoo"
	}
	if strings.TrimSpace(c.Postgres.Password) == "" {
		c.Postgres.Password = "odoo"
	}
}

// DefaultStateDir returns ~/.odooforge, falling back to a relative dir when
// the home directory cannot be resolved.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".odooforge"
	}
	return filepath.Join(home, ".odooforge")
}

// DefaultConfigPath returns the default config path:
//
//	~/.odooforge/config.json
func DefaultConfigPath() string {
	return filepath.Join(DefaultStateDir(), "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// FromEnv builds a config purely from environment variables, for setups that
// never write a config file (CI, throwaway instances).
func FromEnv() (*Config, error) {
	cfg := &Config{
		OdooURL:       "http://localhost:8069",
		AdminUser:     "admin",
		AdminPassword: "admin",
	}
	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&c.OdooURL, "ODOO_URL")
	setStr(&c.MasterPassword, "ODOO_MASTER_PASSWORD")
	setStr(&c.DefaultDB, "ODOO_DEFAULT_DB")
	setStr(&c.AdminUser, "ODOO_ADMIN_USER")
	setStr(&c.AdminPassword, "ODOO_ADMIN_PASSWORD")
	setStr(&c.Postgres.Host, "POSTGRES_HOST")
	setStr(&c.Postgres.User, "POSTGRES_USER")
	setStr(&c.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&c.ComposePath, "DOCKER_COMPOSE_PATH")
	setStr(&c.StateDir, "ODOOFORGE_STATE_DIR")
	if v := strings.TrimSpace(os.Getenv("POSTGRES_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Postgres.Port = p
		}
	}
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
