package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Directory configures the upstream tournament directory.
type Directory struct {
	BaseURL        string `toml:"base_url"`
	UserAgent      string `toml:"user_agent"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Geocode configures the geocoding provider.
type Geocode struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	CachePath      string `toml:"cache_path"`
}

// Store selects and configures the persistent store.
type Store struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// Mail configures the SMTP transport used for digests.
type Mail struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Sender   string `toml:"sender"`
	SiteURL  string `toml:"site_url"`
}

// Server configures the trigger endpoint.
type Server struct {
	Bind     string `toml:"bind"`
	AdminKey string `toml:"admin_key"`
}

// Scheduler configures periodic runs.
type Scheduler struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
}

// Ingest tunes the ingestion pipeline.
type Ingest struct {
	Workers    int    `toml:"workers"`
	ExportPath string `toml:"export_path"`
	LockPath   string `toml:"lock_path"`
}

// Config is the full application configuration. It is built once at startup
// and passed by pointer into constructors.
type Config struct {
	Directory Directory `toml:"directory"`
	Geocode   Geocode   `toml:"geocode"`
	Store     Store     `toml:"store"`
	Mail      Mail      `toml:"mail"`
	Server    Server    `toml:"server"`
	Scheduler Scheduler `toml:"scheduler"`
	Ingest    Ingest    `toml:"ingest"`
}

// ConfigurationError reports a configuration problem that prevents startup.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Directory: Directory{
			BaseURL:        "https://hsquizbowl.org",
			UserAgent:      "qbnotify/1.0 (+https://qbnotify.msmitchell.org)",
			TimeoutSeconds: 30,
		},
		Geocode: Geocode{
			Provider:       "google",
			TimeoutSeconds: 10,
			CachePath:      "data/geocache.db",
		},
		Store: Store{
			Driver: "bolt",
			Path:   "data/qbnotify.db",
		},
		Mail: Mail{
			Host:    "smtp.gmail.com",
			Port:    465,
			SiteURL: "https://qbnotify.msmitchell.org",
		},
		Server: Server{
			Bind: ":8080",
		},
		Scheduler: Scheduler{
			Cron: "0 * * * *",
		},
		Ingest: Ingest{
			Workers:    4,
			ExportPath: "static/upcoming.json",
			LockPath:   "data/qbnotify.lock",
		},
	}
}

// Load builds the configuration: defaults, then the optional TOML file at
// path, then QBN_* environment variables (a .env file in the working
// directory is loaded first when present). The result is validated.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, &ConfigurationError{Field: "file", Err: fmt.Errorf("%s does not exist", path)}
		case err != nil:
			return nil, &ConfigurationError{Field: "file", Err: err}
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigurationError{Field: "file", Err: fmt.Errorf("parse %s: %w", path, err)}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"QBN_DIRECTORY_URL":    &c.Directory.BaseURL,
		"QBN_GEOCODE_PROVIDER": &c.Geocode.Provider,
		"QBN_GEOCODE_API_KEY":  &c.Geocode.APIKey,
		"QBN_GEOCODE_URL":      &c.Geocode.BaseURL,
		"QBN_GEOCODE_CACHE":    &c.Geocode.CachePath,
		"QBN_STORE_DRIVER":     &c.Store.Driver,
		"QBN_STORE_PATH":       &c.Store.Path,
		"QBN_STORE_DSN":        &c.Store.DSN,
		"QBN_MAIL_HOST":        &c.Mail.Host,
		"QBN_MAIL_USERNAME":    &c.Mail.Username,
		"QBN_MAIL_PASSWORD":    &c.Mail.Password,
		"QBN_MAIL_SENDER":      &c.Mail.Sender,
		"QBN_SITE_URL":         &c.Mail.SiteURL,
		"QBN_BIND":             &c.Server.Bind,
		"QBN_ADMIN_KEY":        &c.Server.AdminKey,
		"QBN_SCHEDULER_CRON":   &c.Scheduler.Cron,
		"QBN_EXPORT_PATH":      &c.Ingest.ExportPath,
		"QBN_LOCK_PATH":        &c.Ingest.LockPath,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"QBN_DIRECTORY_TIMEOUT": &c.Directory.TimeoutSeconds,
		"QBN_GEOCODE_TIMEOUT":   &c.Geocode.TimeoutSeconds,
		"QBN_MAIL_PORT":         &c.Mail.Port,
		"QBN_INGEST_WORKERS":    &c.Ingest.Workers,
	}
	for key, dst := range ints {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigurationError{Field: key, Err: fmt.Errorf("not an integer: %q", v)}
		}
		*dst = n
	}

	if v := strings.TrimSpace(os.Getenv("QBN_SCHEDULER_ENABLED")); v != "" {
		c.Scheduler.Enabled = v == "true" || v == "1"
	}
	return nil
}

// DirectoryTimeout returns the per-request timeout for the directory client.
func (c *Config) DirectoryTimeout() time.Duration {
	return time.Duration(c.Directory.TimeoutSeconds) * time.Second
}

// GeocodeTimeout returns the per-call timeout for geocoding requests.
func (c *Config) GeocodeTimeout() time.Duration {
	return time.Duration(c.Geocode.TimeoutSeconds) * time.Second
}
