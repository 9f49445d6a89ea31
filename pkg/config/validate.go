package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDirectory(); err != nil {
		return err
	}
	if err := c.validateGeocode(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDirectory() error {
	u, err := url.Parse(c.Directory.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigurationError{Field: "directory.base_url", Err: fmt.Errorf("invalid URL %q", c.Directory.BaseURL)}
	}
	if c.Directory.TimeoutSeconds <= 0 {
		return &ConfigurationError{Field: "directory.timeout_seconds", Err: errors.New("must be positive")}
	}
	return nil
}

func (c *Config) validateGeocode() error {
	switch strings.ToLower(c.Geocode.Provider) {
	case "google":
		if c.Geocode.APIKey == "" {
			return &ConfigurationError{Field: "geocode.api_key", Err: errors.New("required for the google provider (set QBN_GEOCODE_API_KEY)")}
		}
	case "nominatim":
	default:
		return &ConfigurationError{Field: "geocode.provider", Err: fmt.Errorf("unsupported value %q", c.Geocode.Provider)}
	}
	if c.Geocode.TimeoutSeconds <= 0 {
		return &ConfigurationError{Field: "geocode.timeout_seconds", Err: errors.New("must be positive")}
	}
	return nil
}

func (c *Config) validateStore() error {
	switch strings.ToLower(c.Store.Driver) {
	case "bolt", "sqlite":
		if c.Store.Path == "" {
			return &ConfigurationError{Field: "store.path", Err: errors.New("must be set")}
		}
	case "postgres":
		if c.Store.DSN == "" {
			return &ConfigurationError{Field: "store.dsn", Err: errors.New("required for the postgres driver")}
		}
	default:
		return &ConfigurationError{Field: "store.driver", Err: fmt.Errorf("unsupported value %q", c.Store.Driver)}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.AdminKey == "" {
		return &ConfigurationError{Field: "server.admin_key", Err: errors.New("must be set (QBN_ADMIN_KEY)")}
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.Workers < 1 {
		return &ConfigurationError{Field: "ingest.workers", Err: errors.New("must be at least 1")}
	}
	return nil
}

// MailEnabled reports whether enough SMTP settings exist to send digests.
func (c *Config) MailEnabled() bool {
	return c.Mail.Host != "" && c.Mail.Sender != ""
}
