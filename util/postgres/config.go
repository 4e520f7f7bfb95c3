package postgres

import (
	"fmt"
	"strings"
	"time"
)

const defaultConnectTimeout = 5 * time.Second

var sslModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Config locates the database holding the controller event history
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// ApplicationName shows up in pg_stat_activity, one per controller
	ApplicationName string
	ConnectTimeout  time.Duration
}

// DefaultConfig returns the local development settings for a controller
func DefaultConfig(controllerID string) *Config {
	cfg := &Config{
		Host:           "localhost",
		Port:           5432,
		User:           "stam",
		Password:       "stam",
		Database:       "stam",
		SSLMode:        "disable",
		ConnectTimeout: defaultConnectTimeout,
	}
	if controllerID != "" {
		cfg.ApplicationName = "stam-" + controllerID
	}
	return cfg
}

// ConnectionString renders the lib/pq key/value form. Values are quoted so
// passwords and names may contain spaces or quotes.
func (c *Config) ConnectionString() string {
	return c.render(c.Password)
}

// String is the connection string with the password masked, for logs.
func (c *Config) String() string {
	if c.Password == "" {
		return c.render("")
	}
	return c.render("****")
}

func (c *Config) render(password string) string {
	parts := []string{
		"host=" + quote(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + quote(c.User),
	}
	if password != "" {
		parts = append(parts, "password="+quote(password))
	}
	parts = append(parts, "dbname="+quote(c.Database), "sslmode="+c.SSLMode)
	if c.ApplicationName != "" {
		parts = append(parts, "application_name="+quote(c.ApplicationName))
	}
	if c.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", max(1, int(c.ConnectTimeout/time.Second))))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Validate checks the settings and fills the default sslmode
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if !sslModes[c.SSLMode] {
		return fmt.Errorf("unsupported sslmode %q", c.SSLMode)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must not be negative")
	}
	return nil
}
