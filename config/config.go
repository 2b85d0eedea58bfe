// Package config loads server configuration from the environment, with an
// optional .env file underneath.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/quota"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds server configuration.
type Config struct {
	Port        string
	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	LogLevel  string
	LogFormat string

	Enforcement leave.Enforcement
	Allotment   quota.Allotment

	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

// Load reads configuration. Real environment variables win over .env values,
// which win over the defaults.
func Load() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "leave.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("QUOTA_ENFORCEMENT", string(leave.EnforceAtomic))
	v.SetDefault("QUOTA_FULL_DAY", quota.DefaultAllotment.FullDay)
	v.SetDefault("QUOTA_HALF_DAY", quota.DefaultAllotment.HalfDay)
	v.SetDefault("QUOTA_SHORT", quota.DefaultAllotment.Short)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	v.AutomaticEnv()

	cfg := &Config{
		Port:        v.GetString("PORT"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		SQLitePath:  v.GetString("SQLITE_PATH"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogFormat:   v.GetString("LOG_FORMAT"),
		Enforcement: leave.Enforcement(strings.ToLower(v.GetString("QUOTA_ENFORCEMENT"))),
		Allotment: quota.Allotment{
			FullDay: v.GetInt("QUOTA_FULL_DAY"),
			HalfDay: v.GetInt("QUOTA_HALF_DAY"),
			Short:   v.GetInt("QUOTA_SHORT"),
		},
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	timeout, err := time.ParseDuration(v.GetString("SHUTDOWN_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout = timeout

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFlags lets -port and -db override the loaded values, then validates
// the result again.
func (c *Config) ParseFlags(fs *flag.FlagSet, args []string) error {
	port := fs.String("port", c.Port, "HTTP server port")
	dbPath := fs.String("db", c.SQLitePath, "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c.Port = *port
	c.SQLitePath = *dbPath
	return c.Validate()
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if _, err := leave.ParseEnforcement(string(c.Enforcement)); err != nil {
		errs = append(errs, err)
	}
	if c.Allotment.FullDay < 0 || c.Allotment.HalfDay < 0 || c.Allotment.Short < 0 {
		errs = append(errs, fmt.Errorf("quota allotment must not be negative: %+v", c.Allotment))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
