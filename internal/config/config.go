package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "COHORT"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "cohort.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultSessionIssuer     = "tauth"
	defaultFlushBufferLimit  = 0
	defaultActivityLogLimit  = 50
	databaseDriverSQLite     = "sqlite"
	databaseDriverPostgres   = "postgres"
	allowedOriginsSeparator  = ","
	defaultAllowedOriginsRaw = ""
)

// AppConfig captures runtime configuration for the messaging server.
type AppConfig struct {
	HTTPAddress             string
	SessionSigningKey       string
	SessionCookieName       string
	SessionIssuer           string
	DatabaseDriver          string
	DatabaseDSN             string
	LogLevel                string
	AllowedOrigins          []string
	FlushBufferLimit        int
	ActivityLogDefaultLimit int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOriginsRaw)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("messaging.flush_buffer_limit", defaultFlushBufferLimit)
	configViper.SetDefault("messaging.activity_log_default_limit", defaultActivityLogLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:             configViper.GetString("http.address"),
		SessionSigningKey:       configViper.GetString("session.signing_secret"),
		SessionCookieName:       configViper.GetString("session.cookie_name"),
		SessionIssuer:           configViper.GetString("session.issuer"),
		DatabaseDriver:          strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:             configViper.GetString("database.dsn"),
		LogLevel:                configViper.GetString("log.level"),
		AllowedOrigins:          splitOrigins(configViper.GetString("http.allowed_origins")),
		FlushBufferLimit:        configViper.GetInt("messaging.flush_buffer_limit"),
		ActivityLogDefaultLimit: configViper.GetInt("messaging.activity_log_default_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.DatabaseDriver != databaseDriverSQLite && c.DatabaseDriver != databaseDriverPostgres {
		return fmt.Errorf("database.driver must be %q or %q, got %q", databaseDriverSQLite, databaseDriverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.FlushBufferLimit < 0 {
		return fmt.Errorf("messaging.flush_buffer_limit must not be negative")
	}
	if c.ActivityLogDefaultLimit < 0 {
		return fmt.Errorf("messaging.activity_log_default_limit must not be negative")
	}
	return nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, allowedOriginsSeparator) {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
