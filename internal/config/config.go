package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "LINGOCIRCLE"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DatabaseDriverSQLite
	defaultDatabasePath    = "lingocircle.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "app_session"
	defaultSessionIssuer   = "tauth"
	defaultPresenceBackend = PresenceBackendDatabase
	defaultJobsBackend     = JobsBackendMemory
	defaultJobsWorkers     = 2
	defaultJobsMaxRetry    = 5
	defaultAllowedOrigins  = "*"
)

const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"

	PresenceBackendDatabase = "database"
	PresenceBackendRedis    = "redis"

	JobsBackendMemory = "memory"
	JobsBackendAsynq  = "asynq"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	TAuthSigningKey string
	TAuthCookieName string
	TAuthIssuer     string
	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	LogLevel        string
	PresenceBackend string
	JobsBackend     string
	JobsWorkers     int
	JobsMaxRetry    int
	RedisURL        string
	AllowedOrigins  []string
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
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("presence.backend", defaultPresenceBackend)
	configViper.SetDefault("jobs.backend", defaultJobsBackend)
	configViper.SetDefault("jobs.workers", defaultJobsWorkers)
	configViper.SetDefault("jobs.max_retry", defaultJobsMaxRetry)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		TAuthSigningKey: configViper.GetString("tauth.signing_secret"),
		TAuthCookieName: configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:     configViper.GetString("tauth.issuer"),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:    configViper.GetString("database.path"),
		DatabaseDSN:     configViper.GetString("database.dsn"),
		LogLevel:        configViper.GetString("log.level"),
		PresenceBackend: strings.ToLower(strings.TrimSpace(configViper.GetString("presence.backend"))),
		JobsBackend:     strings.ToLower(strings.TrimSpace(configViper.GetString("jobs.backend"))),
		JobsWorkers:     configViper.GetInt("jobs.workers"),
		JobsMaxRetry:    configViper.GetInt("jobs.max_retry"),
		RedisURL:        configViper.GetString("redis.url"),
		AllowedOrigins:  splitList(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	if strings.TrimSpace(c.TAuthIssuer) == "" {
		return fmt.Errorf("tauth.issuer is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.PresenceBackend {
	case PresenceBackendDatabase, PresenceBackendRedis:
	default:
		return fmt.Errorf("presence.backend %q is not supported", c.PresenceBackend)
	}
	switch c.JobsBackend {
	case JobsBackendMemory, JobsBackendAsynq:
	default:
		return fmt.Errorf("jobs.backend %q is not supported", c.JobsBackend)
	}
	if c.needsRedis() && strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("redis.url is required when presence or jobs use redis")
	}
	if c.JobsWorkers <= 0 {
		return fmt.Errorf("jobs.workers must be positive")
	}
	if c.JobsMaxRetry < 0 {
		return fmt.Errorf("jobs.max_retry must not be negative")
	}
	return nil
}

func (c AppConfig) needsRedis() bool {
	return c.PresenceBackend == PresenceBackendRedis || c.JobsBackend == JobsBackendAsynq
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
