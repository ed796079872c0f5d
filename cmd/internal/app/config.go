package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	WSAddr    string
	AdminAddr string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Empty DatabaseURL selects SQLite at SQLiteDSN.
	DatabaseURL      string
	SQLiteDSN        string
	DBMaxConns       int32
	DBMinConns       int32
	DBAcquireTimeout time.Duration
	AutoMigrate      bool

	// If true, /readyz returns 503 unless Postgres is configured and reachable.
	ReadinessRequireDB bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PresenceTTL   time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	AdminUser         string
	AdminPasswordHash string
	// If true, AdminPasswordHash MUST be a bcrypt hash and the admin routes require basic auth.
	RequireAdminAuth bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		WSAddr:    EnvString("PARLEY_WS_ADDR", "0.0.0.0:3030"),
		AdminAddr: EnvString("PARLEY_ADMIN_ADDR", "0.0.0.0:6080"),
		LogLevel:  EnvString("PARLEY_LOG_LEVEL", "info"),
		LogFormat: EnvString("PARLEY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PARLEY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PARLEY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PARLEY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PARLEY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PARLEY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:      EnvString("PARLEY_DATABASE_URL", ""),
		SQLiteDSN:        EnvString("PARLEY_SQLITE_DSN", "file::memory:"),
		DBMaxConns:       EnvInt32("PARLEY_DB_MAX_CONNS", 20),
		DBMinConns:       EnvInt32("PARLEY_DB_MIN_CONNS", 0),
		DBAcquireTimeout: EnvDuration("PARLEY_DB_ACQUIRE_TIMEOUT", 10*time.Second),
		AutoMigrate:      EnvBool("PARLEY_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("PARLEY_READINESS_REQUIRE_DB", false),

		RedisAddr:     EnvString("PARLEY_REDIS_ADDR", ""),
		RedisPassword: EnvString("PARLEY_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("PARLEY_REDIS_DB", 0),
		PresenceTTL:   EnvDuration("PARLEY_PRESENCE_TTL", 2*time.Minute),

		NATSURL:           EnvString("PARLEY_NATS_URL", ""),
		NATSSubjectPrefix: EnvString("PARLEY_NATS_SUBJECT_PREFIX", "parley"),

		AdminUser:         EnvString("PARLEY_ADMIN_USER", "admin"),
		AdminPasswordHash: EnvString("PARLEY_ADMIN_PASSWORD_HASH", ""),
		RequireAdminAuth:  EnvBool("PARLEY_REQUIRE_ADMIN_AUTH", false),

		CORSAllowedOrigins:   EnvCSV("PARLEY_ADMIN_CORS_ORIGINS", ""),
		CORSAllowCredentials: EnvBool("PARLEY_ADMIN_CORS_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("PARLEY_ADMIN_CORS_MAX_AGE", 600),
	}
}

func (c Config) usesPostgres() bool { return strings.TrimSpace(c.DatabaseURL) != "" }
