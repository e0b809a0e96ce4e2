package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("IMLAST_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("IMLAST_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("IMLAST_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("IMLAST_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("IMLAST_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("IMLAST_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("IMLAST_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("IMLAST_DATABASE_URL", ""),
		DBSchema:    EnvString("IMLAST_DB_SCHEMA", "imlast"),
		DBMaxConns:  EnvInt32("IMLAST_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("IMLAST_DB_MIN_CONNS", 0),

		RedisAddr:     EnvString("IMLAST_REDIS_ADDR", ""),
		RedisPassword: EnvString("IMLAST_REDIS_PASSWORD", ""),
		RedisDB:       EnvIntAllowZero("IMLAST_REDIS_DB", 0),

		CORSAllowedOrigins:   EnvCSV("IMLAST_CORS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1,http://127.0.0.1:*,http://localhost:*"),
		CORSAllowCredentials: EnvBool("IMLAST_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvIntAllowZero("IMLAST_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("IMLAST_READINESS_REQUIRE_DB", false),
	}
}
