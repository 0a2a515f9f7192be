package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	DefaultIndexBaseURL  = "https://pypi.org"
	DefaultRefreshCron   = "0 0 * * *"
	DefaultMaxConcurrent = 10
)

// BlobConfig selects where raw manifest payloads live.
type BlobConfig struct {
	Backend string // "filesystem" or "minio"
	Dir     string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables.
type AppConfig struct {
	Port       string
	SQLitePath string

	IndexBaseURL         string
	RefreshMaxConcurrent int
	RefreshCron          string
	WithInitialRefresh   bool
	WithScheduledRefresh bool

	Blob BlobConfig

	WatchDir string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables. A .env file can be
// auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
func Load() *AppConfig {
	return &AppConfig{
		Port:       getEnv("PORT", "8080"),
		SQLitePath: getEnv("SQLITE_PATH", "reqstore.db"),

		IndexBaseURL:         getEnv("PYPI_BASE_URL", DefaultIndexBaseURL),
		RefreshMaxConcurrent: getEnvInt("REFRESH_MAX_CONCURRENT", DefaultMaxConcurrent),
		RefreshCron:          getEnv("REFRESH_CRON", DefaultRefreshCron),
		WithInitialRefresh:   getEnvBool("WITH_INITIAL_REFRESH", false),
		WithScheduledRefresh: getEnvBool("WITH_SCHEDULED_REFRESH", true),

		Blob: BlobConfig{
			Backend:        getEnv("BLOB_BACKEND", "filesystem"),
			Dir:            getEnv("BLOB_DIR", "blobs"),
			MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
			MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
			MinIOBucket:    getEnv("MINIO_BUCKET", "reqstore"),
			MinIOUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},

		WatchDir: getEnv("WATCH_DIR", ""),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
