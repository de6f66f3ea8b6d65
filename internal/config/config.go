// internal/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string

	// DB
	DBHost    string
	DBPort    string
	DBUser    string
	DBPass    string
	DBName    string
	DBSSLMode string

	// Auth
	ServiceExpectedToken string

	// Issue tracker remote
	TrackerBaseURL  string
	TrackerEmail    string
	TrackerAPIToken string
	TrackerProject  string

	// Wiki remote
	WikiBaseURL  string
	WikiEmail    string
	WikiAPIToken string
	WikiSpace    string

	// Sync engine tuning
	SyncPageSize      int
	SyncMaxRetries    int
	SyncMaxConcurrent int
	SyncInterval      time.Duration // 0 disables the scheduler
	SyncLogCap        int           // rolling cap on sync_logs rows

	// R2 Storage (audit log archive)
	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2BucketName      string

	// CORS
	AllowedOrigins string

	// Logging
	LogFile string // optional, enables file rotation
}

func Load() *Config {
	if os.Getenv("ENV") != "production" {
		_ = godotenv.Load() // optional .env for local
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}

	return &Config{
		ServerPort: port,

		DBHost:    getEnv("DB_HOST", "localhost"),
		DBPort:    getEnv("DB_PORT", "5432"),
		DBUser:    getEnv("DB_USER", "postgres"),
		DBPass:    getEnv("DB_PASS", "postgres"),
		DBName:    getEnv("DB_NAME", "workspace_sync_db"),
		DBSSLMode: getEnv("DB_SSLMODE", "disable"),

		ServiceExpectedToken: getEnv("SERVICE_TOKEN", "your-secret-service-token"),

		TrackerBaseURL:  os.Getenv("TRACKER_BASE_URL"),
		TrackerEmail:    os.Getenv("TRACKER_EMAIL"),
		TrackerAPIToken: os.Getenv("TRACKER_API_TOKEN"),
		TrackerProject:  getEnv("TRACKER_PROJECT", "PROJ"),

		WikiBaseURL:  os.Getenv("WIKI_BASE_URL"),
		WikiEmail:    getEnv("WIKI_EMAIL", os.Getenv("TRACKER_EMAIL")),
		WikiAPIToken: getEnv("WIKI_API_TOKEN", os.Getenv("TRACKER_API_TOKEN")),
		WikiSpace:    os.Getenv("WIKI_SPACE"),

		SyncPageSize:      getEnvInt("SYNC_PAGE_SIZE", 50),
		SyncMaxRetries:    getEnvInt("SYNC_MAX_RETRIES", 5),
		SyncMaxConcurrent: getEnvInt("SYNC_MAX_CONCURRENT", 4),
		SyncInterval:      getEnvDuration("SYNC_INTERVAL", 0),
		SyncLogCap:        getEnvInt("SYNC_LOG_CAP", 10000),

		// R2 Configuration
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),

		// CORS Configuration
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),

		LogFile: os.Getenv("LOG_FILE"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("❌ Invalid %s: %v", key, err)
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("❌ Invalid %s: %v", key, err)
	}
	return d
}
