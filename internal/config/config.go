// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port   string
	AppEnv string

	// Storage backend: "fs" stores tiers as directories under StorageRoot;
	// "s3" stores them as key prefixes in an S3-compatible bucket.
	StorageBackend string
	StorageRoot    string

	// Object storage (S3-compatible: MinIO locally, any S3 provider in production)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// Upload limits
	MaxUploadBytes int64

	// Derivative policy, applied system-wide to every ingested image.
	OptimizeMaxWidth  int
	OptimizeMaxHeight int
	OptimizeQuality   int
	OptimizeFormat    string
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading from environment")
	}

	return &Config{
		Port:   getEnv("PORT", "3000"),
		AppEnv: getEnv("APP_ENV", "development"),

		StorageBackend: getEnv("STORAGE_BACKEND", "fs"),
		StorageRoot:    getEnv("STORAGE_ROOT", "./storage"),

		S3Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey: getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:    getEnv("S3_BUCKET", "cdn"),
		S3UseSSL:    getEnv("S3_USE_SSL", "false") == "true",

		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 50<<20),

		OptimizeMaxWidth:  getEnvInt("OPTIMIZE_MAX_WIDTH", 1920),
		OptimizeMaxHeight: getEnvInt("OPTIMIZE_MAX_HEIGHT", 1920),
		OptimizeQuality:   getEnvInt("OPTIMIZE_QUALITY", 85),
		OptimizeFormat:    getEnv("OPTIMIZE_FORMAT", "webp"),
	}
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("config: invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("config: invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}
