package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"talbashan.ai/assistant/internal/logger"
)

type Config struct {
	GeminiAPIKey string
	DatabasePath string
	HTTPPort     string
	JWTSecret    string
	LessonsDir   string

	// Retrieval pipeline defaults, overridable per request.
	RetrieveTopK int
	RerankTopN   int
}

// Load reads configuration from the environment (and .env when present).
// The returned Config is passed explicitly into constructors; there is no
// package-level state.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, relying on environment variables")
	}

	cfg := &Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		DatabasePath: getEnv("DATABASE_PATH", "assistant.db"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		LessonsDir:   getEnv("LESSONS_DIR", "data/lessons"),
		RetrieveTopK: getEnvAsInt("RETRIEVE_TOP_K", 50),
		RerankTopN:   getEnvAsInt("RERANK_TOP_N", 8),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if cfg.RetrieveTopK <= 0 || cfg.RerankTopN <= 0 {
		return nil, fmt.Errorf("RETRIEVE_TOP_K and RERANK_TOP_N must be positive")
	}

	return cfg, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
