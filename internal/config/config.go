package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	CORSOrigin    string
	LogLevel      string

	// Identity provider (JWKS issuer).
	AuthDomain   string
	AuthAudience string
	AuthClientID string

	// Language-model provider.
	GeminiAPIKey string
	GeminiModel  string

	// Optional userinfo profile cache backend; empty means in-memory.
	RedisURL string

	UserinfoCacheSeconds int
}

// Load reads configuration from the environment once at startup. Absence of a
// required variable is fatal.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Addr:                 getenv("API_ADDR", ":8787"),
		DatabaseURL:          getenv("DATABASE_URL", ""),
		MigrationsDir:        getenv("MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:           getenv("CORS_ORIGIN", "*"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		AuthDomain:           getenv("AUTH_DOMAIN", ""),
		AuthAudience:         getenv("AUTH_AUDIENCE", ""),
		AuthClientID:         getenv("AUTH_CLIENT_ID", ""),
		GeminiAPIKey:         getenv("GEMINI_API_KEY", ""),
		GeminiModel:          getenv("GEMINI_MODEL", "gemini-1.5-flash"),
		RedisURL:             getenv("REDIS_URL", ""),
		UserinfoCacheSeconds: getenvInt("USERINFO_CACHE_SECONDS", 900),
	}

	for key, value := range map[string]string{
		"DATABASE_URL":   cfg.DatabaseURL,
		"AUTH_DOMAIN":    cfg.AuthDomain,
		"AUTH_AUDIENCE":  cfg.AuthAudience,
		"GEMINI_API_KEY": cfg.GeminiAPIKey,
	} {
		if value == "" {
			log.Fatalf("%s not set", key)
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
