package config

import (
	"fmt"
	"os"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string
	// BaseURL is the externally reachable origin used to build the
	// self-contained action URLs embedded in push payloads.
	BaseURL string
	// FCMServerKey authorizes the primary push gateway. When empty the
	// dispatcher degrades to a logging no-op instead of failing startup.
	FCMServerKey    string
	OneSignalAppID  string
	OneSignalAPIKey string
	LogLevel        string
	LogFormat       string
	DevMode         bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:      "8080", // default port
		LogLevel:  "info",
		LogFormat: "json",
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}

	// Push credentials are optional: visitor requests must stay creatable
	// and approvable even when push is unavailable.
	cfg.FCMServerKey = os.Getenv("FCM_SERVER_KEY")
	cfg.OneSignalAppID = os.Getenv("ONESIGNAL_APP_ID")
	cfg.OneSignalAPIKey = os.Getenv("ONESIGNAL_API_KEY")

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	return cfg, nil
}
