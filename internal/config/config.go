// Package config reads process configuration from the environment and an
// optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"rexpro/internal/settings"
	"rexpro/internal/tuning"
)

type Config struct {
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Provider      string // "gemini" or "openai"
	DataDir       string
	Port          string
	LogFile       string
	LogLevel      string
	TuningDelay   time.Duration
	CarryOver     bool // THINKING_CARRY_OVER
}

// Load reads .env files when present, then the environment.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		logrus.WithError(err).Warn("could not load env file")
	}

	cfg := Config{
		GeminiAPIKey:  apiKey("GEMINI_API_KEY"),
		OpenAIAPIKey:  apiKey("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		Provider:      strings.ToLower(getenv("LLM_PROVIDER", "gemini")),
		DataDir:       getenv("DATA_DIR", "data"),
		Port:          getenv("PORT", "8080"),
		LogFile:       os.Getenv("LOG_FILE"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		TuningDelay:   tuning.DefaultDelay,
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = apiKey("API_KEY")
	}
	if v := os.Getenv("TUNING_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logrus.WithField("value", v).Warn("invalid TUNING_DELAY, using default")
		} else {
			cfg.TuningDelay = d
		}
	}
	if v := os.Getenv("THINKING_CARRY_OVER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logrus.WithField("value", v).Warn("invalid THINKING_CARRY_OVER, ignoring")
		}
		cfg.CarryOver = b
	}
	return cfg
}

// BaseSettings returns the default settings carrying the configured provider
// and keys. Saved settings are loaded over it.
func (c Config) BaseSettings() settings.Settings {
	s := settings.Defaults()
	s.Provider = c.Provider
	s.GeminiAPIKey = c.GeminiAPIKey
	s.OpenAIAPIKey = c.OpenAIAPIKey
	s.OpenAIBaseURL = c.OpenAIBaseURL
	return s
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiKey reads a key, ignoring the placeholders shipped in .env.example.
func apiKey(name string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if strings.HasPrefix(v, "your_") && strings.HasSuffix(v, "_here") {
		return ""
	}
	return v
}
