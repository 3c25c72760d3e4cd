package config

import (
	"cmp"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Host           string
	Port           string
	DatabaseURL    string
	BaseURL        string
	MediaDir       string
	AdminCreds     string `json:"-"`
	JWTSecret      string `json:"-"`
	CodeLength     int
	CodeMaxRetries int
	LogLevel       string
	Debug          bool
}

// Load reads the configuration from the environment. A .env file in the
// working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Host:        cmp.Or(os.Getenv("HOST"), "localhost"),
		Port:        cmp.Or(os.Getenv("PORT"), "8080"),
		DatabaseURL: cmp.Or(os.Getenv("DATABASE_URL"), os.Getenv("DB_PATH"), "linked.db"),
		MediaDir:    cmp.Or(os.Getenv("MEDIA_DIR"), "media"),
		AdminCreds:  os.Getenv("ADMIN_CREDENTIALS"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		LogLevel:    cmp.Or(os.Getenv("LOG_LEVEL"), "info"),
		Debug:       os.Getenv("DEBUG") == "1",
	}
	cfg.BaseURL = strings.TrimRight(cmp.Or(os.Getenv("BASE_URL"), "http://"+cfg.Host+":"+cfg.Port), "/")

	var err error
	if cfg.CodeLength, err = intEnv("CODE_LENGTH", 6); err != nil {
		return Config{}, err
	}
	if cfg.CodeLength < 4 || cfg.CodeLength > 10 {
		return Config{}, fmt.Errorf("CODE_LENGTH must be between 4 and 10, got %d", cfg.CodeLength)
	}
	if cfg.CodeMaxRetries, err = intEnv("CODE_MAX_RETRIES", 10); err != nil {
		return Config{}, err
	}
	if cfg.CodeMaxRetries < 1 {
		return Config{}, fmt.Errorf("CODE_MAX_RETRIES must be positive, got %d", cfg.CodeMaxRetries)
	}

	if cfg.AdminCreds == "" {
		cfg.AdminCreds = "admin:admin"
		log.Warn().Msg("using default admin credentials - set ADMIN_CREDENTIALS for production")
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.AdminCreds
		log.Warn().Msg("using ADMIN_CREDENTIALS as JWT_SECRET - set JWT_SECRET for production")
	}

	return cfg, nil
}

func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

func intEnv(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
