package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"marketchat/internal/logger"
)

type Config struct {
	DatabaseURL string
	Port        string
	Env         string
	AuthKey     string
	Host        string

	// RedisURL enables cross instance fan-out when set.
	RedisURL string

	UploadDir        string
	PublicBaseURL    string
	UploadSigningKey string
	UploadTTL        time.Duration

	// AllowedOrigins limits browser origins for CORS and the websocket
	// handshake. Empty allows any.
	AllowedOrigins []string
}

// ClientConfig drives the terminal client.
type ClientConfig struct {
	ServerURL string
	Token     string
	UserID    string
	UserName  string
	Room      string
}

func loadDotenv(log *logger.Logger) {
	log.Debug("attempting to load .env file")
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, relying on system environment variables")
		return
	}
	log.Info("loaded .env file")
}

func Load(log *logger.Logger) (*Config, error) {
	log = log.With("component", "CONFIG")
	loadDotenv(log)

	cfg := &Config{
		DatabaseURL:      getEnv(log, "DATABASE_URL", ""),
		Port:             getEnv(log, "PORT", "8080"),
		Env:              getEnv(log, "APP_ENV", "development"),
		AuthKey:          getEnv(log, "AUTH_KEY", ""),
		Host:             getEnv(log, "HOST", "localhost"),
		RedisURL:         getEnv(log, "REDIS_URL", ""),
		UploadDir:        getEnv(log, "UPLOAD_DIR", "./uploads"),
		PublicBaseURL:    getEnv(log, "PUBLIC_BASE_URL", ""),
		UploadSigningKey: getEnv(log, "UPLOAD_SIGNING_KEY", ""),
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://" + cfg.Host + ":" + cfg.Port
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	ttl, err := time.ParseDuration(getEnv(log, "UPLOAD_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("UPLOAD_TTL: %w", err)
	}
	cfg.UploadTTL = ttl

	for _, o := range strings.Split(getEnv(log, "ALLOWED_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	log.Info("environment", "env", cfg.Env, "port", cfg.Port)

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is missing")
	}
	log.Info("database url detected", "dsn", maskDBSource(cfg.DatabaseURL))

	if cfg.AuthKey == "" {
		return nil, errors.New("AUTH_KEY (JWT secret) is missing")
	}
	if cfg.UploadSigningKey == "" {
		log.Warn("UPLOAD_SIGNING_KEY not set, deriving it from AUTH_KEY")
		cfg.UploadSigningKey = cfg.AuthKey
	}
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL not set, running as a single instance")
	}
	return cfg, nil
}

func (c *Config) Production() bool { return c.Env == "production" }

func LoadClient(log *logger.Logger) (*ClientConfig, error) {
	log = log.With("component", "CONFIG")
	loadDotenv(log)

	cfg := &ClientConfig{
		ServerURL: strings.TrimRight(getEnv(log, "CHAT_SERVER_URL", "http://localhost:8080"), "/"),
		Token:     getEnv(log, "CHAT_TOKEN", ""),
		UserID:    getEnv(log, "CHAT_USER_ID", ""),
		UserName:  getEnv(log, "CHAT_USER_NAME", ""),
		Room:      getEnv(log, "CHAT_ROOM", ""),
	}
	if cfg.Token == "" {
		return nil, errors.New("CHAT_TOKEN is missing")
	}
	if cfg.UserID == "" {
		return nil, errors.New("CHAT_USER_ID is missing")
	}
	return cfg, nil
}

// WebsocketURL maps the server's http(s) base to its ws(s) endpoint.
func (c *ClientConfig) WebsocketURL() string {
	switch {
	case strings.HasPrefix(c.ServerURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.ServerURL, "https://") + "/ws"
	case strings.HasPrefix(c.ServerURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.ServerURL, "http://") + "/ws"
	}
	return c.ServerURL + "/ws"
}

func getEnv(log *logger.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		if strings.Contains(key, "KEY") || strings.Contains(key, "TOKEN") {
			log.Debug("variable not found, using default", "key", key)
		} else {
			log.Debug("variable not found, using default", "key", key, "default", defaultValue)
		}
		return defaultValue
	}
	return value
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[len(parts)-1]
}
