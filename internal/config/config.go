package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	Esign     EsignConfig     `json:"esign"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Storage   StorageConfig   `json:"storage"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Environment string `json:"environment"`
}

type EsignConfig struct {
	WebhookSecret  string `json:"webhook_secret"`
	SigningBaseURL string `json:"signing_base_url"`
	ArtifactKey    string `json:"artifact_key"`
	AllowedOrigins string `json:"allowed_origins"`
}

// Production reports the canonical environment. It gates both the logger
// encoder and the webhook fail-closed behavior; there is deliberately no
// second environment knob to disagree with this one.
func (c *Configuration) Production() bool {
	return c.Logging.Environment == "production"
}

type RateLimitConfig struct {
	// View and submit use separate budgets per client IP per window;
	// the webhook ingress has its own.
	ViewPerMinute    int    `json:"view_per_minute"`
	SubmitPerMinute  int    `json:"submit_per_minute"`
	WebhookPerMinute int    `json:"webhook_per_minute"`
	RedisAddr        string `json:"redis_addr"`
	RedisPassword    string `json:"redis_password"`
	RedisDB          int    `json:"redis_db"`
}

type StorageConfig struct {
	BlobRoot string `json:"blob_root"`

	// EscrowRoot holds at-rest access credentials and must never point
	// inside BlobRoot.
	EscrowRoot string `json:"escrow_root"`
}

// LoadConfig reads a JSON configuration file and fills defaults.
func LoadConfig(filePath string) (*Configuration, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := &Configuration{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// InitializeDefaultConfig builds the configuration from defaults plus
// environment overrides; used when no config file is supplied.
func InitializeDefaultConfig() *Configuration {
	cfg := &Configuration{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Configuration) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == "" {
		c.Database.Port = "5432"
	}
	if c.Database.Username == "" {
		c.Database.Username = "postgres"
	}
	if c.Database.Name == "" {
		c.Database.Name = "esign"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 300
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "development"
	}

	if c.Esign.SigningBaseURL == "" {
		c.Esign.SigningBaseURL = "http://localhost:" + c.Server.Port
	}

	if c.RateLimit.ViewPerMinute == 0 {
		c.RateLimit.ViewPerMinute = 60
	}
	if c.RateLimit.SubmitPerMinute == 0 {
		c.RateLimit.SubmitPerMinute = 12
	}
	if c.RateLimit.WebhookPerMinute == 0 {
		c.RateLimit.WebhookPerMinute = 300
	}

	if c.Storage.BlobRoot == "" {
		c.Storage.BlobRoot = "data/blobs"
	}
	if c.Storage.EscrowRoot == "" {
		c.Storage.EscrowRoot = "data/escrow"
	}
}

func (c *Configuration) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Logging.Environment = v
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		c.Database.Port = v
	}
	if v := os.Getenv("DATABASE_USER"); v != "" {
		c.Database.Username = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DATABASE_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("ESIGN_WEBHOOK_SECRET"); v != "" {
		c.Esign.WebhookSecret = v
	}
	if v := os.Getenv("ESIGN_ARTIFACT_KEY"); v != "" {
		c.Esign.ArtifactKey = v
	}
	if v := os.Getenv("ESIGN_SIGNING_BASE_URL"); v != "" {
		c.Esign.SigningBaseURL = v
	}
	if v := os.Getenv("ESIGN_ALLOWED_ORIGINS"); v != "" {
		c.Esign.AllowedOrigins = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RateLimit.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RateLimit.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RedisDB = db
		}
	}
	if v := os.Getenv("BLOB_ROOT"); v != "" {
		c.Storage.BlobRoot = v
	}
	if v := os.Getenv("ESCROW_ROOT"); v != "" {
		c.Storage.EscrowRoot = v
	}
}

// LogConfig logs the effective configuration with secrets redacted.
func LogConfig(cfg *Configuration, logger *zap.Logger) {
	logger.Info("application configuration",
		zap.String("port", cfg.Server.Port),
		zap.Duration("read_timeout", cfg.Server.ReadTimeout),
		zap.Duration("write_timeout", cfg.Server.WriteTimeout),
		zap.String("environment", cfg.Logging.Environment),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Name),
		zap.Bool("webhook_secret_set", cfg.Esign.WebhookSecret != ""),
		zap.Bool("artifact_key_set", cfg.Esign.ArtifactKey != ""),
		zap.String("signing_base_url", cfg.Esign.SigningBaseURL),
		zap.Int("view_per_minute", cfg.RateLimit.ViewPerMinute),
		zap.Int("submit_per_minute", cfg.RateLimit.SubmitPerMinute),
		zap.Bool("redis_enabled", cfg.RateLimit.RedisAddr != ""),
		zap.String("blob_root", cfg.Storage.BlobRoot),
		zap.String("escrow_root", cfg.Storage.EscrowRoot),
	)
}
