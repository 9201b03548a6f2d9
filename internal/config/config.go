package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	AWS       AWSConfig       `yaml:"aws"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Presence  PresenceConfig  `yaml:"presence"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Messaging MessagingConfig `yaml:"messaging"`
	Push      PushConfig      `yaml:"push"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// AWSConfig holds S3 configuration for attachment storage
type AWSConfig struct {
	Region     string `yaml:"region"`
	S3Bucket   string `yaml:"s3_bucket"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Endpoint   string `yaml:"endpoint"`    // S3-compatible endpoint, empty for AWS
	DisableSSL bool   `yaml:"disable_ssl"` // plain HTTP for local MinIO
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// PresenceConfig holds the two activity thresholds. OnlineThreshold must be
// strictly below RecentThreshold.
type PresenceConfig struct {
	OnlineThreshold time.Duration `yaml:"online_threshold"`
	RecentThreshold time.Duration `yaml:"recent_threshold"`
}

// CryptoConfig holds message encryption keys. Keys are base64 encoded 32 byte
// values; retired keys are only used for decryption.
type CryptoConfig struct {
	KeyID       uint8            `yaml:"key_id"`
	Key         string           `yaml:"key"`
	RetiredKeys map[uint8]string `yaml:"retired_keys"`
}

// MessagingConfig holds message store policy
type MessagingConfig struct {
	FriendsOnly    bool  `yaml:"friends_only"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// PushConfig holds APNs configuration. Push is disabled when CertFile is empty.
type PushConfig struct {
	CertFile     string `yaml:"cert_file"`
	CertPassword string `yaml:"cert_password"`
	Topic        string `yaml:"topic"`
	Production   bool   `yaml:"production"`
}

// RateLimitConfig holds per-user request limits for write endpoints
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every optional value filled in
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		JWT: JWTConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		Presence: PresenceConfig{
			OnlineThreshold: 5 * time.Minute,
			RecentThreshold: time.Hour,
		},
		Crypto: CryptoConfig{
			KeyID: 1,
		},
		Messaging: MessagingConfig{
			FriendsOnly:    true,
			MaxUploadBytes: 16 << 20,
		},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Crypto.Key == "" {
		return fmt.Errorf("crypto.key is required")
	}
	if c.Presence.OnlineThreshold <= 0 || c.Presence.RecentThreshold <= 0 {
		return fmt.Errorf("presence thresholds must be positive")
	}
	if c.Presence.OnlineThreshold >= c.Presence.RecentThreshold {
		return fmt.Errorf("presence.online_threshold (%s) must be below presence.recent_threshold (%s)",
			c.Presence.OnlineThreshold, c.Presence.RecentThreshold)
	}
	if _, ok := c.Crypto.RetiredKeys[c.Crypto.KeyID]; ok {
		return fmt.Errorf("crypto.key_id %d is also listed in crypto.retired_keys", c.Crypto.KeyID)
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Enabled reports whether S3 attachment storage is configured
func (c *AWSConfig) Enabled() bool {
	return c.S3Bucket != ""
}

// Enabled reports whether APNs push is configured
func (c *PushConfig) Enabled() bool {
	return c.CertFile != ""
}
