package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"enviobox/internal/legacy"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

const defaultMaxUploadBytes = 10 << 20 // 10MB upload cap for legacy exports

// FileConfig represents configuration loaded from YAML. Secrets can be
// overridden through environment variables for containerized deployments.
type FileConfig struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseURL"`
	LogLevel    string `yaml:"logLevel"`

	JWTSecret string `yaml:"jwtSecret"`
	TokenTTL  string `yaml:"tokenTTL"`

	MaxUploadBytes int64 `yaml:"maxUploadBytes"`

	RedisAddr               string `yaml:"redisAddr"`
	RedisPassword           string `yaml:"redisPassword"`
	ClaimRateLimitPerMinute int    `yaml:"claimRateLimitPerMinute"`
	ClaimMaxFailuresPerBox  int    `yaml:"claimMaxFailuresPerBox"`
	ClaimFailureWindow      string `yaml:"claimFailureWindow"`

	TrustedProxies []string `yaml:"trustedProxies"`

	Minio MinioConfig `yaml:"minio"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	Import ImportConfig `yaml:"import"`
}

// MinioConfig configures the optional export archive.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// ImportConfig tunes the bulk importer.
type ImportConfig struct {
	// FallbackLayout overrides the positional column mapping used for the
	// headerless wide export. The built-in default matches the old system's
	// known files; set this when a different export generation shows up.
	FallbackLayout *legacy.WideLayout `yaml:"fallbackLayout"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("CLAIM_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClaimRateLimitPerMinute = n
		}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	if cfg.ClaimRateLimitPerMinute < 0 || cfg.ClaimMaxFailuresPerBox < 0 {
		return errors.New("config: claim limits must be >= 0")
	}
	if cfg.ClaimRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when claim rate limiting is enabled")
	}
	return nil
}

// ParseTokenTTL parses the optional token TTL duration string.
// Empty means the default 7-day window.
func ParseTokenTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid tokenTTL duration: %w", err)
	}
	return dur, nil
}

// ParseClaimFailureWindow parses the optional claim guard window.
func ParseClaimFailureWindow(windowStr string) (time.Duration, error) {
	if windowStr == "" {
		return 15 * time.Minute, nil
	}
	dur, err := time.ParseDuration(windowStr)
	if err != nil {
		return 0, fmt.Errorf("invalid claimFailureWindow duration: %w", err)
	}
	return dur, nil
}
