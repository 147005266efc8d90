package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the process configuration. Values come from an optional YAML
// file, overridden by environment variables. A .env file is loaded first
// when present.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	HTTPAddr    string `yaml:"http_addr"`
	JWTSecret   string `yaml:"jwt_secret"`

	CloudBaseURL   string `yaml:"cloud_base_url"`
	CloudAccessKey string `yaml:"cloud_access_key"`
	CloudSecretKey string `yaml:"cloud_secret_key"`

	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`

	WebhookURL     string `yaml:"webhook_url"`
	WebhookChannel string `yaml:"webhook_channel"`

	PollInterval     time.Duration `yaml:"poll_interval"`
	SnapshotTTL      time.Duration `yaml:"snapshot_ttl"`
	ExtraBatteryTTL  time.Duration `yaml:"extra_battery_ttl"`
	HistoryRetention time.Duration `yaml:"history_retention"`
	NotifyTimeout    time.Duration `yaml:"notify_timeout"`
}

// Load assembles configuration. The file named by CONFIG_FILE is optional;
// environment variables always win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:         ":8080",
		PollInterval:     30 * time.Second,
		SnapshotTTL:      10 * time.Minute,
		ExtraBatteryTTL:  5 * time.Minute,
		HistoryRetention: 30 * 24 * time.Hour,
		NotifyTimeout:    5 * time.Second,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.DatabaseURL = getenvDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))
	cfg.CloudBaseURL = getenvDefault("CLOUD_BASE_URL", cfg.CloudBaseURL)
	cfg.CloudAccessKey = getenvDefault("CLOUD_ACCESS_KEY", cfg.CloudAccessKey)
	cfg.CloudSecretKey = getenvDefault("CLOUD_SECRET_KEY", cfg.CloudSecretKey)
	cfg.MQTTBroker = getenvDefault("MQTT_BROKER", cfg.MQTTBroker)
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", cfg.MQTTClientID)
	cfg.MQTTUsername = getenvDefault("MQTT_USERNAME", cfg.MQTTUsername)
	cfg.MQTTPassword = getenvDefault("MQTT_PASSWORD", cfg.MQTTPassword)
	cfg.WebhookURL = getenvDefault("NOTIFY_WEBHOOK_URL", cfg.WebhookURL)
	cfg.WebhookChannel = getenvDefault("NOTIFY_WEBHOOK_CHANNEL", cfg.WebhookChannel)
	cfg.PollInterval = getenvDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.SnapshotTTL = getenvDuration("SNAPSHOT_TTL", cfg.SnapshotTTL)
	cfg.ExtraBatteryTTL = getenvDuration("EXTRA_BATTERY_TTL", cfg.ExtraBatteryTTL)
	cfg.HistoryRetention = getenvDuration("HISTORY_RETENTION", cfg.HistoryRetention)
	cfg.NotifyTimeout = getenvDuration("NOTIFY_TIMEOUT", cfg.NotifyTimeout)

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("config: AUTH_JWT_SECRET is required")
	}
	if cfg.CloudBaseURL == "" {
		return cfg, errors.New("config: CLOUD_BASE_URL is required")
	}
	if cfg.PollInterval <= 0 {
		return cfg, errors.New("config: poll interval must be positive")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
