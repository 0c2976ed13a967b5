package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process configuration.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	APIPrefix string `yaml:"api_prefix"`
	Asset     string `yaml:"asset"`

	Store  StoreConfig  `yaml:"store"`
	Alert  AlertConfig  `yaml:"alert"`
	NATS   NATSConfig   `yaml:"nats"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Redis  RedisConfig  `yaml:"redis"`
	Auth   AuthConfig   `yaml:"auth"`
	Ingest IngestConfig `yaml:"ingest"`
}

// StoreConfig selects the reading store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AlertConfig drives the alert controller and its webhook notifier.
type AlertConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	TickTimeout    time.Duration `yaml:"tick_timeout"`
	WebhookURL     string        `yaml:"webhook_url"`
	NotifyTemplate string        `yaml:"notify_template"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout"`
	Cooldown       time.Duration `yaml:"cooldown"`
	DedupeWindow   time.Duration `yaml:"dedupe_window"`
	Reminder       time.Duration `yaml:"reminder"`
}

// NATSConfig enables alert event publishing.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// MQTTConfig enables the MQTT uplink.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// RedisConfig enables the Redis list uplink.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// AuthConfig enables operator auth on dismiss.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// IngestConfig enables HMAC signatures on uplink posts.
type IngestConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	MaxSkew    time.Duration `yaml:"max_skew"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:  ":5000",
		APIPrefix: "/api",
		Asset:     "pipeline",
		Store:     StoreConfig{Driver: "sqlite", DSN: "data.db"},
		Alert: AlertConfig{
			PollInterval:  2 * time.Second,
			TickTimeout:   5 * time.Second,
			NotifyTimeout: 5 * time.Second,
		},
		NATS:   NATSConfig{Subject: "leakwatch.alerts"},
		MQTT:   MQTTConfig{Topic: "leakwatch/readings", ClientID: "leakwatch"},
		Redis:  RedisConfig{Key: "leakwatch:readings"},
		Ingest: IngestConfig{MaxSkew: 5 * time.Minute},
	}
}

// Load builds defaults, overlays the YAML file named by LEAKWATCH_CONFIG and
// then environment variables, and validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("LEAKWATCH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.APIPrefix, "API_PREFIX")
	setString(&cfg.Asset, "ASSET_NAME")
	setString(&cfg.Store.Driver, "DB_DRIVER")
	setString(&cfg.Store.DSN, "DATABASE_URL")
	setString(&cfg.Alert.WebhookURL, "ALERT_WEBHOOK_URL")
	setString(&cfg.Alert.NotifyTemplate, "ALERT_NOTIFY_TEMPLATE")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Subject, "NATS_SUBJECT")
	setString(&cfg.MQTT.Broker, "MQTT_BROKER")
	setString(&cfg.MQTT.Topic, "MQTT_TOPIC")
	setString(&cfg.MQTT.ClientID, "MQTT_CLIENT_ID")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Redis.Key, "REDIS_KEY")
	setString(&cfg.Auth.JWTSecret, "AUTH_JWT_SECRET")
	setString(&cfg.Ingest.HMACSecret, "INGEST_HMAC_SECRET")

	for key, target := range map[string]*time.Duration{
		"ALERT_POLL_INTERVAL":  &cfg.Alert.PollInterval,
		"ALERT_TICK_TIMEOUT":   &cfg.Alert.TickTimeout,
		"ALERT_NOTIFY_TIMEOUT": &cfg.Alert.NotifyTimeout,
		"ALERT_COOLDOWN":       &cfg.Alert.Cooldown,
		"ALERT_DEDUPE_WINDOW":  &cfg.Alert.DedupeWindow,
		"ALERT_REMINDER":       &cfg.Alert.Reminder,
	} {
		if err := setDuration(target, key); err != nil {
			return err
		}
	}
	if value := os.Getenv("INGEST_MAX_SKEW_SECONDS"); value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds < 0 {
			return fmt.Errorf("config: INGEST_MAX_SKEW_SECONDS must be a non-negative integer")
		}
		cfg.Ingest.MaxSkew = time.Duration(seconds) * time.Second
	}
	if value := os.Getenv("REDIS_DB"); value != "" {
		db, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: REDIS_DB must be an integer")
		}
		cfg.Redis.DB = db
	}
	return nil
}

// Validate rejects configurations the process cannot run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres", "mysql":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("config: DATABASE_URL is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.Store.Driver)
	}
	if c.Alert.PollInterval <= 0 {
		return errors.New("config: ALERT_POLL_INTERVAL must be positive")
	}
	if c.Alert.TickTimeout < 0 || c.Alert.NotifyTimeout < 0 || c.Alert.Cooldown < 0 || c.Alert.DedupeWindow < 0 || c.Alert.Reminder < 0 {
		return errors.New("config: alert durations must not be negative")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR is required")
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return errors.New("config: API_PREFIX must start with /")
	}
	return nil
}

// Prefix returns the API prefix without a trailing slash.
func (c Config) Prefix() string {
	return strings.TrimRight(c.APIPrefix, "/")
}

func setString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func setDuration(target *time.Duration, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = parsed
	return nil
}
