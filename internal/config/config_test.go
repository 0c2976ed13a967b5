package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEAKWATCH_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":5000" || cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "data.db" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Alert.PollInterval != 2*time.Second || cfg.Prefix() != "/api" {
		t.Fatalf("unexpected alert defaults %+v", cfg.Alert)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leakwatch.yaml")
	content := `
http_addr: ":8081"
api_prefix: "/v1/"
store:
  driver: postgres
  dsn: postgres://file
alert:
  poll_interval: 3s
  webhook_url: http://hooks.local/alert
  dedupe_window: 2m
mqtt:
  broker: tcp://broker:1883
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LEAKWATCH_CONFIG", path)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("ALERT_POLL_INTERVAL", "500ms")
	t.Setenv("INGEST_MAX_SKEW_SECONDS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8081" || cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://env" {
		t.Fatalf("unexpected store %+v addr=%s", cfg.Store, cfg.HTTPAddr)
	}
	if cfg.Alert.PollInterval != 500*time.Millisecond || cfg.Alert.WebhookURL != "http://hooks.local/alert" {
		t.Fatalf("unexpected alert %+v", cfg.Alert)
	}
	if cfg.Alert.DedupeWindow != 2*time.Minute {
		t.Fatalf("unexpected dedupe window %s", cfg.Alert.DedupeWindow)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.Topic != "leakwatch/readings" {
		t.Fatalf("unexpected mqtt %+v", cfg.MQTT)
	}
	if cfg.Ingest.MaxSkew != 30*time.Second || cfg.Prefix() != "/v1" {
		t.Fatalf("unexpected ingest %+v prefix=%s", cfg.Ingest, cfg.Prefix())
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":     {"DB_DRIVER": "oracle"},
		"bad duration":       {"ALERT_POLL_INTERVAL": "soon"},
		"zero poll interval": {"ALERT_POLL_INTERVAL": "0s"},
		"bad skew":           {"INGEST_MAX_SKEW_SECONDS": "-1"},
		"negative dedupe":    {"ALERT_DEDUPE_WINDOW": "-1m"},
		"relative prefix":    {"API_PREFIX": "api"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("LEAKWATCH_CONFIG", "")
			for key, value := range env {
				t.Setenv(key, value)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("LEAKWATCH_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate_MemoryNeedsNoDSN(t *testing.T) {
	cfg := Default()
	cfg.Store = StoreConfig{Driver: "memory"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.Store = StoreConfig{Driver: "mysql"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected DSN error")
	}
}
