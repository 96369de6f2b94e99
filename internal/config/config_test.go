package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Host != "localhost" || cfg.MQTT.Port != 1883 {
		t.Errorf("unexpected broker %s:%d", cfg.MQTT.Host, cfg.MQTT.Port)
	}
	if cfg.MQTT.TopicPrefix != "home/veranda" {
		t.Errorf("TopicPrefix = %q", cfg.MQTT.TopicPrefix)
	}
	if got := cfg.MQTT.ReconnectDelay(); got != 5*time.Second {
		t.Errorf("ReconnectDelay() = %v", got)
	}
	if got := cfg.Scheduling.CheckInterval(); got != 30*time.Second {
		t.Errorf("CheckInterval() = %v", got)
	}
	if got := cfg.Safety.StaleAfter(); got != 10*time.Minute {
		t.Errorf("StaleAfter() = %v", got)
	}
	if cfg.Alarms.Capacity != 50 {
		t.Errorf("Alarms.Capacity = %d", cfg.Alarms.Capacity)
	}
	if cfg.Influx.Enabled() {
		t.Error("influx export should be disabled by default")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("mqtt:\n  host: broker.local\n  use_tls: true\n  port: 8883\nscheduling:\n  check_interval_seconds: 60\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OWC_MQTT_TOPIC_PREFIX", "garden")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.MQTT.BrokerURL(); got != "ssl://broker.local:8883" {
		t.Errorf("BrokerURL() = %q", got)
	}
	if cfg.Scheduling.CheckIntervalSeconds != 60 {
		t.Errorf("CheckIntervalSeconds = %d", cfg.Scheduling.CheckIntervalSeconds)
	}
	if cfg.MQTT.TopicPrefix != "garden" {
		t.Errorf("TopicPrefix = %q, want env override", cfg.MQTT.TopicPrefix)
	}
}

func TestValidateClampsSafetyInterval(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg.Safety.AutoStopCheckIntervalSeconds = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Safety.AutoStopCheckIntervalSeconds != 1 {
		t.Errorf("interval = %d, want 1", cfg.Safety.AutoStopCheckIntervalSeconds)
	}

	cfg.Scheduling.CheckIntervalSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero check interval")
	}
}
