package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		t.Fatalf("embedded defaults do not parse: %v", err)
	}

	if cfg.Kafka.Topics.Visits == "" || cfg.Kafka.Topics.Suspicious == "" {
		t.Error("default settings are missing the core bus topics")
	}
	if len(cfg.Rules.PipelineRules) == 0 {
		t.Error("default settings enable no pipeline rules")
	}
	if len(cfg.Rules.MaliciousPaths) == 0 {
		t.Error("default settings carry no malicious path list")
	}
	if cfg.Kafka.DetectorTopic != "visitor-logs" {
		t.Errorf("detector topic = %q, want visitor-logs", cfg.Kafka.DetectorTopic)
	}
}

func TestSetConfigForTestsSwapsInMemory(t *testing.T) {
	t.Cleanup(func() { SetConfigForTests(Config{}) })

	var cfg Config
	cfg.Rules.VolumeThreshold = 123
	SetConfigForTests(cfg)

	if got := GetConfig().Rules.VolumeThreshold; got != 123 {
		t.Fatalf("VolumeThreshold = %d after SetConfigForTests", got)
	}
}

func TestDurationDefaults(t *testing.T) {
	var cfg Config

	if got := cfg.RetentionWindow(); got != 7*24*time.Hour {
		t.Errorf("RetentionWindow() = %v, want 7 days", got)
	}
	if got := cfg.SweepInterval(); got != time.Hour {
		t.Errorf("SweepInterval() = %v, want 1h", got)
	}
	if got := cfg.EnrichmentTimeout(); got != 2*time.Second {
		t.Errorf("EnrichmentTimeout() = %v, want 2s", got)
	}
	if got := cfg.EnrichmentCacheTTL(); got != 30*time.Minute {
		t.Errorf("EnrichmentCacheTTL() = %v, want 30m", got)
	}

	cfg.Blocklist.RetentionDays = 1
	cfg.Blocklist.SweepIntervalMins = 5
	cfg.Enrichment.TimeoutMs = 500
	if cfg.RetentionWindow() != 24*time.Hour || cfg.SweepInterval() != 5*time.Minute || cfg.EnrichmentTimeout() != 500*time.Millisecond {
		t.Error("explicit settings not honored")
	}
}
