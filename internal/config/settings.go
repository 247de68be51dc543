package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

type Config struct {
	Ingest struct {
		AccessLogPath     string `json:"access_log_path"`
		Workers           int    `json:"workers"`
		DrainGraceSeconds int    `json:"drain_grace_seconds"`
	} `json:"ingest"`

	Enrichment struct {
		Endpoint        string `json:"endpoint"`
		APIKey          string `json:"api_key"`
		TimeoutMs       uint32 `json:"timeout_ms"`
		CacheTTLMinutes uint32 `json:"cache_ttl_minutes"`
		CityDBPath      string `json:"city_db_path"`
		ASNDBPath       string `json:"asn_db_path"`
	} `json:"enrichment"`

	Rules struct {
		PipelineRules     []string `json:"pipeline_rules"`
		DetectorRules     []string `json:"detector_rules"`
		MaliciousPaths    []string `json:"malicious_paths"`
		AllowedIPs        []string `json:"allowed_ips"`
		FlaggedCountries  []string `json:"flagged_countries"`
		HostingKeywords   []string `json:"hosting_keywords"`
		AgentPattern      string   `json:"agent_pattern"`
		NotFoundThreshold int      `json:"not_found_threshold"`
		VolumeThreshold   int      `json:"volume_threshold"`
	} `json:"rules"`

	Blocklist struct {
		RetentionDays     uint32 `json:"retention_days"`
		Enforce           bool   `json:"enforce"`
		SweepIntervalMins uint32 `json:"sweep_interval_minutes"`
	} `json:"blocklist"`

	Kafka struct {
		Brokers  string `json:"brokers"`
		ClientID string `json:"client_id"`
		Topics   struct {
			Visits      string `json:"visits"`
			Suspicious  string `json:"suspicious"`
			Leads       string `json:"leads"`
			Deployments string `json:"deployments"`
		} `json:"topics"`
		// DetectorTopic is the visit-stream topic the anomaly detector
		// subscribes to. The origin system listened on "visitor-logs" while
		// the pipeline publishes to "visits"; the default keeps that value
		// until the intended topic is confirmed.
		DetectorTopic string `json:"detector_topic"`
		DetectorGroup string `json:"detector_group"`
		RelayGroup    string `json:"relay_group"`
	} `json:"kafka"`
}

// RetentionWindow is how long a temporary block survives before the sweep
// removes it.
func (c Config) RetentionWindow() time.Duration {
	days := c.Blocklist.RetentionDays
	if days == 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c Config) SweepInterval() time.Duration {
	mins := c.Blocklist.SweepIntervalMins
	if mins == 0 {
		mins = 60
	}
	return time.Duration(mins) * time.Minute
}

func (c Config) EnrichmentTimeout() time.Duration {
	ms := c.Enrichment.TimeoutMs
	if ms == 0 {
		ms = 2000
	}
	return time.Duration(ms) * time.Millisecond
}

func (c Config) EnrichmentCacheTTL() time.Duration {
	mins := c.Enrichment.CacheTTLMinutes
	if mins == 0 {
		mins = 30
	}
	return time.Duration(mins) * time.Minute
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	configValue.Store(Config{})
}

// ReadSettings loads data/settings.json, creating it from the embedded
// defaults when missing. Invalid settings leave the previous configuration in
// place rather than aborting.
func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			if err := os.MkdirAll("data", os.ModePerm); err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}
			if err := os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm); err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}
			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	applyConfigUpdate(newConfig, false)
	log.Debug("Settings file loaded successfully")
}

// SetConfig applies a new configuration, persists it to the settings file
// and broadcasts it to the other instances when redis synchronization is on.
func SetConfig(newConfig Config) {
	applyConfigUpdate(newConfig, true)

	if payload, err := json.Marshal(newConfig); err != nil {
		log.Error("Error serializing configuration for broadcast:", err)
	} else if err := broadcastConfigUpdate(payload); err != nil {
		log.Error("Error broadcasting configuration update:", err)
	}

	log.Debug("Configuration updated and written to file")
}

// SetConfigForTests swaps the in-memory configuration without touching the
// settings file.
func SetConfigForTests(newConfig Config) {
	applyConfigUpdate(newConfig, false)
}

func applyConfigUpdate(newConfig Config, persistToFile bool) {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)

	if !persistToFile {
		return
	}

	data, err := json.MarshalIndent(newConfig, "", "  ")
	if err != nil {
		log.Error("Error marshalling new configuration:", err)
		return
	}
	if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
		log.Error("Error writing new configuration to file:", err)
	}
}

func GetConfig() Config {
	// Get the current Config atomically
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
