package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	Feeds struct {
		Timer   Timer        `json:"timer"`
		Sources []FeedSource `json:"sources"`
	} `json:"feeds"`

	Denylist struct {
		RemoteURL       string `json:"remote_url"`
		BasePath        string `json:"base_path"`
		OverridePath    string `json:"override_path"`
		MinContentBytes int    `json:"min_content_bytes"`
		FetchTimeout    uint32 `json:"fetch_timeout"` // seconds
		RefreshTimer    Timer  `json:"refresh_timer"`
		ReconcileTimer  Timer  `json:"reconcile_timer"`
	} `json:"denylist"`

	Reconciler struct {
		PageSize          int64    `json:"page_size"`
		PagePauseMillis   uint32   `json:"page_pause_ms"`
		SentinelAddresses []string `json:"sentinel_addresses"`
		ResyncTotals      bool     `json:"resync_totals"`
	} `json:"reconciler"`

	BlockedHosts []string `json:"blocked_hosts"`
}

// FeedSource describes one public threat feed. Kind selects the parser:
// "plain", "scored" or "csv".
type FeedSource struct {
	Name          string  `json:"name"`
	URL           string  `json:"url"`
	Kind          string  `json:"kind"`
	Timeout       uint32  `json:"timeout"` // seconds
	Threshold     float64 `json:"threshold,omitempty"`
	TypeMarker    string  `json:"type_marker,omitempty"`
	AddressColumn int     `json:"address_column,omitempty"`
	Disabled      bool    `json:"disabled,omitempty"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex
)

func init() {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		log.Error("Error unmarshalling embedded default settings", "error", err)
	}
	configValue.Store(cfg)
	applyIntervals(cfg)
	updateBlockedHosts(cfg.BlockedHosts)
}

// DefaultConfig returns the embedded defaults.
func DefaultConfig() Config {
	var cfg Config
	_ = json.Unmarshal(defaultConfig, &cfg)
	return cfg
}

func settingsFilePath() string {
	if path := os.Getenv("SETTINGS_FILE"); path != "" {
		return path
	}
	return defaultSettingsFilePath
}

func ReadSettings() {
	path := settingsFilePath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration", "path", path)

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				log.Error("Error creating directory for settings file", "error", err)
				return
			}
			if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
				log.Error("Error writing default settings file", "error", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file", "error", err)
			return
		}
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file", "error", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
		return
	}

	log.Debug("Settings file loaded successfully", "path", path)
}

func SetConfig(newConfig Config) error {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update", "error", err)
		return err
	}

	log.Debug("Configuration updated and written to file successfully")
	return nil
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	applyIntervals(newConfig)
	updateBlockedHosts(newConfig.BlockedHosts)

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, err)
		} else if err := os.WriteFile(settingsFilePath(), data, 0o644); err != nil {
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			errs = append(errs, err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			errs = append(errs, err)
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	} else {
		log.Debug("Configuration applied")
	}

	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}
