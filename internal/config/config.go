// Package config defines all configuration for bookguard. Config starts from
// Default(), optionally merges a YAML file given by path, and lets fields be
// overridden via BOOKGUARD_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Symbols   []string        `mapstructure:"symbols"`
	Depth     int             `mapstructure:"depth"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Replay    ReplayConfig    `mapstructure:"replay"`
	Record    RecordConfig    `mapstructure:"record"`
	Store     StoreConfig     `mapstructure:"store"`
	Health    HealthConfig    `mapstructure:"health"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// FeedConfig points at the live vendor endpoints.
type FeedConfig struct {
	WSURL       string `mapstructure:"ws_url"`
	RESTBaseURL string `mapstructure:"rest_base_url"`
}

// ReplayConfig controls offline replay from a recorded NDJSON log.
//
//   - InputPath: path to the recorded frame log.
//   - Speed: pacing multiplier; 0 means "as fast as possible", 1.0 means
//     realtime.
type ReplayConfig struct {
	InputPath string  `mapstructure:"input_path"`
	Speed     float64 `mapstructure:"speed"`
}

// RecordConfig controls where live frames are archived for later replay.
type RecordConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// StoreConfig controls on-disk persistence of instrument descriptors, so a
// restarted session can verify checksums before the vendor re-sends them.
// An empty Dir disables persistence.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// HealthConfig tunes the background health monitor.
//
//   - PollInterval: how often Monitor re-evaluates every tracked symbol.
//   - BundleDir: directory incident bundles are written to on export.
//   - GlobalRingCapacity / SymbolRingCapacity: frame ring buffer sizes.
type HealthConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	BundleDir          string        `mapstructure:"bundle_dir"`
	GlobalRingCapacity int           `mapstructure:"global_ring_capacity"`
	SymbolRingCapacity int           `mapstructure:"symbol_ring_capacity"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the observability HTTP/WebSocket server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// depthTiers lists the vendor's published depth tiers; NormalizeDepth maps a
// requested depth to the nearest tier at or above it.
var depthTiers = []int{10, 25, 100, 500, 1000}

// NormalizeDepth rounds depth up to the nearest supported tier, clamping to
// the largest tier if depth exceeds it.
func NormalizeDepth(depth int) int {
	for _, tier := range depthTiers {
		if depth <= tier {
			return tier
		}
	}
	return depthTiers[len(depthTiers)-1]
}

// Default returns a Config with the non-zero defaults this system ships
// with, before a config file or env vars are applied.
func Default() Config {
	return Config{
		Depth: 10,
		Feed: FeedConfig{
			WSURL:       "wss://example.invalid/ws",
			RESTBaseURL: "https://example.invalid/api",
		},
		Replay: ReplayConfig{Speed: 1.0},
		Record: RecordConfig{Path: "frames.ndjson"},
		Store:  StoreConfig{Dir: "state"},
		Health: HealthConfig{
			PollInterval:       time.Second,
			BundleDir:          "incidents",
			GlobalRingCapacity: 1000,
			SymbolRingCapacity: 2000,
		},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Dashboard: DashboardConfig{Enabled: true, Port: 8080},
	}
}

// Load reads config from a YAML file with BOOKGUARD_* env var overrides.
// path may be empty, in which case Default() is returned with only env
// overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	cfg := Default()
	if err := v.MergeConfigMap(structToMap(cfg)); err != nil {
		return nil, fmt.Errorf("config: seed defaults: %w", err)
	}

	v.SetEnvPrefix("BOOKGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	out.Depth = NormalizeDepth(out.Depth)
	return &out, nil
}

// structToMap gives viper a default layer to merge the file/env layers on
// top of, matching the field names Unmarshal expects via mapstructure tags.
func structToMap(cfg Config) map[string]interface{} {
	return map[string]interface{}{
		"symbols": cfg.Symbols,
		"depth":   cfg.Depth,
		"feed": map[string]interface{}{
			"ws_url":        cfg.Feed.WSURL,
			"rest_base_url": cfg.Feed.RESTBaseURL,
		},
		"replay": map[string]interface{}{
			"input_path": cfg.Replay.InputPath,
			"speed":      cfg.Replay.Speed,
		},
		"record": map[string]interface{}{
			"enabled": cfg.Record.Enabled,
			"path":    cfg.Record.Path,
		},
		"store": map[string]interface{}{
			"dir": cfg.Store.Dir,
		},
		"health": map[string]interface{}{
			"poll_interval":        cfg.Health.PollInterval,
			"bundle_dir":           cfg.Health.BundleDir,
			"global_ring_capacity": cfg.Health.GlobalRingCapacity,
			"symbol_ring_capacity": cfg.Health.SymbolRingCapacity,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"dashboard": map[string]interface{}{
			"enabled":         cfg.Dashboard.Enabled,
			"port":            cfg.Dashboard.Port,
			"allowed_origins": cfg.Dashboard.AllowedOrigins,
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols: at least one symbol is required")
	}
	if c.Depth <= 0 {
		return fmt.Errorf("depth must be > 0")
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in 1-65535 when dashboard.enabled is true")
	}
	if c.Health.PollInterval <= 0 {
		return fmt.Errorf("health.poll_interval must be > 0")
	}
	return nil
}
