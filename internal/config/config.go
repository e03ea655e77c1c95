// Package config loads layered configuration: baked-in defaults, a
// global user file, a project file, then CLI overrides, highest wins.
// Files are JSONC; comments and trailing commas are allowed.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrBadWorkload        = errors.New("workload profile must be 1-4")
	ErrBadInterval        = errors.New("interval must be positive")
	ErrBadRateLimit       = errors.New("rate limit must be positive")
)

// ConfigFileName is the project-local config file.
const ConfigFileName = ".hashwrap.json"

// Config holds all options the engine and CLI read.
type Config struct {
	// From config files (serialized)
	SessionsRoot       string   `json:"sessions_root,omitempty"`
	CrackerBinary      string   `json:"cracker_binary,omitempty"`
	ExtraRoots         []string `json:"extra_roots,omitempty"`
	MaxFileSizeMB      int64    `json:"max_file_size_mb,omitempty"`
	StreamingMB        int64    `json:"streaming_threshold_mb,omitempty"`
	Workload           int      `json:"workload,omitempty"`
	CheckpointInterval string   `json:"checkpoint_interval,omitempty"`
	WatchInterval      string   `json:"watch_interval,omitempty"`
	OpsPerMinute       int      `json:"ops_per_minute,omitempty"`
	IngestionDir       string   `json:"ingestion_dir,omitempty"`
	LogLevel           string   `json:"log_level,omitempty"`
	LogJSON            bool     `json:"log_json,omitempty"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd    string `json:"-"`
	SessionsRootAbs string `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
}

// DefaultConfig returns the baked-in defaults.
func DefaultConfig() Config {
	return Config{
		SessionsRoot:       filepath.Join("~", ".hashwrap", "sessions"),
		CrackerBinary:      "hashcat",
		Workload:           3,
		CheckpointInterval: "60s",
		WatchInterval:      "5s",
		OpsPerMinute:       600,
		LogLevel:           "info",
	}
}

// CheckpointEvery parses the checkpoint interval.
func (c Config) CheckpointEvery() time.Duration {
	d, err := time.ParseDuration(c.CheckpointInterval)
	if err != nil {
		return 60 * time.Second
	}

	return d
}

// WatchEvery parses the watch poll interval.
func (c Config) WatchEvery() time.Duration {
	d, err := time.ParseDuration(c.WatchInterval)
	if err != nil {
		return 5 * time.Second
	}

	return d
}

// globalConfigPath resolves $XDG_CONFIG_HOME/hashwrap/config.json,
// falling back to ~/.config/hashwrap/config.json.
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "hashwrap", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "hashwrap", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // if empty, os.Getwd() is used
	ConfigPath      string            // explicit --config value
	Overrides       Config            // nonzero fields win over files
	Env             map[string]string // environment variables
}

// Load resolves the full precedence chain and validates the result.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	if path := globalConfigPath(input.Env); path != "" {
		fileCfg, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path
			cfg = merge(cfg, fileCfg)
		}
	}

	projectCfg, projectPath, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	if projectPath != "" {
		cfg.Sources.Project = projectPath
		cfg = merge(cfg, projectCfg)
	}

	cfg = merge(cfg, input.Overrides)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir
	cfg.SessionsRootAbs = resolveHome(cfg.SessionsRoot, input.Env)

	if !filepath.IsAbs(cfg.SessionsRootAbs) {
		cfg.SessionsRootAbs = filepath.Join(workDir, cfg.SessionsRootAbs)
	}

	return cfg, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	if configPath != "" {
		path := configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		if _, err := os.Stat(path); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}

		cfg, _, err := loadFile(path, true)

		return cfg, path, err
	}

	path := filepath.Join(workDir, ConfigFileName)

	cfg, loaded, err := loadFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}

		return Config{}, false, nil
	}

	cfg, parseErr := parse(data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, parseErr)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.SessionsRoot != "" {
		base.SessionsRoot = overlay.SessionsRoot
	}

	if overlay.CrackerBinary != "" {
		base.CrackerBinary = overlay.CrackerBinary
	}

	if len(overlay.ExtraRoots) > 0 {
		base.ExtraRoots = overlay.ExtraRoots
	}

	if overlay.MaxFileSizeMB > 0 {
		base.MaxFileSizeMB = overlay.MaxFileSizeMB
	}

	if overlay.StreamingMB > 0 {
		base.StreamingMB = overlay.StreamingMB
	}

	if overlay.Workload > 0 {
		base.Workload = overlay.Workload
	}

	if overlay.CheckpointInterval != "" {
		base.CheckpointInterval = overlay.CheckpointInterval
	}

	if overlay.WatchInterval != "" {
		base.WatchInterval = overlay.WatchInterval
	}

	if overlay.OpsPerMinute > 0 {
		base.OpsPerMinute = overlay.OpsPerMinute
	}

	if overlay.IngestionDir != "" {
		base.IngestionDir = overlay.IngestionDir
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.LogJSON {
		base.LogJSON = true
	}

	return base
}

func validate(cfg Config) error {
	if cfg.Workload < 1 || cfg.Workload > 4 {
		return fmt.Errorf("%w: got %d", ErrBadWorkload, cfg.Workload)
	}

	if _, err := time.ParseDuration(cfg.CheckpointInterval); err != nil {
		return fmt.Errorf("%w: checkpoint_interval %q", ErrBadInterval, cfg.CheckpointInterval)
	}

	if _, err := time.ParseDuration(cfg.WatchInterval); err != nil {
		return fmt.Errorf("%w: watch_interval %q", ErrBadInterval, cfg.WatchInterval)
	}

	if cfg.OpsPerMinute <= 0 {
		return fmt.Errorf("%w: got %d", ErrBadRateLimit, cfg.OpsPerMinute)
	}

	return nil
}

func resolveHome(path string, env map[string]string) string {
	if len(path) >= 2 && path[0] == '~' && os.IsPathSeparator(path[1]) {
		if home := env["HOME"]; home != "" {
			return filepath.Join(home, path[2:])
		}
	}

	return path
}
