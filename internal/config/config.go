// Package config loads the TOML user configuration and maps it onto the
// session manager, the completion detector and the logging system.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alex/claudepilot/internal/detect"
	"github.com/alex/claudepilot/internal/logging"
)

// FileName is the TOML config file inside the claudepilot directory.
const FileName = "config.toml"

// DefaultRuntimeDir is where completion sentinels live. The hook handler and
// the detector must agree on it, so it is shared state on disk rather than
// process state.
const DefaultRuntimeDir = "/tmp/claude-code-manager"

// Config is the user-facing configuration.
type Config struct {
	// Command launches the assistant in new sessions.
	Command string `toml:"command"`

	// TimeoutSecs is the default wait budget for completion detection.
	TimeoutSecs int `toml:"timeout_secs"`

	// SettleSecs is how long to wait after session creation before the
	// initial message is delivered.
	SettleSecs int `toml:"settle_secs"`

	// SubmitDelayMs is the pause between injected text and the execute
	// keystroke.
	SubmitDelayMs int `toml:"submit_delay_ms"`

	// RuntimeDir holds per-session completion sentinels.
	RuntimeDir string `toml:"runtime_dir"`

	// ClaudeConfigDir is where the assistant keeps settings.json for hook
	// installation. Empty means ~/.claude.
	ClaudeConfigDir string `toml:"claude_config_dir"`

	// Detection tunes the completion detector's intervals.
	Detection DetectionSettings `toml:"detection"`

	// Markers replaces the built-in marker sets wholesale. An omitted list
	// keeps the default; an explicitly empty list disables that set.
	Markers *MarkerSettings `toml:"markers"`

	// MarkersExtra appends to the effective marker sets.
	MarkersExtra *MarkerSettings `toml:"markers_extra"`

	// Logs configures structured log output.
	Logs LogSettings `toml:"logs"`
}

// DetectionSettings tunes the completion detector.
type DetectionSettings struct {
	// SentinelPollMs is the sentinel existence check interval (default: 500).
	SentinelPollMs int `toml:"sentinel_poll_ms"`

	// GraceMs is the post-sentinel flush delay (default: 500).
	GraceMs int `toml:"grace_ms"`

	// HeuristicPollMs is the capture-and-classify interval (default: 3000).
	HeuristicPollMs int `toml:"heuristic_poll_ms"`

	// StabilityThreshold is how many consecutive unchanged polls complete a
	// turn (default: 4).
	StabilityThreshold int `toml:"stability_threshold"`
}

// MarkerSettings mirrors the detector's marker sets in TOML.
type MarkerSettings struct {
	StillWorking []string `toml:"still_working"`
	Completion   []string `toml:"completion"`
	Error        []string `toml:"error"`
}

// LogSettings configures structured logging.
type LogSettings struct {
	// Dir is the log directory. Empty plus debug off means logs are
	// discarded.
	Dir string `toml:"dir"`

	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level"`

	// Format is "json" (default) or "text".
	Format string `toml:"format"`

	// MaxSizeMB rotates the log past this size.
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is rotated files to keep.
	MaxBackups int `toml:"max_backups"`

	// MaxAgeDays drops rotated files older than this.
	MaxAgeDays int `toml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress"`

	// Debug enables debug-level logging to stderr-adjacent destinations.
	Debug bool `toml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TimeoutSecs:   300,
		SettleSecs:    5,
		SubmitDelayMs: 500,
		RuntimeDir:    DefaultRuntimeDir,
		Detection: DetectionSettings{
			SentinelPollMs:     500,
			GraceMs:            500,
			HeuristicPollMs:    3000,
			StabilityThreshold: detect.StabilityThreshold,
		},
		Logs: LogSettings{
			Level:    "info",
			Format:   "json",
			Compress: true,
		},
	}
}

// Dir returns the claudepilot directory, honoring $CLAUDEPILOT_DIR.
func Dir() (string, error) {
	if dir := os.Getenv("CLAUDEPILOT_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".claudepilot"), nil
}

// Path returns the config file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config file, layering it over the defaults. A missing file
// is not an error; a malformed one is, with the defaults returned so the
// caller can keep going.
func Load() (Config, error) {
	cfg := Default()

	path, err := Path()
	if err != nil {
		return cfg, nil
	}
	return loadFrom(path)
}

func loadFrom(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config atomically, creating the directory as needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# claudepilot configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Timeout returns the completion wait budget as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Settle returns the session initialization delay as a duration.
func (c Config) Settle() time.Duration {
	return time.Duration(c.SettleSecs) * time.Second
}

// SubmitDelay returns the text-to-submit pause as a duration.
func (c Config) SubmitDelay() time.Duration {
	return time.Duration(c.SubmitDelayMs) * time.Millisecond
}

// EffectiveMarkers merges the TOML marker overrides and extras with the
// built-in sets.
func (c Config) EffectiveMarkers() detect.Markers {
	return detect.Merge(detect.DefaultMarkers(), c.Markers.toMarkers(), c.MarkersExtra.toMarkers())
}

func (s *MarkerSettings) toMarkers() *detect.Markers {
	if s == nil {
		return nil
	}
	return &detect.Markers{
		StillWorking: s.StillWorking,
		Completion:   s.Completion,
		Error:        s.Error,
	}
}

// ApplyDetection copies our intervals onto a detector. Zero or negative
// values leave the detector's own defaults alone.
func (c Config) ApplyDetection(d *detect.Detector) {
	if ms := c.Detection.SentinelPollMs; ms > 0 {
		d.SentinelPoll = time.Duration(ms) * time.Millisecond
	}
	if ms := c.Detection.GraceMs; ms > 0 {
		d.Grace = time.Duration(ms) * time.Millisecond
	}
	if ms := c.Detection.HeuristicPollMs; ms > 0 {
		d.HeuristicPoll = time.Duration(ms) * time.Millisecond
	}
	if n := c.Detection.StabilityThreshold; n > 0 {
		d.Threshold = n
	}
}

// LoggingConfig maps the logs section onto the logging package.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		LogDir:     c.Logs.Dir,
		Level:      c.Logs.Level,
		Format:     c.Logs.Format,
		MaxSizeMB:  c.Logs.MaxSizeMB,
		MaxBackups: c.Logs.MaxBackups,
		MaxAgeDays: c.Logs.MaxAgeDays,
		Compress:   c.Logs.Compress,
		Debug:      c.Logs.Debug,
	}
}

// HookConfigDir resolves where the assistant's settings.json lives.
func (c Config) HookConfigDir() (string, error) {
	if c.ClaudeConfigDir != "" {
		return expandHome(c.ClaudeConfigDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".claude"), nil
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
