// Package config assembles the runtime configuration from defaults, an
// optional config file, PATMON_* environment variables and CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eliteGoblin/focusd/patmon/internal/infra"
	"github.com/eliteGoblin/focusd/patmon/internal/pattern"
)

// Source modes accepted by source.mode.
const (
	SourceAuto    = "auto"
	SourceNative  = "native"
	SourcePolling = "polling"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	BaseDir   string
	Roots     []string
	RulesPath string

	SourceMode   string
	PollInterval time.Duration
	EmitInitial  bool
	Excludes     []string

	Detector pattern.Config

	HeartbeatInterval time.Duration
	EventBuffer       int
	MetricsAddr       string
	HistoryEnabled    bool
	LogLevel          string
}

// Layout returns the output tree under BaseDir.
func (c *Config) Layout() infra.Layout {
	return infra.NewLayout(c.BaseDir)
}

// New returns a viper instance with defaults and PATMON_ environment binding.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PATMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	d := pattern.DefaultConfig()

	v.SetDefault("base_dir", infra.DefaultBaseDir(infra.DetectExecMode()))
	v.SetDefault("roots", []string{})
	v.SetDefault("rules", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("source.mode", SourceAuto)
	v.SetDefault("source.poll_interval", infra.DefaultPollInterval)
	v.SetDefault("source.emit_initial", true)
	v.SetDefault("source.exclude", []string{})

	v.SetDefault("detector.window_size", d.WindowSize)
	v.SetDefault("detector.rapid.min_window", d.Rapid.MinWindow)
	v.SetDefault("detector.rapid.slice", d.Rapid.Slice)
	v.SetDefault("detector.rapid.min_changes", d.Rapid.MinChanges)
	v.SetDefault("detector.rapid.max_span", d.Rapid.MaxSpan)
	v.SetDefault("detector.bulk.min_window", d.Bulk.MinWindow)
	v.SetDefault("detector.bulk.slice", d.Bulk.Slice)
	v.SetDefault("detector.bulk.min_count", d.Bulk.MinCount)
	v.SetDefault("detector.bulk.max_span", d.Bulk.MaxSpan)
	v.SetDefault("detector.bulk.max_samples", d.Bulk.MaxSamples)
	v.SetDefault("detector.workflow.min_window", d.Workflow.MinWindow)
	v.SetDefault("detector.workflow.confidence", d.Workflow.Confidence)
	v.SetDefault("detector.workflow_matching", string(d.Workflow.Mode))
	v.SetDefault("detector.unstable.slice", d.Unstable.Slice)
	v.SetDefault("detector.unstable.min_cycles", d.Unstable.MinCycles)

	v.SetDefault("daemon.heartbeat_interval", 30*time.Second)
	v.SetDefault("daemon.event_buffer", 1024)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("history.enabled", true)
}

// Load reads configFile (or patmon.{yaml,json,toml} in the base directory)
// into v and resolves the Config. A missing implicit config file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("patmon")
		v.AddConfigPath(infra.ExpandHome(v.GetString("base_dir")))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		BaseDir:   infra.ExpandHome(v.GetString("base_dir")),
		Roots:     expandAll(v.GetStringSlice("roots")),
		RulesPath: infra.ExpandHome(v.GetString("rules")),
		LogLevel:  v.GetString("log_level"),

		SourceMode:   strings.ToLower(v.GetString("source.mode")),
		PollInterval: v.GetDuration("source.poll_interval"),
		EmitInitial:  v.GetBool("source.emit_initial"),
		Excludes:     v.GetStringSlice("source.exclude"),

		HeartbeatInterval: v.GetDuration("daemon.heartbeat_interval"),
		EventBuffer:       v.GetInt("daemon.event_buffer"),
		MetricsAddr:       v.GetString("metrics.addr"),
		HistoryEnabled:    v.GetBool("history.enabled"),
	}

	d := pattern.DefaultConfig()
	d.WindowSize = v.GetInt("detector.window_size")
	d.Rapid = pattern.RapidConfig{
		MinWindow:  v.GetInt("detector.rapid.min_window"),
		Slice:      v.GetInt("detector.rapid.slice"),
		MinChanges: v.GetInt("detector.rapid.min_changes"),
		MaxSpan:    v.GetDuration("detector.rapid.max_span"),
	}
	d.Bulk = pattern.BulkConfig{
		MinWindow:  v.GetInt("detector.bulk.min_window"),
		Slice:      v.GetInt("detector.bulk.slice"),
		MinCount:   v.GetInt("detector.bulk.min_count"),
		MaxSpan:    v.GetDuration("detector.bulk.max_span"),
		MaxSamples: v.GetInt("detector.bulk.max_samples"),
	}
	d.Workflow.MinWindow = v.GetInt("detector.workflow.min_window")
	d.Workflow.Confidence = v.GetFloat64("detector.workflow.confidence")
	d.Workflow.Mode = pattern.MatchMode(strings.ToLower(v.GetString("detector.workflow_matching")))
	d.Unstable = pattern.UnstableConfig{
		Slice:     v.GetInt("detector.unstable.slice"),
		MinCycles: v.GetInt("detector.unstable.min_cycles"),
	}
	cfg.Detector = d

	if cfg.RulesPath == "" {
		cfg.RulesPath = cfg.Layout().DefaultRulesPath()
	}
	if len(cfg.Roots) == 0 {
		if wd, err := os.Getwd(); err == nil {
			cfg.Roots = []string{wd}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.SourceMode {
	case SourceAuto, SourceNative, SourcePolling:
	default:
		return fmt.Errorf("invalid source.mode %q (want auto, native or polling)", c.SourceMode)
	}
	switch c.Detector.Workflow.Mode {
	case pattern.MatchLength, pattern.MatchSubsequence:
	default:
		return fmt.Errorf("invalid detector.workflow_matching %q (want length or subsequence)", c.Detector.Workflow.Mode)
	}
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir must not be empty")
	}
	if c.Detector.WindowSize <= 0 {
		return fmt.Errorf("detector.window_size must be positive, got %d", c.Detector.WindowSize)
	}
	if err := validateDetector(c.Detector); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("source.poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("daemon.heartbeat_interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 1
	}
	return nil
}

func expandAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		expanded := infra.ExpandHome(p)
		if abs, err := filepath.Abs(expanded); err == nil {
			expanded = abs
		}
		out = append(out, expanded)
	}
	return out
}

func validateDetector(d pattern.Config) error {
	ints := []struct {
		key string
		val int
	}{
		{"detector.rapid.min_window", d.Rapid.MinWindow},
		{"detector.rapid.slice", d.Rapid.Slice},
		{"detector.rapid.min_changes", d.Rapid.MinChanges},
		{"detector.bulk.min_window", d.Bulk.MinWindow},
		{"detector.bulk.slice", d.Bulk.Slice},
		{"detector.bulk.min_count", d.Bulk.MinCount},
		{"detector.bulk.max_samples", d.Bulk.MaxSamples},
		{"detector.workflow.min_window", d.Workflow.MinWindow},
		{"detector.unstable.slice", d.Unstable.Slice},
		{"detector.unstable.min_cycles", d.Unstable.MinCycles},
	}
	for _, f := range ints {
		if f.val < 0 {
			return fmt.Errorf("%s must not be negative, got %d", f.key, f.val)
		}
	}
	if d.Rapid.MaxSpan < 0 || d.Bulk.MaxSpan < 0 {
		return fmt.Errorf("detector max_span must not be negative")
	}
	if d.Workflow.Confidence < 0 || d.Workflow.Confidence > 1 {
		return fmt.Errorf("detector.workflow.confidence must be within [0, 1], got %g", d.Workflow.Confidence)
	}
	return nil
}
