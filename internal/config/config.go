// Package config loads the sqlscope settings from defaults, an optional
// YAML file, SQLSCOPE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/nnaka2992/sqlscope/internal/analyzer"
	"github.com/nnaka2992/sqlscope/internal/lint"
	"github.com/nnaka2992/sqlscope/internal/plan"
	"github.com/nnaka2992/sqlscope/internal/report"
)

// EnvPrefix prefixes every environment variable read by Load. A double
// underscore separates nested keys: SQLSCOPE_PLAN__HIGH_COST_RATIO.
const EnvPrefix = "SQLSCOPE_"

// Defaults
const (
	DefaultFormat   = string(report.FormatStructural)
	DefaultOutput   = string(report.EncodingText)
	DefaultDebounce = 150 * time.Millisecond
	DefaultAddr     = "127.0.0.1:8780"
)

// configFiles are looked up in the working directory when no file is given
var configFiles = []string{"sqlscope.yaml", "sqlscope.yml"}

// HeuristicsConfig holds the tunable thresholds of the extractors
type HeuristicsConfig struct {
	ColumnLookahead       int `koanf:"column_lookahead"`
	ConditionDisplayLimit int `koanf:"condition_display_limit"`
	DegradedLeftLimit     int `koanf:"degraded_left_limit"`
}

// PlanConfig holds the explain-plan check thresholds
type PlanConfig struct {
	HighCostThreshold int64   `koanf:"high_cost_threshold"`
	HighCostRatio     float64 `koanf:"high_cost_ratio"`
}

// LintConfig selects the lint rules and the failing severity
type LintConfig struct {
	// FailOn is the lowest severity that makes the CLI exit with code 3.
	// Empty never fails.
	FailOn   string   `koanf:"fail_on"`
	Disabled []string `koanf:"disabled"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// Config holds all sqlscope settings
type Config struct {
	Format        string           `koanf:"format"`
	Output        string           `koanf:"output"`
	NoColor       bool             `koanf:"no_color"`
	Verbose       bool             `koanf:"verbose"`
	MaxInputBytes int              `koanf:"max_input_bytes"`
	Heuristics    HeuristicsConfig `koanf:"heuristics"`
	Plan          PlanConfig       `koanf:"plan"`
	Lint          LintConfig       `koanf:"lint"`
	Watch         WatchConfig      `koanf:"watch"`
	Server        ServerConfig     `koanf:"server"`

	// File is the configuration file that was read, if any
	File string `koanf:"-"`
}

// defaults returns the lowest-priority layer
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"format":                             DefaultFormat,
		"output":                             DefaultOutput,
		"no_color":                           false,
		"verbose":                            false,
		"max_input_bytes":                    analyzer.DefaultMaxInputBytes,
		"heuristics.column_lookahead":        analyzer.DefaultColumnLookahead,
		"heuristics.condition_display_limit": analyzer.DefaultConditionDisplayLimit,
		"heuristics.degraded_left_limit":     analyzer.DefaultDegradedLeftLimit,
		"plan.high_cost_threshold":           plan.DefaultHighCostThreshold,
		"plan.high_cost_ratio":               plan.DefaultHighCostRatio,
		"lint.fail_on":                       "",
		"lint.disabled":                      []string{},
		"watch.debounce":                     DefaultDebounce.String(),
		"server.addr":                        DefaultAddr,
	}
}

// flagKeys maps command-line flag names to configuration keys. Flags
// missing here, such as --config or --file, are not configuration.
var flagKeys = map[string]string{
	"format":                  "format",
	"output":                  "output",
	"no-color":                "no_color",
	"verbose":                 "verbose",
	"max-input-bytes":         "max_input_bytes",
	"column-lookahead":        "heuristics.column_lookahead",
	"condition-display-limit": "heuristics.condition_display_limit",
	"degraded-left-limit":     "heuristics.degraded_left_limit",
	"high-cost-threshold":     "plan.high_cost_threshold",
	"high-cost-ratio":         "plan.high_cost_ratio",
	"fail-on":                 "lint.fail_on",
	"disable":                 "lint.disabled",
	"debounce":                "watch.debounce",
	"addr":                    "server.addr",
}

// findConfigFile returns the explicit path or the first default file
// present in the working directory
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range configFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// listKeys are the keys whose environment value is a comma-separated list
var listKeys = map[string]bool{
	"lint.disabled": true,
}

// envKey turns SQLSCOPE_PLAN__HIGH_COST_RATIO into plan.high_cost_ratio
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// envValue maps one environment variable to its key and value, splitting
// list values on commas
func envValue(name, value string) (string, interface{}) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// Load reads the configuration. Precedence, highest first: flags the
// user changed, environment, config file, defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate rejects unknown variants and encodings, non-positive
// thresholds and unknown severities or rule ids
func (c *Config) Validate() error {
	var errs []error
	if _, err := report.ParseFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := report.ParseEncoding(c.Output); err != nil {
		errs = append(errs, err)
	}
	if c.MaxInputBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_input_bytes must be positive, got %d", c.MaxInputBytes))
	}
	for _, h := range []struct {
		key   string
		value int
	}{
		{"heuristics.column_lookahead", c.Heuristics.ColumnLookahead},
		{"heuristics.condition_display_limit", c.Heuristics.ConditionDisplayLimit},
		{"heuristics.degraded_left_limit", c.Heuristics.DegradedLeftLimit},
	} {
		if h.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", h.key, h.value))
		}
	}
	if c.Plan.HighCostThreshold < 0 {
		errs = append(errs, fmt.Errorf("plan.high_cost_threshold must not be negative, got %d", c.Plan.HighCostThreshold))
	}
	if c.Plan.HighCostRatio < 0 || c.Plan.HighCostRatio > 1 {
		errs = append(errs, fmt.Errorf("plan.high_cost_ratio must be between 0 and 1, got %g", c.Plan.HighCostRatio))
	}
	if c.Lint.FailOn != "" {
		if _, err := lint.ParseSeverity(c.Lint.FailOn); err != nil {
			errs = append(errs, fmt.Errorf("lint.fail_on: %w", err))
		}
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	return errors.Join(errs...)
}

// FormatValue returns the parsed report variant
func (c *Config) FormatValue() report.Format {
	f, _ := report.ParseFormat(c.Format)
	return f
}

// Encoding returns the parsed output encoding
func (c *Config) Encoding() report.Encoding {
	e, _ := report.ParseEncoding(c.Output)
	return e
}

// FailOn returns the failing severity and whether one is set
func (c *Config) FailOn() (lint.Severity, bool) {
	if c.Lint.FailOn == "" {
		return 0, false
	}
	s, err := lint.ParseSeverity(c.Lint.FailOn)
	return s, err == nil
}

// ReportOptions builds the assembler options
func (c *Config) ReportOptions(logger *slog.Logger) report.Options {
	return report.Options{
		ColumnLookahead:       c.Heuristics.ColumnLookahead,
		ConditionDisplayLimit: c.Heuristics.ConditionDisplayLimit,
		DegradedLeftLimit:     c.Heuristics.DegradedLeftLimit,
		MaxInputBytes:         c.MaxInputBytes,
		DisabledRules:         c.Lint.Disabled,
		Plan: plan.CheckOptions{
			HighCostThreshold: c.Plan.HighCostThreshold,
			HighCostRatio:     c.Plan.HighCostRatio,
		},
		Logger: logger,
	}
}

// LogLevel returns the slog level selected by Verbose
func (c *Config) LogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
