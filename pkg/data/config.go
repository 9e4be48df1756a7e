// Package data provides configuration management and file based input and
// output for the rating engine: comparison and item files, rating snapshots
// and layered YAML/environment configuration.
package data

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/pashagolub/tierelo/pkg/elo"
	"github.com/pashagolub/tierelo/pkg/engine"
	"github.com/pashagolub/tierelo/pkg/logger"
	"github.com/pashagolub/tierelo/pkg/tier"
)

// Error types for configuration validation
var (
	ErrInvalidEloConfig     = errors.New("invalid Elo configuration")
	ErrInvalidTierConfig    = errors.New("invalid tier configuration")
	ErrInvalidJournalConfig = errors.New("invalid journal configuration")
	ErrInvalidLogConfig     = errors.New("invalid log configuration")
	ErrInvalidServerConfig  = errors.New("invalid server configuration")
	ErrConfigNotFound       = errors.New("configuration file not found")
	ErrConfigParseError     = errors.New("failed to parse configuration file")
)

// Environment variables: TIERELO_ELO__BASE_K sets elo.base_k
const (
	envPrefix     = "TIERELO_"
	envConfigPath = "TIERELO_CONFIG"
	envSeparator  = "__"
)

// Config is the top-level application configuration
type Config struct {
	Elo     EloConfig     `koanf:"elo" yaml:"elo" json:"elo"`
	Tiers   TierConfig    `koanf:"tiers" yaml:"tiers" json:"tiers"`
	Journal JournalConfig `koanf:"journal" yaml:"journal" json:"journal"`
	Log     LogConfig     `koanf:"log" yaml:"log" json:"log"`
	Server  ServerConfig  `koanf:"server" yaml:"server" json:"server"`
}

// EloConfig holds settings for rating calculations
type EloConfig struct {
	InitialRating  float64 `koanf:"initial_rating" yaml:"initial_rating" json:"initial_rating"`    // Starting rating for new items (default 1500)
	BaseK          float64 `koanf:"base_k" yaml:"base_k" json:"base_k"`                            // Rating change sensitivity (default 32)
	AdaptiveK      bool    `koanf:"adaptive_k" yaml:"adaptive_k" json:"adaptive_k"`                // Scale K by experience
	DecayEnabled   bool    `koanf:"decay_enabled" yaml:"decay_enabled" json:"decay_enabled"`       // Down-weight old comparisons
	DecayFactor    float64 `koanf:"decay_factor" yaml:"decay_factor" json:"decay_factor"`          // Weight kept per week of age
	MinComparisons int     `koanf:"min_comparisons" yaml:"min_comparisons" json:"min_comparisons"` // Comparisons for half confidence
	BinSize        float64 `koanf:"bin_size" yaml:"bin_size" json:"bin_size"`                      // Rating bin width for matchup suggestions
}

// TierConfig describes how rankings are cut into tiers
type TierConfig struct {
	Count              int      `koanf:"count" yaml:"count" json:"count"`                                           // Number of tiers
	Labels             []string `koanf:"labels" yaml:"labels,omitempty" json:"labels,omitempty"`                    // Best tier first; generated when empty
	Colors             []string `koanf:"colors" yaml:"colors,omitempty" json:"colors,omitempty"`                    // Hex or colour names; gradient when empty
	AmbiguityThreshold float64  `koanf:"ambiguity_threshold" yaml:"ambiguity_threshold" json:"ambiguity_threshold"` // Proximity below which an alternative is reported
	SeparationScale    float64  `koanf:"separation_scale" yaml:"separation_scale" json:"separation_scale"`          // Rating gap earning full separation
}

// JournalConfig controls the audit trail
type JournalConfig struct {
	Enabled   bool   `koanf:"enabled" yaml:"enabled" json:"enabled"`
	Directory string `koanf:"directory" yaml:"directory" json:"directory"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" json:"level"`
	Format string `koanf:"format" yaml:"format" json:"format"`
}

// ServerConfig holds HTTP adapter settings
type ServerConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Elo:     DefaultEloConfig(),
		Tiers:   DefaultTierConfig(),
		Journal: DefaultJournalConfig(),
		Log:     LogConfig{Level: "info", Format: "text"},
		Server:  DefaultServerConfig(),
	}
}

// DefaultEloConfig returns rating calculation defaults
func DefaultEloConfig() EloConfig {
	processor := elo.DefaultConfig()
	return EloConfig{
		InitialRating:  processor.InitialRating,
		BaseK:          processor.BaseK,
		AdaptiveK:      processor.AdaptiveK,
		DecayEnabled:   processor.DecayEnabled,
		DecayFactor:    processor.DecayFactor,
		MinComparisons: processor.MinComparisons,
		BinSize:        elo.DefaultOptimizationConfig().BinSize,
	}
}

// DefaultTierConfig returns an S/A/B/C/D tier list
func DefaultTierConfig() TierConfig {
	reporter := tier.DefaultReporterConfig()
	return TierConfig{
		Count:              5,
		AmbiguityThreshold: reporter.AmbiguityThreshold,
		SeparationScale:    reporter.SeparationScale,
	}
}

// DefaultJournalConfig keeps the audit trail off
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Enabled:   false,
		Directory: "journal",
	}
}

// DefaultServerConfig returns HTTP adapter defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := c.Elo.Validate(); err != nil {
		return fmt.Errorf("Elo config validation failed: %w", err)
	}
	if err := c.Tiers.Validate(); err != nil {
		return fmt.Errorf("tier config validation failed: %w", err)
	}
	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("journal config validation failed: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	return nil
}

// Processor converts the section into processor settings
func (e EloConfig) Processor() elo.Config {
	return elo.Config{
		InitialRating:  e.InitialRating,
		BaseK:          e.BaseK,
		AdaptiveK:      e.AdaptiveK,
		DecayEnabled:   e.DecayEnabled,
		DecayFactor:    e.DecayFactor,
		MinComparisons: e.MinComparisons,
	}
}

// Validate checks that Elo configuration is valid
func (e *EloConfig) Validate() error {
	if err := e.Processor().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEloConfig, err)
	}
	if e.BaseK > 100 {
		return fmt.Errorf("%w: base_k %.1f is unusually high (typical range: 10-50)", ErrInvalidEloConfig, e.BaseK)
	}
	if e.BinSize <= 0 {
		return fmt.Errorf("%w: bin_size must be positive, got %.2f", ErrInvalidEloConfig, e.BinSize)
	}
	return nil
}

// Validate checks that tier configuration is valid
func (t *TierConfig) Validate() error {
	if t.Count < 1 || t.Count > tier.MaxTiers {
		return fmt.Errorf("%w: count must be between 1 and %d, got %d", ErrInvalidTierConfig, tier.MaxTiers, t.Count)
	}
	if len(t.Labels) > 0 && len(t.Labels) != t.Count {
		return fmt.Errorf("%w: %d labels for %d tiers", ErrInvalidTierConfig, len(t.Labels), t.Count)
	}
	seen := make(map[string]bool, len(t.Labels))
	for _, label := range t.Labels {
		label = strings.TrimSpace(label)
		if label == "" {
			return fmt.Errorf("%w: empty tier label", ErrInvalidTierConfig)
		}
		if seen[label] {
			return fmt.Errorf("%w: duplicate tier label %q", ErrInvalidTierConfig, label)
		}
		seen[label] = true
	}
	if len(t.Colors) > 0 && len(t.Colors) != t.Count {
		return fmt.Errorf("%w: %d colors for %d tiers", ErrInvalidTierConfig, len(t.Colors), t.Count)
	}
	for _, color := range t.Colors {
		if _, err := tier.NormalizeColor(color); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTierConfig, err)
		}
	}
	if t.AmbiguityThreshold < 0 || t.AmbiguityThreshold > 100 {
		return fmt.Errorf("%w: ambiguity_threshold %.1f must be between 0 and 100", ErrInvalidTierConfig, t.AmbiguityThreshold)
	}
	if t.SeparationScale <= 0 {
		return fmt.Errorf("%w: separation_scale must be positive", ErrInvalidTierConfig)
	}
	return nil
}

// Templates returns one presentation template per tier, best first
func (t *TierConfig) Templates() ([]tier.Template, error) {
	var templates []tier.Template
	if len(t.Labels) > 0 {
		templates = tier.TemplatesFor(t.Labels)
	} else {
		templates = tier.DefaultTemplates(t.Count)
	}

	for i, color := range t.Colors {
		if i >= len(templates) {
			break
		}
		normalized, err := tier.NormalizeColor(color)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTierConfig, err)
		}
		templates[i].Color = normalized
	}
	return templates, nil
}

// Reporter converts the section into confidence reporter settings
func (t TierConfig) Reporter() tier.ReporterConfig {
	return tier.ReporterConfig{
		AmbiguityThreshold: t.AmbiguityThreshold,
		SeparationScale:    t.SeparationScale,
	}
}

// Validate checks that journal configuration is valid
func (j *JournalConfig) Validate() error {
	if j.Enabled && strings.TrimSpace(j.Directory) == "" {
		return fmt.Errorf("%w: directory is required when the journal is enabled", ErrInvalidJournalConfig)
	}
	return nil
}

// Validate checks that log configuration is valid
func (l *LogConfig) Validate() error {
	if _, err := logger.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLogConfig, err)
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("%w: format %q must be text or json", ErrInvalidLogConfig, l.Format)
	}
}

// Options converts the section into logger options
func (l LogConfig) Options() logger.Options {
	return logger.Options{Level: l.Level, Format: l.Format}
}

// Validate checks that server configuration is valid
func (s *ServerConfig) Validate() error {
	if strings.TrimSpace(s.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidServerConfig)
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidServerConfig)
	}
	return nil
}

// EngineConfig assembles the engine settings from the Elo and tier sections
func (c *Config) EngineConfig() engine.Config {
	config := engine.DefaultConfig()
	config.Elo = c.Elo.Processor()
	config.Optimization.BinSize = c.Elo.BinSize
	config.Optimization.CenterRating = c.Elo.InitialRating
	config.Reporter = c.Tiers.Reporter()
	return config
}

// Load builds a Config by layering defaults, an optional YAML file and
// environment variables, lowest precedence first. An empty filename falls
// back to $TIERELO_CONFIG; when neither is set only defaults and the
// environment apply.
func Load(filename string) (*Config, error) {
	if filename == "" {
		filename = os.Getenv(envConfigPath)
	}

	k := koanf.New(".")
	if filename != "" {
		if _, err := os.Stat(filename); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, filename)
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
		if err := k.Load(file.Provider(filename), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigParseError, filename, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	config := DefaultConfig()
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// envKey maps TIERELO_SERVER__READ_TIMEOUT to server.read_timeout
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, envSeparator, ".")
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}
	return nil
}
