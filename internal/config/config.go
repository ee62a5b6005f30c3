// Package config loads omniagent settings from defaults, an optional YAML file and
// OMNIAGENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. OMNIAGENT_AGENT_MAX_STEPS
const EnvPrefix = "OMNIAGENT"

// Config is the full application configuration
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Tracker TrackerConfig `mapstructure:"tracker" yaml:"tracker"`
	Parser  ParserConfig  `mapstructure:"parser" yaml:"parser"`
	Planner PlannerConfig `mapstructure:"planner" yaml:"planner"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
}

// LoggerConfig controls the console and file log outputs
type LoggerConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	LogFile    string `mapstructure:"log_file" yaml:"log_file"` // empty disables the rotating file
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Color      bool   `mapstructure:"color" yaml:"color"`
}

// AgentConfig holds the control loop tunables
type AgentConfig struct {
	MaxSteps      int           `mapstructure:"max_steps" yaml:"max_steps"`
	OutputDir     string        `mapstructure:"output_dir" yaml:"output_dir"`
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	PreTypeDelay  time.Duration `mapstructure:"pre_type_delay" yaml:"pre_type_delay"`
	ScrollAmount  int           `mapstructure:"scroll_amount" yaml:"scroll_amount"`
	ScalingFactor float64       `mapstructure:"scaling_factor" yaml:"scaling_factor"`
	TrackElements bool          `mapstructure:"track_elements" yaml:"track_elements"`
}

// TrackerConfig holds the element tracker thresholds
type TrackerConfig struct {
	MissThreshold     int     `mapstructure:"miss_threshold" yaml:"miss_threshold"`
	MatchingThreshold float64 `mapstructure:"matching_threshold" yaml:"matching_threshold"`
}

// Parser backends
const (
	BackendOmniParser = "omniparser"
	BackendDOM        = "dom"
)

// ParserConfig selects the element detector and points at the OmniParser service
type ParserConfig struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"`
	URL              string        `mapstructure:"url" yaml:"url"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	DownsampleFactor float64       `mapstructure:"downsample_factor" yaml:"downsample_factor"`
	MinElementPx     int           `mapstructure:"min_element_px" yaml:"min_element_px"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// PlannerConfig selects and tunes the LLM planner
type PlannerConfig struct {
	Provider          string  `mapstructure:"provider" yaml:"provider"`
	Model             string  `mapstructure:"model" yaml:"model"`
	MaxTokens         int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute"` // 0 means unlimited
	DebugPrompts      bool    `mapstructure:"debug_prompts" yaml:"debug_prompts"`
}

// BrowserConfig describes the Chromium surface used by `run` and `serve`
type BrowserConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	Width             int           `mapstructure:"width" yaml:"width"`
	Height            int           `mapstructure:"height" yaml:"height"`
	DeviceScaleFactor float64       `mapstructure:"device_scale_factor" yaml:"device_scale_factor"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size_mb", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 7)
	v.SetDefault("logger.color", true)

	v.SetDefault("agent.max_steps", 10)
	v.SetDefault("agent.output_dir", "runs")
	v.SetDefault("agent.settle_delay", "1500ms")
	v.SetDefault("agent.pre_type_delay", "200ms")
	v.SetDefault("agent.scroll_amount", 3)
	v.SetDefault("agent.scaling_factor", 1.0)
	v.SetDefault("agent.track_elements", true)

	v.SetDefault("tracker.miss_threshold", 3)
	v.SetDefault("tracker.matching_threshold", 0.1)

	v.SetDefault("parser.backend", BackendOmniParser)
	v.SetDefault("parser.url", "http://localhost:8000")
	v.SetDefault("parser.timeout", "30s")
	v.SetDefault("parser.downsample_factor", 1.0)
	v.SetDefault("parser.min_element_px", 3)
	v.SetDefault("parser.max_retries", 3)

	v.SetDefault("planner.provider", "anthropic")
	v.SetDefault("planner.model", "")
	v.SetDefault("planner.max_tokens", 1024)
	v.SetDefault("planner.temperature", 0.1)
	v.SetDefault("planner.max_retries", 3)
	v.SetDefault("planner.requests_per_minute", 0)
	v.SetDefault("planner.debug_prompts", false)

	v.SetDefault("browser.url", "")
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 800)
	v.SetDefault("browser.device_scale_factor", 1.0)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.timeout", "30s")
}

// Default returns the configuration with only defaults applied
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads the config file (if any) and environment overrides.
// An empty path searches ./omniagent.yaml and $HOME/.config/omniagent/omniagent.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("omniagent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "omniagent"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates an already populated viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.ScalingFactor <= 0 {
		return fmt.Errorf("agent.scaling_factor must be positive")
	}
	if c.Tracker.MissThreshold <= 0 {
		return fmt.Errorf("tracker.miss_threshold must be a positive integer")
	}
	if c.Tracker.MatchingThreshold <= 0 {
		return fmt.Errorf("tracker.matching_threshold must be positive")
	}
	if c.Parser.DownsampleFactor < 0.1 || c.Parser.DownsampleFactor > 1.0 {
		return fmt.Errorf("parser.downsample_factor must be between 0.1 and 1.0, got %v", c.Parser.DownsampleFactor)
	}
	switch c.Parser.Backend {
	case BackendOmniParser, BackendDOM:
	default:
		return fmt.Errorf("unknown parser.backend %q (supported: omniparser, dom)", c.Parser.Backend)
	}
	switch strings.ToLower(c.Planner.Provider) {
	case "anthropic", "claude", "openai", "gpt":
	default:
		return fmt.Errorf("unknown planner.provider %q (supported: anthropic, openai)", c.Planner.Provider)
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d", c.Browser.Width, c.Browser.Height)
	}
	return nil
}
