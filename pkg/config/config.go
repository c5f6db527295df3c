package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/playback/pkg/playback"
	"github.com/entrhq/playback/pkg/widget"
	"github.com/entrhq/playback/pkg/widget/twitch"
)

// Config is the playbackd configuration document.
type Config struct {
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Recovery  RecoveryConfig  `yaml:"recovery" json:"recovery"`
	Reaper    ReaperConfig    `yaml:"reaper" json:"reaper"`
	Admission AdmissionConfig `yaml:"admission" json:"admission"`
	Registry  RegistryConfig  `yaml:"registry" json:"registry"`
	Quality   QualityConfig   `yaml:"quality" json:"quality"`
	Widget    WidgetConfig    `yaml:"widget" json:"widget"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// RetryConfig bounds player construction.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay" json:"base_delay"`           // Multiplied by the attempt number
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"` // 0 disables the per-attempt deadline
}

// RecoveryConfig holds the delays of the recovery sequence.
type RecoveryConfig struct {
	SettleDelay   time.Duration `yaml:"settle_delay" json:"settle_delay"`
	QualityDelay  time.Duration `yaml:"quality_delay" json:"quality_delay"`
	RecreateDelay time.Duration `yaml:"recreate_delay" json:"recreate_delay"`
	OnlineDelay   time.Duration `yaml:"online_delay" json:"online_delay"`
}

// ReaperConfig controls idle reclamation.
type ReaperConfig struct {
	Interval      time.Duration `yaml:"interval" json:"interval"` // 0 disables the reaper
	IdleThreshold time.Duration `yaml:"idle_threshold" json:"idle_threshold"`
}

// AdmissionConfig controls request admission.
type AdmissionConfig struct {
	Throttle time.Duration `yaml:"throttle" json:"throttle"`
}

// RegistryConfig bounds the handle registry.
type RegistryConfig struct {
	MaxHandles int `yaml:"max_handles" json:"max_handles"` // 0 means unlimited
}

// QualityConfig controls lowest-quality enforcement.
type QualityConfig struct {
	Preferred     string          `yaml:"preferred" json:"preferred"`
	PollInterval  time.Duration   `yaml:"poll_interval" json:"poll_interval"`
	MaxAttempts   int             `yaml:"max_attempts" json:"max_attempts"`
	InitialDelays []time.Duration `yaml:"initial_delays" json:"initial_delays"`
}

// WidgetConfig configures the embed endpoint.
type WidgetConfig struct {
	ScriptURL   string              `yaml:"script_url" json:"script_url"`
	Host        string              `yaml:"host" json:"host"`
	Headless    bool                `yaml:"headless" json:"headless"`
	Timeout     time.Duration       `yaml:"timeout" json:"timeout"`
	ParentRules []widget.ParentRule `yaml:"parent_rules" json:"parent_rules"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Dir overrides the log directory; empty uses ~/.playback/logs.
	Dir string `yaml:"dir" json:"dir"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	opts := playback.DefaultOptions()
	return &Config{
		Retry: RetryConfig{
			MaxAttempts:    opts.Retry.MaxAttempts,
			BaseDelay:      opts.Retry.BaseDelay,
			AttemptTimeout: opts.Retry.AttemptTimeout,
		},
		Recovery: RecoveryConfig{
			SettleDelay:   opts.Recovery.SettleDelay,
			QualityDelay:  opts.Recovery.QualityDelay,
			RecreateDelay: opts.Recovery.RecreateDelay,
			OnlineDelay:   opts.Recovery.OnlineDelay,
		},
		Reaper: ReaperConfig{
			Interval:      opts.ReapInterval,
			IdleThreshold: opts.IdleThreshold,
		},
		Quality: QualityConfig{
			Preferred:     opts.Quality.Preferred,
			PollInterval:  opts.Quality.PollInterval,
			MaxAttempts:   opts.Quality.MaxAttempts,
			InitialDelays: append([]time.Duration(nil), opts.Quality.InitialDelays...),
		},
		Widget: WidgetConfig{
			ScriptURL: twitch.DefaultScriptURL,
			Host:      twitch.DefaultHost,
			Headless:  true,
			Timeout:   twitch.DefaultTimeout,
			ParentRules: []widget.ParentRule{
				{Pattern: "*.github.io", Parents: []string{"hetri-courses.github.io"}},
			},
		},
		Server: ServerConfig{
			Addr: ":8089",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var err error
	if c.Retry.MaxAttempts < 1 {
		err = multierr.Append(err, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 {
		err = multierr.Append(err, errors.New("retry.base_delay cannot be negative"))
	}
	if c.Retry.AttemptTimeout < 0 {
		err = multierr.Append(err, errors.New("retry.attempt_timeout cannot be negative"))
	}

	for name, d := range map[string]time.Duration{
		"recovery.settle_delay":   c.Recovery.SettleDelay,
		"recovery.quality_delay":  c.Recovery.QualityDelay,
		"recovery.recreate_delay": c.Recovery.RecreateDelay,
		"recovery.online_delay":   c.Recovery.OnlineDelay,
		"admission.throttle":      c.Admission.Throttle,
		"quality.poll_interval":   c.Quality.PollInterval,
	} {
		if d < 0 {
			err = multierr.Append(err, fmt.Errorf("%s cannot be negative", name))
		}
	}

	if c.Reaper.Interval < 0 {
		err = multierr.Append(err, errors.New("reaper.interval cannot be negative"))
	}
	if c.Reaper.Interval > 0 && c.Reaper.IdleThreshold <= 0 {
		err = multierr.Append(err, errors.New("reaper.idle_threshold must be positive when the reaper is enabled"))
	}
	if c.Registry.MaxHandles < 0 {
		err = multierr.Append(err, errors.New("registry.max_handles cannot be negative"))
	}
	if c.Quality.MaxAttempts < 0 {
		err = multierr.Append(err, errors.New("quality.max_attempts cannot be negative"))
	}

	if c.Widget.ScriptURL == "" {
		err = multierr.Append(err, errors.New("widget.script_url is required"))
	}
	if c.Widget.Host == "" {
		err = multierr.Append(err, errors.New("widget.host is required"))
	}
	if _, perr := widget.NewOriginPolicy(c.Widget.ParentRules); perr != nil {
		err = multierr.Append(err, fmt.Errorf("widget.parent_rules: %w", perr))
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if !validLevels[c.Logging.Level] {
		err = multierr.Append(err, fmt.Errorf("invalid logging level: %s (must be 'debug', 'info', 'warn' or 'error')", c.Logging.Level))
	}
	return err
}

// OriginPolicy compiles the parent rules.
func (c *Config) OriginPolicy() (*widget.OriginPolicy, error) {
	return widget.NewOriginPolicy(c.Widget.ParentRules)
}

// PlaybackOptions converts the configuration to controller options. The
// allowed-embed-origins are derived from the widget host.
func (c *Config) PlaybackOptions() (playback.Options, error) {
	policy, err := c.OriginPolicy()
	if err != nil {
		return playback.Options{}, err
	}
	return playback.Options{
		Retry: playback.RetryPolicy{
			MaxAttempts:    c.Retry.MaxAttempts,
			BaseDelay:      c.Retry.BaseDelay,
			AttemptTimeout: c.Retry.AttemptTimeout,
		},
		Recovery: playback.RecoveryPolicy{
			SettleDelay:   c.Recovery.SettleDelay,
			QualityDelay:  c.Recovery.QualityDelay,
			RecreateDelay: c.Recovery.RecreateDelay,
			OnlineDelay:   c.Recovery.OnlineDelay,
		},
		Quality: playback.QualityPolicy{
			Preferred:     c.Quality.Preferred,
			PollInterval:  c.Quality.PollInterval,
			MaxAttempts:   c.Quality.MaxAttempts,
			InitialDelays: append([]time.Duration(nil), c.Quality.InitialDelays...),
		},
		ReapInterval:  c.Reaper.Interval,
		IdleThreshold: c.Reaper.IdleThreshold,
		Throttle:      c.Admission.Throttle,
		MaxHandles:    c.Registry.MaxHandles,
		Parents:       policy.Parents(c.Widget.Host),
	}, nil
}

// TwitchOptions converts the widget section to endpoint options.
func (c *Config) TwitchOptions() twitch.Options {
	return twitch.Options{
		ScriptURL: c.Widget.ScriptURL,
		Host:      c.Widget.Host,
		Headless:  c.Widget.Headless,
		Timeout:   c.Widget.Timeout,
	}
}
