package manager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradelink/pkg/confkit"
)

// BackoffStrategy selects how the delay between reconnect attempts grows.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

const (
	defaultHealthInterval    = 60 * time.Second
	defaultHealthTimeout     = 10 * time.Second
	defaultReconnectInterval = 5 * time.Second
	defaultReconnectMax      = 5 * time.Minute
	defaultMaxAttempts       = 5
)

// Config defines the supervisor schema.
type Config struct {
	Health    HealthConfig    `yaml:"health"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type HealthConfig struct {
	Interval time.Duration `yaml:"-"`
	Timeout  time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
	TimeoutRaw  string `yaml:"timeout"`
}

type ReconnectConfig struct {
	Strategy    BackoffStrategy `yaml:"strategy"`
	MaxAttempts int             `yaml:"max_attempts"`
	Interval    time.Duration   `yaml:"-"`
	MaxInterval time.Duration   `yaml:"-"`

	IntervalRaw    string `yaml:"interval"`
	MaxIntervalRaw string `yaml:"max_interval"`
}

// DefaultConfig probes every minute and retries five times, five seconds apart.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	// Defaults always parse.
	_ = cfg.parseDurations()
	return cfg
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	return confkit.Open("manager", path, LoadConfigFromReader)
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	if err := confkit.Decode("manager", r, func(data []byte) error { return yaml.Unmarshal(data, &cfg) }); err != nil {
		return nil, err
	}

	cfg.expandFields()
	cfg.applyDefaults()
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandFields() {
	c.Health.IntervalRaw = strings.TrimSpace(os.ExpandEnv(c.Health.IntervalRaw))
	c.Health.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(c.Health.TimeoutRaw))
	c.Reconnect.IntervalRaw = strings.TrimSpace(os.ExpandEnv(c.Reconnect.IntervalRaw))
	c.Reconnect.MaxIntervalRaw = strings.TrimSpace(os.ExpandEnv(c.Reconnect.MaxIntervalRaw))
	c.Reconnect.Strategy = BackoffStrategy(strings.ToLower(strings.TrimSpace(string(c.Reconnect.Strategy))))
}

func (c *Config) applyDefaults() {
	if c.Health.IntervalRaw == "" {
		c.Health.IntervalRaw = defaultHealthInterval.String()
	}
	if c.Health.TimeoutRaw == "" {
		c.Health.TimeoutRaw = defaultHealthTimeout.String()
	}
	if c.Reconnect.Strategy == "" {
		c.Reconnect.Strategy = BackoffFixed
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = defaultMaxAttempts
	}
	if c.Reconnect.IntervalRaw == "" {
		c.Reconnect.IntervalRaw = defaultReconnectInterval.String()
	}
	if c.Reconnect.MaxIntervalRaw == "" {
		c.Reconnect.MaxIntervalRaw = defaultReconnectMax.String()
	}
}

func (c *Config) parseDurations() error {
	var err error
	if c.Health.Interval, err = parsePositiveDuration("health.interval", c.Health.IntervalRaw); err != nil {
		return err
	}
	if c.Health.Timeout, err = parsePositiveDuration("health.timeout", c.Health.TimeoutRaw); err != nil {
		return err
	}
	if c.Reconnect.Interval, err = parsePositiveDuration("reconnect.interval", c.Reconnect.IntervalRaw); err != nil {
		return err
	}
	if c.Reconnect.MaxInterval, err = parsePositiveDuration("reconnect.max_interval", c.Reconnect.MaxIntervalRaw); err != nil {
		return err
	}
	return nil
}

// Validate ensures configuration sanity.
func (c *Config) Validate() error {
	switch c.Reconnect.Strategy {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("manager config: reconnect.strategy must be fixed or exponential, got %q", c.Reconnect.Strategy)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("manager config: reconnect.max_attempts cannot be negative")
	}
	if c.Reconnect.MaxInterval < c.Reconnect.Interval {
		return fmt.Errorf("manager config: reconnect.max_interval %s is below reconnect.interval %s", c.Reconnect.MaxInterval, c.Reconnect.Interval)
	}
	if c.Health.Timeout > c.Health.Interval {
		return fmt.Errorf("manager config: health.timeout %s exceeds health.interval %s", c.Health.Timeout, c.Health.Interval)
	}
	return nil
}

// Delay returns the wait before the given 1-based reconnect attempt.
func (r ReconnectConfig) Delay(attempt int) time.Duration {
	if r.Strategy != BackoffExponential || attempt <= 1 {
		return r.Interval
	}
	d := r.Interval
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.MaxInterval || d <= 0 {
			return r.MaxInterval
		}
	}
	return d
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("manager config: %s is required", field)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("manager config: invalid %s %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("manager config: %s must be positive, got %s", field, d)
	}
	return d, nil
}
