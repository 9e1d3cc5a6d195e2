package executor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradelink/pkg/confkit"
	"tradelink/pkg/exchange"
	"tradelink/pkg/risk"
)

// Config controls runtime behaviour for the executor module.
type Config struct {
	Risk           RiskConfig            `yaml:"risk"`
	Overrides      map[string]RiskConfig `yaml:"overrides"`
	JournalDir     string                `yaml:"journal_dir"`
	StopLossKind   exchange.OrderKind    `yaml:"stop_loss_kind"`
	TakeProfitKind exchange.OrderKind    `yaml:"take_profit_kind"`
}

// RiskConfig is the YAML form of risk.Policy. In overrides, unset fields
// inherit the base policy.
type RiskConfig struct {
	MaxPositionSize        *float64 `yaml:"max_position_size,omitempty"`
	MaxLeverage            *int     `yaml:"max_leverage,omitempty"`
	MaxDailyLossPct        *float64 `yaml:"max_daily_loss_pct,omitempty"`
	MaxDrawdownPct         *float64 `yaml:"max_drawdown_pct,omitempty"`
	MaxConcurrentPositions *int     `yaml:"max_concurrent_positions,omitempty"`
	EmergencyStop          *bool    `yaml:"emergency_stop,omitempty"`
	RiskScore              *int     `yaml:"risk_score,omitempty"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	return confkit.Open("executor", path, LoadConfigFromReader)
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	if err := confkit.Decode("executor", r, func(data []byte) error { return yaml.Unmarshal(data, &cfg) }); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.expandFields()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StopLossKind == "" {
		c.StopLossKind = exchange.OrderStop
	}
	if c.TakeProfitKind == "" {
		c.TakeProfitKind = exchange.OrderLimit
	}
}

func (c *Config) expandFields() {
	c.JournalDir = strings.TrimSpace(os.ExpandEnv(c.JournalDir))
	c.StopLossKind = exchange.OrderKind(strings.ToLower(strings.TrimSpace(string(c.StopLossKind))))
	c.TakeProfitKind = exchange.OrderKind(strings.ToLower(strings.TrimSpace(string(c.TakeProfitKind))))
}

// Validate ensures configuration sanity.
func (c *Config) Validate() error {
	if c.StopLossKind != exchange.OrderStop && c.StopLossKind != exchange.OrderStopLimit {
		return fmt.Errorf("executor config: stop_loss_kind must be stop or stop_limit, got %q", c.StopLossKind)
	}
	if c.TakeProfitKind != exchange.OrderLimit && c.TakeProfitKind != exchange.OrderStopLimit {
		return fmt.Errorf("executor config: take_profit_kind must be limit or stop_limit, got %q", c.TakeProfitKind)
	}
	if err := c.Risk.policy(risk.Policy{}).Validate(); err != nil {
		return fmt.Errorf("executor config: risk: %w", err)
	}
	for symbol := range c.Overrides {
		if strings.TrimSpace(symbol) == "" {
			return errors.New("executor config: overrides cannot contain empty keys")
		}
		if err := c.PolicyFor(symbol).Validate(); err != nil {
			return fmt.Errorf("executor config: override %s: %w", symbol, err)
		}
	}
	return nil
}

// Policy returns the base risk policy.
func (c *Config) Policy() risk.Policy {
	return c.Risk.policy(risk.Policy{})
}

// PolicyFor returns the base policy with the symbol's overrides applied.
func (c *Config) PolicyFor(symbol string) risk.Policy {
	base := c.Policy()
	if override, ok := c.Overrides[symbol]; ok {
		return override.policy(base)
	}
	return base
}

func (r RiskConfig) policy(base risk.Policy) risk.Policy {
	p := base
	if r.MaxPositionSize != nil {
		p.MaxPositionSize = decimal.NewFromFloat(*r.MaxPositionSize)
	}
	if r.MaxLeverage != nil {
		p.MaxLeverage = *r.MaxLeverage
	}
	if r.MaxDailyLossPct != nil {
		p.MaxDailyLossPct = decimal.NewFromFloat(*r.MaxDailyLossPct)
	}
	if r.MaxDrawdownPct != nil {
		p.MaxDrawdownPct = decimal.NewFromFloat(*r.MaxDrawdownPct)
	}
	if r.MaxConcurrentPositions != nil {
		p.MaxConcurrentPositions = *r.MaxConcurrentPositions
	}
	if r.EmergencyStop != nil {
		p.EmergencyStop = *r.EmergencyStop
	}
	if r.RiskScore != nil {
		p.RiskScore = *r.RiskScore
	}
	return p
}
