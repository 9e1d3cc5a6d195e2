package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	minRiskScore = 1
	maxRiskScore = 10
	// highRiskScore and above adds advisory warnings.
	highRiskScore = 8
)

var (
	hundred = decimal.NewFromInt(100)
	// warnFraction of a loss limit produces a warning instead of a rejection.
	warnFraction = decimal.RequireFromString("0.8")
	// largeFraction of the max position size counts as a large position.
	largeFraction = decimal.RequireFromString("0.5")
)

// highLeverage and above counts as high leverage for the risk-score warning.
const highLeverage = 10

// Policy bounds what a single order may do. A zero numeric limit disables
// that limit.
type Policy struct {
	// MaxPositionSize is in base units of the traded instrument.
	MaxPositionSize        decimal.Decimal
	MaxLeverage            int
	MaxDailyLossPct        decimal.Decimal
	MaxDrawdownPct         decimal.Decimal
	MaxConcurrentPositions int
	EmergencyStop          bool
	// RiskScore (1-10) is advisory: it widens warnings and never rejects.
	RiskScore int
}

// Validate checks the policy ranges.
func (p Policy) Validate() error {
	if p.MaxPositionSize.IsNegative() {
		return fmt.Errorf("risk: max position size must not be negative, got %s", p.MaxPositionSize)
	}
	if p.MaxLeverage < 0 {
		return fmt.Errorf("risk: max leverage must not be negative, got %d", p.MaxLeverage)
	}
	if err := checkPct("max daily loss", p.MaxDailyLossPct); err != nil {
		return err
	}
	if err := checkPct("max drawdown", p.MaxDrawdownPct); err != nil {
		return err
	}
	if p.MaxConcurrentPositions < 0 {
		return fmt.Errorf("risk: max concurrent positions must not be negative, got %d", p.MaxConcurrentPositions)
	}
	if p.RiskScore != 0 && (p.RiskScore < minRiskScore || p.RiskScore > maxRiskScore) {
		return fmt.Errorf("risk: risk score must be between %d and %d, got %d", minRiskScore, maxRiskScore, p.RiskScore)
	}
	return nil
}

func checkPct(name string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(hundred) {
		return fmt.Errorf("risk: %s %% must be between 0 and 100, got %s", name, v)
	}
	return nil
}
