package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tradelink/pkg/exchange"
)

// Snapshot is the account state an order is judged against. Zero equity
// means the balance is unknown and the loss checks pass unevaluated.
type Snapshot struct {
	Positions  []exchange.PositionSnapshot
	Equity     decimal.Decimal
	PeakEquity decimal.Decimal
}

// Analysis is the full outcome of Validate. A check flag is true only when
// the check was reached and passed; checks after the rejecting one stay
// false.
type Analysis struct {
	Allowed  bool
	Reason   string
	Warnings []string

	EmergencyStopCheck       bool
	LeverageCheck            bool
	PositionSizeCheck        bool
	ConcurrentPositionsCheck bool
	DailyLossCheck           bool
	DrawdownCheck            bool

	// Leverage is the requested leverage, or the open position's when the
	// order sets none.
	Leverage              int
	ResultingPositionSize decimal.Decimal
	OpenPositions         int
	NewPosition           bool
	DailyLossPct          decimal.Decimal
	DrawdownPct           decimal.Decimal
}

// Validate runs the pre-trade checks in order and stops at the first
// failure. It performs no I/O.
func Validate(intent exchange.OrderIntent, snap Snapshot, policy Policy) Analysis {
	a := Analysis{}
	symbol := strings.TrimSpace(intent.Symbol)

	if policy.EmergencyStop {
		return a.reject("emergency stop is active")
	}
	a.EmergencyStopCheck = true

	existing, hasExisting := findPosition(snap.Positions, symbol)
	a.Leverage = effectiveLeverage(intent, existing, hasExisting)
	if policy.MaxLeverage > 0 && a.Leverage > policy.MaxLeverage {
		return a.reject(fmt.Sprintf("leverage %dx exceeds max %dx", a.Leverage, policy.MaxLeverage))
	}
	a.LeverageCheck = true

	a.ResultingPositionSize = intent.Quantity
	if hasExisting && !intent.ReduceOnly && existing.Side.EntrySide() == intent.Side {
		a.ResultingPositionSize = existing.Size.Abs().Add(intent.Quantity)
	}
	if policy.MaxPositionSize.IsPositive() && a.ResultingPositionSize.GreaterThan(policy.MaxPositionSize) {
		return a.reject(fmt.Sprintf("position size %s exceeds max %s", a.ResultingPositionSize, policy.MaxPositionSize))
	}
	a.PositionSizeCheck = true

	a.OpenPositions = countOpen(snap.Positions)
	a.NewPosition = !hasExisting && !intent.ReduceOnly
	if a.NewPosition && policy.MaxConcurrentPositions > 0 && a.OpenPositions >= policy.MaxConcurrentPositions {
		return a.reject(fmt.Sprintf("already at max concurrent positions (%d)", policy.MaxConcurrentPositions))
	}
	a.ConcurrentPositionsCheck = true

	if snap.Equity.IsPositive() {
		a.DailyLossPct = unrealizedLoss(snap.Positions).Div(snap.Equity).Mul(hundred)
		if reason, ok := a.checkLoss("daily loss", a.DailyLossPct, policy.MaxDailyLossPct); !ok {
			return a.reject(reason)
		}
	}
	a.DailyLossCheck = true

	if snap.Equity.IsPositive() {
		a.DrawdownPct = drawdown(snap, a.DailyLossPct)
		if reason, ok := a.checkLoss("drawdown", a.DrawdownPct, policy.MaxDrawdownPct); !ok {
			return a.reject(reason)
		}
	}
	a.DrawdownCheck = true

	if policy.RiskScore >= highRiskScore {
		if a.Leverage >= highLeverage {
			a.warn(fmt.Sprintf("risk score %d with %dx leverage", policy.RiskScore, a.Leverage))
		}
		if policy.MaxPositionSize.IsPositive() && a.ResultingPositionSize.GreaterThan(policy.MaxPositionSize.Mul(largeFraction)) {
			a.warn(fmt.Sprintf("risk score %d with position size %s above half the max", policy.RiskScore, a.ResultingPositionSize))
		}
	}

	a.Allowed = true
	return a
}

func (a Analysis) reject(reason string) Analysis {
	a.Allowed = false
	a.Reason = reason
	return a
}

func (a *Analysis) warn(msg string) {
	a.Warnings = append(a.Warnings, msg)
}

// checkLoss rejects at the limit and warns from 80% of it.
func (a *Analysis) checkLoss(name string, pct, limit decimal.Decimal) (string, bool) {
	if !limit.IsPositive() {
		return "", true
	}
	if pct.GreaterThanOrEqual(limit) {
		return fmt.Sprintf("%s %s%% reached limit %s%%", name, pct.StringFixed(2), limit), false
	}
	if pct.GreaterThanOrEqual(limit.Mul(warnFraction)) {
		a.warn(fmt.Sprintf("%s %s%% is near limit %s%%", name, pct.StringFixed(2), limit))
	}
	return "", true
}

// effectiveLeverage is what the order will trade at. An order that sets no
// leverage inherits the open position's; reduce-only orders cannot add
// exposure and are judged on their own value.
func effectiveLeverage(intent exchange.OrderIntent, existing exchange.PositionSnapshot, hasExisting bool) int {
	if intent.Leverage > 0 || intent.ReduceOnly || !hasExisting {
		return intent.Leverage
	}
	return existing.Leverage
}

func findPosition(positions []exchange.PositionSnapshot, symbol string) (exchange.PositionSnapshot, bool) {
	for _, p := range positions {
		if !p.Size.IsZero() && strings.EqualFold(p.Symbol, symbol) {
			return p, true
		}
	}
	return exchange.PositionSnapshot{}, false
}

func countOpen(positions []exchange.PositionSnapshot) int {
	n := 0
	for _, p := range positions {
		if !p.Size.IsZero() {
			n++
		}
	}
	return n
}

func unrealizedLoss(positions []exchange.PositionSnapshot) decimal.Decimal {
	loss := decimal.Zero
	for _, p := range positions {
		if p.UnrealizedPnL.IsNegative() {
			loss = loss.Add(p.UnrealizedPnL.Neg())
		}
	}
	return loss
}

// drawdown is peak-to-current when the peak is known, else the current
// unrealized loss ratio.
func drawdown(snap Snapshot, lossPct decimal.Decimal) decimal.Decimal {
	if !snap.PeakEquity.IsPositive() {
		return lossPct
	}
	dd := snap.PeakEquity.Sub(snap.Equity).Div(snap.PeakEquity).Mul(hundred)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}
