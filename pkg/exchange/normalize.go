package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeStatus maps a venue status string onto the canonical enum. An
// open order that reports a partial fill becomes partially filled.
func NormalizeStatus(raw string, amount, filled decimal.Decimal) OrderStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)

	switch {
	case s == "filled" || s == "closed" || s == "done" || s == "complete" || s == "completed":
		return StatusFilled
	case strings.Contains(s, "partial"):
		return StatusPartiallyFilled
	case strings.Contains(s, "cancel") || s == "expired":
		return StatusCancelled
	case strings.Contains(s, "reject") || s == "failed" || s == "error":
		return StatusRejected
	case s == "open" || s == "new" || s == "resting" || s == "live" || s == "active" ||
		s == "accepted" || s == "triggered" || s == "untriggered":
		if filled.IsPositive() && amount.IsPositive() && filled.LessThan(amount) {
			return StatusPartiallyFilled
		}
		return StatusOpen
	default:
		return StatusPending
	}
}

// NormalizeSide maps a venue side string; unknown input yields "".
func NormalizeSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "b", "bid", "long":
		return SideBuy
	case "sell", "s", "a", "ask", "short":
		return SideSell
	}
	return ""
}

// NormalizeKind maps a venue order type, falling back when unrecognised.
func NormalizeKind(raw string, fallback OrderKind) OrderKind {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "market":
		return OrderMarket
	case "limit":
		return OrderLimit
	case "stop", "stop_market", "stop_loss", "take_profit", "take_profit_market":
		return OrderStop
	case "stop_limit", "stop_loss_limit", "take_profit_limit":
		return OrderStopLimit
	}
	return fallback
}

func normalizePositionSide(raw string, size decimal.Decimal) PositionSide {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return PositionLong
	case "short", "sell":
		return PositionShort
	}
	if size.IsNegative() {
		return PositionShort
	}
	return PositionLong
}

func normalizeMarginMode(raw string) MarginMode {
	if strings.EqualFold(strings.TrimSpace(raw), string(MarginIsolated)) {
		return MarginIsolated
	}
	return MarginCross
}

// ParseInterval accepts the usual candle notation: 1m, 15m, 1h, 4h, 1d, 1w.
func ParseInterval(interval string) (time.Duration, error) {
	s := strings.TrimSpace(interval)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	return time.Duration(n) * unit, nil
}
