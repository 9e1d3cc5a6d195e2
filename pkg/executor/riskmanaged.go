package executor

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"tradelink/pkg/events"
	"tradelink/pkg/exchange"
	"tradelink/pkg/journal"
	"tradelink/pkg/risk"
)

// PlaceOrderWithRiskManagement checks intent against policy using freshly
// fetched positions and balance, and places it only when approved. The
// analysis is returned either way. A position read failure fails closed; a
// balance read failure skips the loss checks with a warning.
func (e *Executor) PlaceOrderWithRiskManagement(ctx context.Context, intent exchange.OrderIntent, policy risk.Policy) (*RiskManagedResult, error) {
	const op = "place_order_with_risk"
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, exchange.Invalidf(op, "%v", err)
	}

	positions, err := e.trader.GetPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	snap := risk.Snapshot{Positions: positions}
	var balanceWarning string
	balances, err := e.trader.GetBalance(ctx, intent.Segment)
	if err != nil {
		logx.WithContext(ctx).Errorf("executor: %s %s: balance unavailable: %v", op, intent.Symbol, err)
		balanceWarning = "balance unavailable, loss checks skipped: " + err.Error()
	} else {
		snap.Equity = equityFor(intent.Symbol, balances)
		snap.PeakEquity = e.observeEquity(snap.Equity)
	}

	analysis := risk.Validate(intent, snap, policy)
	if balanceWarning != "" {
		analysis.Warnings = append(analysis.Warnings, balanceWarning)
	}
	res := &RiskManagedResult{Analysis: analysis}

	if !analysis.Allowed {
		res.Rejected = true
		res.Reason = analysis.Reason
		metricRiskDecisions.Inc(e.trader.Venue(), "rejected")
		logx.WithContext(ctx).Infof("executor: risk rejected %s %s %s: %s", intent.Symbol, intent.Side, intent.Quantity, analysis.Reason)
		e.sink.Emit(events.RiskOrderRejected{Source: e.source(), Symbol: intent.Symbol, Reason: analysis.Reason})
		e.recordRisk(ctx, intent, analysis, nil, nil)
		return res, nil
	}

	metricRiskDecisions.Inc(e.trader.Venue(), "approved")
	e.sink.Emit(events.RiskOrderApproved{Source: e.source(), Symbol: intent.Symbol, Warnings: analysis.Warnings})
	order, err := e.trader.PlaceOrder(ctx, intent)
	res.Order = order
	e.recordRisk(ctx, intent, analysis, order, err)
	if err != nil {
		return res, err
	}
	return res, nil
}

// PlaceOrderWithConfiguredRisk is PlaceOrderWithRiskManagement under the
// executor's configured policy for intent.Symbol, overrides included.
func (e *Executor) PlaceOrderWithConfiguredRisk(ctx context.Context, intent exchange.OrderIntent) (*RiskManagedResult, error) {
	return e.PlaceOrderWithRiskManagement(ctx, intent, e.cfg.PolicyFor(intent.Symbol))
}

// observeEquity folds equity into the high-water mark and returns the peak.
func (e *Executor) observeEquity(equity decimal.Decimal) decimal.Decimal {
	e.peakMu.Lock()
	defer e.peakMu.Unlock()
	if equity.GreaterThan(e.peak) {
		e.peak = equity
	}
	return e.peak
}

// equityFor picks the balance in the symbol's settlement currency, or the
// only balance when there is one.
func equityFor(symbol string, balances []exchange.Balance) decimal.Decimal {
	settle := settleCurrency(symbol)
	for _, b := range balances {
		if settle != "" && strings.EqualFold(b.Currency, settle) {
			return b.Total
		}
	}
	if len(balances) == 1 {
		return balances[0].Total
	}
	return decimal.Zero
}

// settleCurrency reads "BASE/QUOTE:SETTLE", falling back to QUOTE.
func settleCurrency(symbol string) string {
	if i := strings.LastIndex(symbol, ":"); i >= 0 {
		return symbol[i+1:]
	}
	if i := strings.Index(symbol, "/"); i >= 0 {
		return symbol[i+1:]
	}
	return ""
}

func (e *Executor) recordRisk(ctx context.Context, intent exchange.OrderIntent, a risk.Analysis, order *exchange.OrderOutcome, placeErr error) {
	if e.recorder == nil {
		return
	}
	rec := &journal.Record{
		Kind:    journal.KindRiskCheck,
		Symbol:  intent.Symbol,
		Success: a.Allowed && placeErr == nil,
		Risk: &journal.RiskEntry{
			Allowed:  a.Allowed,
			Reason:   a.Reason,
			Warnings: a.Warnings,
			Checks: map[string]bool{
				"emergency_stop":       a.EmergencyStopCheck,
				"leverage":             a.LeverageCheck,
				"position_size":        a.PositionSizeCheck,
				"concurrent_positions": a.ConcurrentPositionsCheck,
				"daily_loss":           a.DailyLossCheck,
				"drawdown":             a.DrawdownCheck,
			},
			Figures: map[string]any{
				"resulting_position_size": a.ResultingPositionSize.String(),
				"open_positions":          a.OpenPositions,
				"daily_loss_pct":          a.DailyLossPct.StringFixed(4),
				"drawdown_pct":            a.DrawdownPct.StringFixed(4),
			},
		},
	}
	if a.Allowed {
		rec.Orders = []journal.OrderEntry{orderEntry(LegEntry, order, placeErr)}
	}
	if placeErr != nil {
		rec.Errors = []string{placeErr.Error()}
	}
	e.record(ctx, rec)
}
