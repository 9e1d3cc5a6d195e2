package executor

import (
	"github.com/shopspring/decimal"

	"tradelink/pkg/exchange"
	"tradelink/pkg/risk"
)

// Leg names one order of a bracket.
type Leg string

const (
	LegEntry      Leg = "entry"
	LegStopLoss   Leg = "stop_loss"
	LegTakeProfit Leg = "take_profit"
)

// StopLossSpec describes the protective stop. Kind defaults to the
// executor's configured stop kind; LimitPrice is used by stop_limit only.
type StopLossSpec struct {
	Trigger    decimal.Decimal
	Kind       exchange.OrderKind
	LimitPrice decimal.Decimal
}

// TakeProfitSpec describes the profit target. Kind defaults to the
// executor's configured take-profit kind; a stop_limit take-profit triggers
// at Price and rests at LimitPrice (Price when unset).
type TakeProfitSpec struct {
	Price      decimal.Decimal
	Kind       exchange.OrderKind
	LimitPrice decimal.Decimal
}

// BracketSpec is an entry with its stop-loss and take-profit. For a long
// entry the stop-loss trigger must sit below the reference price and the
// take-profit above it; reversed for a short.
type BracketSpec struct {
	Entry      exchange.OrderIntent
	StopLoss   StopLossSpec
	TakeProfit TakeProfitSpec
	// ReferencePrice overrides the entry reference. Market entries without
	// one read the ticker.
	ReferencePrice decimal.Decimal
}

// LegError is the failure of one bracket leg.
type LegError struct {
	Leg Leg
	Err error
}

func (e LegError) Error() string { return string(e.Leg) + ": " + e.Err.Error() }

func (e LegError) Unwrap() error { return e.Err }

// BracketResult reports every leg. A nil leg was not placed. Success means
// all three legs were placed.
type BracketResult struct {
	GroupID    string
	Reference  decimal.Decimal
	Entry      *exchange.OrderOutcome
	StopLoss   *exchange.OrderOutcome
	TakeProfit *exchange.OrderOutcome
	Success    bool
	Errors     []LegError
}

// ProtectiveResult is the outcome of a stop-loss or take-profit replace.
type ProtectiveResult struct {
	Order        *exchange.OrderOutcome
	CancelledIDs []string
}

// RiskManagedResult carries the risk analysis whether or not the order was
// placed.
type RiskManagedResult struct {
	Analysis risk.Analysis
	Order    *exchange.OrderOutcome
	Rejected bool
	Reason   string
}
