package cli

import (
	"context"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"tradelink/pkg/events"
)

// EventLogger writes every bus event to logx. Failures log at error level.
type EventLogger struct {
	logger logx.Logger
}

var _ events.Visitor = (*EventLogger)(nil)

// NewEventLogger constructs an EventLogger bound to ctx.
func NewEventLogger(ctx context.Context) *EventLogger {
	return &EventLogger{logger: logx.WithContext(ctx)}
}

// Run drains sub until it is closed.
func (l *EventLogger) Run(sub *events.Subscription) {
	for ev := range sub.C() {
		ev.Accept(l)
	}
	if n := sub.Dropped(); n > 0 {
		l.logger.Errorf("events: logger dropped %d events", n)
	}
}

func fields(kind events.Kind, src events.Source, extra ...logx.LogField) []logx.LogField {
	return append([]logx.LogField{
		logx.Field("event", kind.String()),
		logx.Field("venue", src.Venue),
		logx.Field("credential", src.CredentialID),
	}, extra...)
}

func (l *EventLogger) ConnectionEstablished(e events.ConnectionEstablished) {
	l.logger.Infow("connection established", fields(e.Kind(), e.Source)...)
}

func (l *EventLogger) ConnectionLost(e events.ConnectionLost) {
	l.logger.Errorw("connection lost", fields(e.Kind(), e.Source,
		logx.Field("error", e.Err), logx.Field("exhausted", e.Exhausted))...)
}

func (l *EventLogger) ConnectionRestored(e events.ConnectionRestored) {
	l.logger.Infow("connection restored", fields(e.Kind(), e.Source, logx.Field("attempts", e.Attempts))...)
}

func (l *EventLogger) OrderPlaced(e events.OrderPlaced) {
	l.logger.Infow("order placed", fields(e.Kind(), e.Source,
		logx.Field("order_id", e.OrderID),
		logx.Field("client_id", e.ClientID),
		logx.Field("symbol", e.Symbol),
		logx.Field("side", e.Side),
		logx.Field("type", e.OrderKind),
		logx.Field("status", e.Status),
		logx.Field("quantity", e.Quantity))...)
}

func (l *EventLogger) OrderCancelled(e events.OrderCancelled) {
	l.logger.Infow("order cancelled", fields(e.Kind(), e.Source,
		logx.Field("order_id", e.OrderID), logx.Field("symbol", e.Symbol))...)
}

func (l *EventLogger) OrderFailed(e events.OrderFailed) {
	l.logger.Errorw("order call failed", fields(e.Kind(), e.Source,
		logx.Field("op", e.Op), logx.Field("symbol", e.Symbol), logx.Field("error", e.Err))...)
}

func (l *EventLogger) LeverageChanged(e events.LeverageChanged) {
	l.logger.Infow("leverage changed", fields(e.Kind(), e.Source,
		logx.Field("symbol", e.Symbol), logx.Field("leverage", e.Leverage))...)
}

func (l *EventLogger) MarginModeChanged(e events.MarginModeChanged) {
	l.logger.Infow("margin mode changed", fields(e.Kind(), e.Source,
		logx.Field("symbol", e.Symbol), logx.Field("mode", e.Mode))...)
}

func (l *EventLogger) PositionModeChanged(e events.PositionModeChanged) {
	l.logger.Infow("position mode changed", fields(e.Kind(), e.Source, logx.Field("hedged", e.Hedged))...)
}

func (l *EventLogger) BracketCompletedWithErrors(e events.BracketCompletedWithErrors) {
	l.logger.Errorw("bracket completed with errors", fields(e.Kind(), e.Source,
		logx.Field("symbol", e.Symbol),
		logx.Field("entry_order_id", e.EntryOrderID),
		logx.Field("errors", strings.Join(e.Errors, "; ")))...)
}

func (l *EventLogger) RiskOrderApproved(e events.RiskOrderApproved) {
	l.logger.Infow("risk order approved", fields(e.Kind(), e.Source,
		logx.Field("symbol", e.Symbol), logx.Field("warnings", strings.Join(e.Warnings, "; ")))...)
}

func (l *EventLogger) RiskOrderRejected(e events.RiskOrderRejected) {
	l.logger.Infow("risk order rejected", fields(e.Kind(), e.Source,
		logx.Field("symbol", e.Symbol), logx.Field("reason", e.Reason))...)
}
