package sim

import (
	"context"
	"time"
)

// Operation names accepted by InjectFault and Calls.
const (
	OpAny          = "*"
	OpTime         = "time"
	OpMarkets      = "markets"
	OpPlace        = "place"
	OpCancel       = "cancel"
	OpFetchOrder   = "fetch_order"
	OpOpenOrders   = "open_orders"
	OpClosedOrders = "closed_orders"
	OpBalance      = "balance"
	OpPositions    = "positions"
	OpTicker       = "ticker"
	OpOrderBook    = "orderbook"
	OpOHLCV        = "ohlcv"
	OpLeverage     = "leverage"
	OpMarginMode   = "margin_mode"
	OpPositionMode = "position_mode"
)

type fault struct {
	err       error
	remaining int // <= 0 means until cleared
}

// InjectFault makes the next times calls of op fail with err. times <= 0
// keeps failing until ClearFaults. OpAny matches every operation.
func (v *Venue) InjectFault(op string, err error, times int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults[op] = &fault{err: err, remaining: times}
}

// ClearFaults removes all injected faults and latency.
func (v *Venue) ClearFaults() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults = make(map[string]*fault)
	v.latency = 0
}

// SetLatency delays every call by d, honouring context cancellation.
func (v *Venue) SetLatency(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.latency = d
}

// Calls reports how many times op reached the venue.
func (v *Venue) Calls(op string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

// enter records the call, applies latency and returns any injected fault.
func (v *Venue) enter(ctx context.Context, op string) error {
	v.mu.Lock()
	v.calls[op]++
	latency := v.latency
	v.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, key := range []string{op, OpAny} {
		f, ok := v.faults[key]
		if !ok {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(v.faults, key)
			}
		}
		return f.err
	}
	return nil
}
