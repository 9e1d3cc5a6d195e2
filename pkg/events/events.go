package events

import "time"

// Kind enumerates the lifecycle notifications emitted by the execution core.
type Kind uint8

const (
	KindConnectionEstablished Kind = iota + 1
	KindConnectionLost
	KindConnectionRestored
	KindOrderPlaced
	KindOrderCancelled
	KindOrderFailed
	KindLeverageChanged
	KindMarginModeChanged
	KindPositionModeChanged
	KindBracketCompletedWithErrors
	KindRiskOrderApproved
	KindRiskOrderRejected
)

func (k Kind) String() string {
	switch k {
	case KindConnectionEstablished:
		return "connection-established"
	case KindConnectionLost:
		return "connection-lost"
	case KindConnectionRestored:
		return "connection-restored"
	case KindOrderPlaced:
		return "order-placed"
	case KindOrderCancelled:
		return "order-cancelled"
	case KindOrderFailed:
		return "order-error"
	case KindLeverageChanged:
		return "leverage-changed"
	case KindMarginModeChanged:
		return "margin-mode-changed"
	case KindPositionModeChanged:
		return "position-mode-changed"
	case KindBracketCompletedWithErrors:
		return "bracket-completed-with-errors"
	case KindRiskOrderApproved:
		return "risk-order-approved"
	case KindRiskOrderRejected:
		return "risk-order-rejected"
	default:
		return "unknown"
	}
}

// Event is implemented only by the variants declared in this package.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
	// Accept dispatches the event to the matching Visitor method.
	Accept(v Visitor)
}

// Visitor must handle every variant, so adding a variant breaks every
// consumer at compile time until it is handled.
type Visitor interface {
	ConnectionEstablished(ConnectionEstablished)
	ConnectionLost(ConnectionLost)
	ConnectionRestored(ConnectionRestored)
	OrderPlaced(OrderPlaced)
	OrderCancelled(OrderCancelled)
	OrderFailed(OrderFailed)
	LeverageChanged(LeverageChanged)
	MarginModeChanged(MarginModeChanged)
	PositionModeChanged(PositionModeChanged)
	BracketCompletedWithErrors(BracketCompletedWithErrors)
	RiskOrderApproved(RiskOrderApproved)
	RiskOrderRejected(RiskOrderRejected)
}

// Source identifies the connection an event relates to.
type Source struct {
	Venue        string
	CredentialID string
	At           time.Time
}

// OccurredAt reports the emission time.
func (s Source) OccurredAt() time.Time { return s.At }

// ConnectionEstablished follows a successful initial connect.
type ConnectionEstablished struct {
	Source
}

// ConnectionLost is emitted when a health probe fails on a connected record,
// and again with Exhausted set once reconnection gives up.
type ConnectionLost struct {
	Source
	Err       string
	Exhausted bool
}

// ConnectionRestored follows a successful probe or reconnect after degradation.
type ConnectionRestored struct {
	Source
	Attempts int
}

// OrderPlaced reports an order accepted by the venue.
type OrderPlaced struct {
	Source
	OrderID   string
	ClientID  string
	Symbol    string
	Side      string
	OrderKind string
	Status    string
	Quantity  string
}

// OrderCancelled reports a successful cancellation.
type OrderCancelled struct {
	Source
	OrderID string
	Symbol  string
}

// OrderFailed reports a state-changing call that did not succeed.
type OrderFailed struct {
	Source
	Op     string
	Symbol string
	Err    string
}

// LeverageChanged reports a leverage update.
type LeverageChanged struct {
	Source
	Symbol   string
	Leverage int
}

// MarginModeChanged reports a margin-mode update.
type MarginModeChanged struct {
	Source
	Symbol string
	Mode   string
}

// PositionModeChanged reports a hedge/one-way switch.
type PositionModeChanged struct {
	Source
	Hedged bool
}

// BracketCompletedWithErrors reports a bracket whose entry was placed but at
// least one protective leg failed.
type BracketCompletedWithErrors struct {
	Source
	Symbol       string
	EntryOrderID string
	Errors       []string
}

// RiskOrderApproved reports an order that passed the risk gate.
type RiskOrderApproved struct {
	Source
	Symbol   string
	Warnings []string
}

// RiskOrderRejected reports an order denied by the risk gate.
type RiskOrderRejected struct {
	Source
	Symbol string
	Reason string
}

func (ConnectionEstablished) Kind() Kind      { return KindConnectionEstablished }
func (ConnectionLost) Kind() Kind             { return KindConnectionLost }
func (ConnectionRestored) Kind() Kind         { return KindConnectionRestored }
func (OrderPlaced) Kind() Kind                { return KindOrderPlaced }
func (OrderCancelled) Kind() Kind             { return KindOrderCancelled }
func (OrderFailed) Kind() Kind                { return KindOrderFailed }
func (LeverageChanged) Kind() Kind            { return KindLeverageChanged }
func (MarginModeChanged) Kind() Kind          { return KindMarginModeChanged }
func (PositionModeChanged) Kind() Kind        { return KindPositionModeChanged }
func (BracketCompletedWithErrors) Kind() Kind { return KindBracketCompletedWithErrors }
func (RiskOrderApproved) Kind() Kind          { return KindRiskOrderApproved }
func (RiskOrderRejected) Kind() Kind          { return KindRiskOrderRejected }

func (e ConnectionEstablished) Accept(v Visitor)      { v.ConnectionEstablished(e) }
func (e ConnectionLost) Accept(v Visitor)             { v.ConnectionLost(e) }
func (e ConnectionRestored) Accept(v Visitor)         { v.ConnectionRestored(e) }
func (e OrderPlaced) Accept(v Visitor)                { v.OrderPlaced(e) }
func (e OrderCancelled) Accept(v Visitor)             { v.OrderCancelled(e) }
func (e OrderFailed) Accept(v Visitor)                { v.OrderFailed(e) }
func (e LeverageChanged) Accept(v Visitor)            { v.LeverageChanged(e) }
func (e MarginModeChanged) Accept(v Visitor)          { v.MarginModeChanged(e) }
func (e PositionModeChanged) Accept(v Visitor)        { v.PositionModeChanged(e) }
func (e BracketCompletedWithErrors) Accept(v Visitor) { v.BracketCompletedWithErrors(e) }
func (e RiskOrderApproved) Accept(v Visitor)          { v.RiskOrderApproved(e) }
func (e RiskOrderRejected) Accept(v Visitor)          { v.RiskOrderRejected(e) }
