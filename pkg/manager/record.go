package manager

import (
	"strings"
	"time"

	"tradelink/pkg/exchange"
)

// State captures a connection's lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
	StateReconnecting State = "reconnecting"
)

// Key identifies one supervised connection.
type Key struct {
	Venue        string
	CredentialID string
}

func newKey(venue, credentialID string) Key {
	return Key{Venue: strings.ToLower(strings.TrimSpace(venue)), CredentialID: strings.TrimSpace(credentialID)}
}

func (k Key) String() string { return k.Venue + "/" + k.CredentialID }

// ConnectionRecord is the diagnostic view of one connection. Records are
// never deleted; a dropped connection is only marked not live.
type ConnectionRecord struct {
	Venue        string
	CredentialID string
	State        State
	Live         bool

	LastConnectedAt time.Time
	LastCheckedAt   time.Time
	LastError       string
	// ReconnectAttempts counts attempts in the current reconnect cycle.
	ReconnectAttempts int
	Capabilities      exchange.Capabilities

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the record's identity.
func (r ConnectionRecord) Key() Key { return Key{Venue: r.Venue, CredentialID: r.CredentialID} }

// InitResult reports the outcome of Initialize. A failed connect is carried
// in Err, never returned as a Go error.
type InitResult struct {
	Record ConnectionRecord
	Client exchange.Client
	Err    error
}

// OK reports whether the connection is live.
func (r InitResult) OK() bool { return r.Err == nil && r.Client != nil }
