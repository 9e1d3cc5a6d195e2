package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RecordKind names what an execution record describes.
type RecordKind string

const (
	KindBracket    RecordKind = "bracket"
	KindStopLoss   RecordKind = "stop_loss"
	KindTakeProfit RecordKind = "take_profit"
	KindRiskCheck  RecordKind = "risk_check"
)

// OrderEntry is one order leg as placed or attempted.
type OrderEntry struct {
	Leg      string `json:"leg"`
	OrderID  string `json:"order_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Side     string `json:"side,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Status   string `json:"status,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	Price    string `json:"price,omitempty"`
	Trigger  string `json:"trigger,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RiskEntry captures a risk gate decision with its per-check results.
type RiskEntry struct {
	Allowed  bool            `json:"allowed"`
	Reason   string          `json:"reason,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Checks   map[string]bool `json:"checks"`
	Figures  map[string]any  `json:"figures,omitempty"`
}

// Record captures one execution step for audit and analysis.
type Record struct {
	Timestamp    time.Time      `json:"timestamp"`
	Sequence     int            `json:"sequence"`
	Kind         RecordKind     `json:"kind"`
	Venue        string         `json:"venue"`
	CredentialID string         `json:"credential_id"`
	Symbol       string         `json:"symbol"`
	Success      bool           `json:"success"`
	Orders       []OrderEntry   `json:"orders,omitempty"`
	Cancelled    []string       `json:"cancelled,omitempty"`
	Risk         *RiskEntry     `json:"risk,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Writer persists records to a directory as JSON files (journal style).
type Writer struct {
	dir   string
	nowFn func() time.Time

	mu  sync.Mutex
	seq int
}

// NewWriter constructs a journal writer.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		dir = "journal"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create %s: %w", dir, err)
	}
	return &Writer{dir: dir, nowFn: time.Now}, nil
}

// Dir returns the directory records are written to.
func (w *Writer) Dir() string { return w.dir }

// Write stores rec in a timestamped JSON file and returns its path.
func (w *Writer) Write(rec *Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	rec.Sequence = w.seq
	name := fmt.Sprintf("%s_%s_%05d.json", rec.Kind, rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("journal: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("journal: write %s: %w", path, err)
	}
	return path, nil
}
