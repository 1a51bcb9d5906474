package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/livefeed/internal/protocol"
)

// Event types routed by the Router.
const (
	TypeNew      = "new"
	TypeUpdated  = "updated"
	TypeAssigned = "assigned"
)

// Change types carried by updated events.
const (
	ChangeApproved = "approved"
	ChangeRejected = "rejected"
	ChangeInReview = "in_review"
)

// ErrNoItem is returned for payloads without an "item" object.
var ErrNoItem = errors.New("payload has no item object")

// Severity of a toast.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Toast is handed to a Presenter.
type Toast struct {
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	Priority  string   `json:"priority"`
	ActionURL string   `json:"actionUrl,omitempty"`
}

// ItemID accepts both string and numeric ids.
type ItemID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ItemID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ItemID(n.String())
	return nil
}

// Item is the subject of a notification.
type Item struct {
	ID       ItemID `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	URL      string `json:"url"`

	// Raw is the undecoded item object.
	Raw json.RawMessage `json:"-"`
}

// Event is an accepted notification frame.
type Event struct {
	Channel    string
	Namespace  string
	Type       string
	ChangeType string
	Message    string
	Item       Item
	Timestamp  time.Time
}

type payload struct {
	Item       json.RawMessage `json:"item"`
	ChangeType string          `json:"changeType"`
	Message    string          `json:"message"`
}

// parsePayload decodes frame data, requiring an item object.
func parsePayload(f protocol.Frame) (payload, Item, error) {
	var p payload
	if len(f.Data) == 0 {
		return p, Item{}, ErrNoItem
	}
	if err := f.DecodeData(&p); err != nil {
		return p, Item{}, err
	}

	raw := bytes.TrimSpace(p.Item)
	if len(raw) == 0 || raw[0] != '{' {
		return p, Item{}, ErrNoItem
	}

	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return p, Item{}, err
	}
	item.Raw = raw
	return p, item, nil
}

// Presenter displays toasts.
type Presenter interface {
	Present(t Toast)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Toast)

// Present implements Presenter.
func (f PresenterFunc) Present(t Toast) { f(t) }

// Invalidator drops cached feature data for a key.
type Invalidator interface {
	Invalidate(key string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(string)

// Invalidate implements Invalidator.
func (f InvalidatorFunc) Invalidate(key string) { f(key) }

// Config configures a Router.
type Config struct {
	Namespaces  []string      // channel prefixes; empty accepts every channel
	DedupWindow time.Duration // 0 disables dedup
	ToastRate   float64       // toasts per second; <= 0 is unlimited
	ToastBurst  int
}

// DefaultConfig returns the default router config.
func DefaultConfig() Config {
	return Config{
		DedupWindow: 10 * time.Second,
		ToastRate:   1,
		ToastBurst:  5,
	}
}

// Stats contains router counters.
type Stats struct {
	Received       int64
	Ignored        int64 // outside every namespace
	Rejected       int64 // no item object
	Unrouted       int64 // unknown type
	Toasts         int64
	Suppressed     int64 // by policy
	Deduplicated   int64
	RateLimited    int64
	EffectFailures int64
}

