package notification

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/livefeed/internal/protocol"
	"github.com/rickgao/livefeed/internal/registry"
)

type recordingPresenter struct {
	mu     sync.Mutex
	toasts []Toast
}

func (p *recordingPresenter) Present(t Toast) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toasts = append(p.toasts, t)
}

func (p *recordingPresenter) Toasts() []Toast {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Toast(nil), p.toasts...)
}

func frameOf(channel, typ, data string) protocol.Frame {
	return protocol.Frame{Channel: channel, Type: typ, Data: json.RawMessage(data)}
}

type fixture struct {
	reg         *registry.Registry
	router      *Router
	presenter   *recordingPresenter
	invalidated []string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		reg:       registry.New(slog.Default()),
		presenter: &recordingPresenter{},
	}
	f.router = New(f.reg, cfg,
		WithPresenter(f.presenter),
		WithInvalidator(InvalidatorFunc(func(key string) { f.invalidated = append(f.invalidated, key) })),
		WithLogger(slog.Default()),
	)
	t.Cleanup(f.router.Stop)
	return f
}

func approvalConfig() Config {
	return Config{Namespaces: []string{"approval:"}}
}

func TestRouter_SubscribesToWildcard(t *testing.T) {
	f := newFixture(t, approvalConfig())

	assert.Equal(t, []string{protocol.Wildcard}, f.reg.Channels())

	f.router.Stop()
	f.router.Stop()
	assert.Zero(t, f.reg.Stats().Subscriptions)
}

func TestRouter_NewItem(t *testing.T) {
	f := newFixture(t, approvalConfig())

	var events []Event
	f.router.On(TypeNew, func(ev Event) { events = append(events, ev) })

	f.reg.Dispatch(frameOf("approval:team-7", TypeNew,
		`{"item":{"id":"a-1","title":"Laptop purchase","url":"/approvals/a-1"}}`))

	require.Len(t, events, 1)
	assert.Equal(t, "approval", events[0].Namespace)
	assert.Equal(t, ItemID("a-1"), events[0].Item.ID)
	assert.JSONEq(t, `{"id":"a-1","title":"Laptop purchase","url":"/approvals/a-1"}`, string(events[0].Item.Raw))

	assert.Equal(t, []string{"approval"}, f.invalidated)
	require.Len(t, f.presenter.Toasts(), 1)
	assert.Equal(t, "New approval", f.presenter.Toasts()[0].Title)
	assert.Equal(t, "/approvals/a-1", f.presenter.Toasts()[0].ActionURL)

	stats := f.router.Stats()
	assert.Equal(t, int64(1), stats.Received)
	assert.Equal(t, int64(1), stats.Toasts)
}

func TestRouter_RejectsFramesWithoutItem(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no data", ``},
		{"null", `null`},
		{"no item", `{"changeType":"approved"}`},
		{"item not object", `{"item":"a-1"}`},
		{"item array", `{"item":[1]}`},
		{"item null", `{"item":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, approvalConfig())
			called := false
			f.router.On(TypeNew, func(Event) { called = true })

			f.reg.Dispatch(frameOf("approval:x", TypeNew, tt.data))

			assert.False(t, called)
			assert.Empty(t, f.presenter.Toasts())
			assert.Empty(t, f.invalidated)
			assert.Equal(t, int64(1), f.router.Stats().Rejected)
		})
	}
}

func TestRouter_NamespaceFilter(t *testing.T) {
	f := newFixture(t, approvalConfig())

	f.reg.Dispatch(frameOf("risk:alert", TypeNew, `{"item":{"id":"r-1"}}`))
	f.reg.Dispatch(frameOf("approvals", TypeNew, `{"item":{"id":"r-2"}}`))

	assert.Empty(t, f.presenter.Toasts())
	assert.Equal(t, int64(2), f.router.Stats().Ignored)
	assert.Zero(t, f.router.Stats().Received)
}

func TestRouter_NoNamespacesAcceptsAll(t *testing.T) {
	f := newFixture(t, Config{})

	f.reg.Dispatch(frameOf("risk:alert", TypeAssigned, `{"item":{"id":7,"title":"VaR breach"}}`))

	require.Len(t, f.presenter.Toasts(), 1)
	assert.Equal(t, "Risk assigned to you", f.presenter.Toasts()[0].Title)
	assert.Equal(t, []string{"risk"}, f.invalidated)
}

func TestRouter_UpdatedPolicy(t *testing.T) {
	f := newFixture(t, approvalConfig())

	var updates []string
	f.router.On(TypeUpdated, func(ev Event) { updates = append(updates, ev.ChangeType) })

	f.reg.Dispatch(frameOf("approval:1", TypeUpdated, `{"item":{"id":"a"},"changeType":"in_review"}`))
	f.reg.Dispatch(frameOf("approval:1", TypeUpdated, `{"item":{"id":"a"},"changeType":"approved"}`))
	f.reg.Dispatch(frameOf("approval:1", TypeUpdated, `{"item":{"id":"b","status":"rejected"}}`))

	// Cache invalidation and callbacks run regardless of toast policy.
	assert.Equal(t, []string{"in_review", "approved", "rejected"}, updates)
	assert.Len(t, f.invalidated, 3)

	toasts := f.presenter.Toasts()
	require.Len(t, toasts, 2)
	assert.Equal(t, SeveritySuccess, toasts[0].Severity)
	assert.Equal(t, SeverityError, toasts[1].Severity)
	assert.Equal(t, int64(1), f.router.Stats().Suppressed)
}

func TestRouter_UnknownTypeUnrouted(t *testing.T) {
	f := newFixture(t, approvalConfig())

	called := false
	f.router.On("deleted", func(Event) { called = true })
	f.reg.Dispatch(frameOf("approval:1", "deleted", `{"item":{"id":"a"}}`))

	assert.False(t, called)
	assert.Empty(t, f.presenter.Toasts())
	assert.Empty(t, f.invalidated)
	assert.Equal(t, int64(1), f.router.Stats().Unrouted)
}

func TestRouter_EffectsAreIndependent(t *testing.T) {
	reg := registry.New(slog.Default())
	presenter := &recordingPresenter{}
	r := New(reg, approvalConfig(),
		WithPresenter(presenter),
		WithInvalidator(InvalidatorFunc(func(string) { panic("cache unavailable") })),
	)
	defer r.Stop()

	var second bool
	r.On(TypeNew, func(Event) { panic("feature bug") })
	r.On(TypeNew, func(Event) { second = true })

	reg.Dispatch(frameOf("approval:1", TypeNew, `{"item":{"id":"a"}}`))

	assert.True(t, second)
	assert.Len(t, presenter.Toasts(), 1)
	assert.Equal(t, int64(2), r.Stats().EffectFailures)
}

func TestRouter_PresenterPanicIsolated(t *testing.T) {
	reg := registry.New(slog.Default())
	var invalidated int
	r := New(reg, approvalConfig(),
		WithPresenter(PresenterFunc(func(Toast) { panic("render failed") })),
		WithInvalidator(InvalidatorFunc(func(string) { invalidated++ })),
	)
	defer r.Stop()

	reg.Dispatch(frameOf("approval:1", TypeNew, `{"item":{"id":"a"}}`))
	reg.Dispatch(frameOf("approval:1", TypeNew, `{"item":{"id":"b"}}`))

	assert.Equal(t, 2, invalidated)
	assert.Equal(t, int64(2), r.Stats().EffectFailures)
	assert.Zero(t, reg.Stats().HandlerPanics)
}

func TestRouter_Dedup(t *testing.T) {
	cfg := approvalConfig()
	cfg.DedupWindow = time.Minute
	f := newFixture(t, cfg)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.router.now = func() time.Time { return now }

	newFrame := frameOf("approval:1", TypeNew, `{"item":{"id":"a"}}`)
	f.reg.Dispatch(newFrame)
	f.reg.Dispatch(newFrame)
	f.reg.Dispatch(frameOf("approval:1", TypeNew, `{"item":{"id":"b"}}`))
	f.reg.Dispatch(frameOf("approval:1", TypeUpdated, `{"item":{"id":"a"},"changeType":"approved"}`))

	assert.Len(t, f.presenter.Toasts(), 3)
	assert.Equal(t, int64(1), f.router.Stats().Deduplicated)
	assert.Len(t, f.invalidated, 4)

	now = now.Add(time.Minute)
	f.reg.Dispatch(newFrame)
	assert.Len(t, f.presenter.Toasts(), 4)
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := approvalConfig()
	cfg.ToastRate = 0.001
	cfg.ToastBurst = 2
	f := newFixture(t, cfg)

	for _, id := range []string{"a", "b", "c", "d"} {
		f.reg.Dispatch(frameOf("approval:1", TypeNew, `{"item":{"id":"`+id+`"}}`))
	}

	assert.Len(t, f.presenter.Toasts(), 2)
	assert.Equal(t, int64(2), f.router.Stats().RateLimited)
	assert.Len(t, f.invalidated, 4)
}

func TestRouter_RateLimitedToastIsNotDeduplicated(t *testing.T) {
	cfg := approvalConfig()
	cfg.DedupWindow = time.Minute
	cfg.ToastRate = 20
	cfg.ToastBurst = 1
	f := newFixture(t, cfg)

	a := frameOf("approval:1", TypeNew, `{"item":{"id":"a"}}`)
	b := frameOf("approval:1", TypeNew, `{"item":{"id":"b"}}`)

	f.reg.Dispatch(a)
	f.reg.Dispatch(b)
	require.Len(t, f.presenter.Toasts(), 1)
	require.Equal(t, int64(1), f.router.Stats().RateLimited)

	// Wait for the bucket to refill; the redelivered b must show.
	time.Sleep(200 * time.Millisecond)
	f.reg.Dispatch(b)

	assert.Len(t, f.presenter.Toasts(), 2)
	assert.Zero(t, f.router.Stats().Deduplicated)

	// Once shown, b is deduplicated.
	time.Sleep(200 * time.Millisecond)
	f.reg.Dispatch(b)
	assert.Len(t, f.presenter.Toasts(), 2)
	assert.Equal(t, int64(1), f.router.Stats().Deduplicated)
}

func TestRouter_Off(t *testing.T) {
	f := newFixture(t, approvalConfig())

	calls := 0
	id := f.router.On(TypeAssigned, func(Event) { calls++ })
	f.reg.Dispatch(frameOf("approval:1", TypeAssigned, `{"item":{"id":"a"}}`))

	f.router.Off(id)
	f.router.Off(id)
	f.reg.Dispatch(frameOf("approval:1", TypeAssigned, `{"item":{"id":"b"}}`))

	assert.Equal(t, 1, calls)
}

func TestRouter_LongestNamespaceWins(t *testing.T) {
	f := newFixture(t, Config{Namespaces: []string{"approval:", "approval:urgent:"}})

	f.reg.Dispatch(frameOf("approval:urgent:9", TypeNew, `{"item":{"id":"a"}}`))
	f.reg.Dispatch(frameOf("approval:9", TypeNew, `{"item":{"id":"b"}}`))

	assert.Equal(t, []string{"approval:urgent", "approval"}, f.invalidated)
}
