package notification

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rickgao/livefeed/internal/protocol"
	"github.com/rickgao/livefeed/internal/registry"
)

// Subscriber is the subscription side of client.Client and registry.Registry.
type Subscriber interface {
	Subscribe(channel string, h registry.Handler) string
	Unsubscribe(id string)
}

// Option configures a Router.
type Option func(*Router)

// WithPresenter sets the toast presenter.
func WithPresenter(p Presenter) Option {
	return func(r *Router) {
		r.presenter = p
	}
}

// WithInvalidator sets the cache invalidator.
func WithInvalidator(inv Invalidator) Option {
	return func(r *Router) {
		r.invalidator = inv
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

type callback struct {
	id  string
	typ string
	fn  func(Event)
}

// Router interprets notification frames from the wildcard subscription.
type Router struct {
	sub         Subscriber
	subID       string
	presenter   Presenter
	invalidator Invalidator
	logger      *slog.Logger
	namespaces  []string
	dedupWindow time.Duration
	limiter     *rate.Limiter
	now         func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time // dedup key -> last shown
	callbacks []callback
	stats     Stats
	stopped   bool
}

// New creates a Router and subscribes it to the wildcard channel of sub.
func New(sub Subscriber, cfg Config, opts ...Option) *Router {
	r := &Router{
		sub:         sub,
		logger:      slog.Default(),
		dedupWindow: cfg.DedupWindow,
		now:         time.Now,
		seen:        make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	for _, ns := range cfg.Namespaces {
		if ns = strings.TrimSpace(ns); ns != "" {
			r.namespaces = append(r.namespaces, ns)
		}
	}
	// Longest prefix wins.
	sort.Slice(r.namespaces, func(i, j int) bool {
		return len(r.namespaces[i]) > len(r.namespaces[j])
	})

	limit := rate.Inf
	if cfg.ToastRate > 0 {
		limit = rate.Limit(cfg.ToastRate)
	}
	burst := cfg.ToastBurst
	if burst < 1 {
		burst = 1
	}
	r.limiter = rate.NewLimiter(limit, burst)

	r.subID = sub.Subscribe(protocol.Wildcard, r.Handle)

	r.logger.Info("notification router started",
		"namespaces", r.namespaces,
		"dedup_window", r.dedupWindow,
		"toast_rate", cfg.ToastRate,
	)
	return r
}

// On registers fn for events of typ and returns an id for Off.
func (r *Router) On(typ string, fn func(Event)) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback{id: id, typ: typ, fn: fn})
	return id
}

// Off removes a callback registered with On.
func (r *Router) Off(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, cb := range r.callbacks {
		if cb.id == id {
			next := make([]callback, 0, len(r.callbacks)-1)
			next = append(next, r.callbacks[:i]...)
			r.callbacks = append(next, r.callbacks[i+1:]...)
			return
		}
	}
}

// Stop unsubscribes the router. Safe to call more than once.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.sub.Unsubscribe(r.subID)
	r.logger.Info("notification router stopped")
}

// Stats returns router counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Handle processes one frame. It is the router's wildcard handler.
func (r *Router) Handle(f protocol.Frame) {
	if f.IsControl() {
		return
	}

	ns, ok := r.namespace(f.Channel)
	if !ok {
		r.count(func(s *Stats) { s.Ignored++ })
		return
	}
	r.count(func(s *Stats) { s.Received++ })

	p, item, err := parsePayload(f)
	if err != nil {
		r.count(func(s *Stats) { s.Rejected++ })
		r.logger.Debug("ignoring frame without item",
			"channel", f.Channel,
			"type", f.Type,
			"error", err,
		)
		return
	}

	ev := Event{
		Channel:    f.Channel,
		Namespace:  ns,
		Type:       f.Type,
		ChangeType: p.ChangeType,
		Message:    p.Message,
		Item:       item,
		Timestamp:  f.Time(),
	}

	switch ev.Type {
	case TypeNew:
		r.onNew(ev)
	case TypeUpdated:
		r.onUpdated(ev)
	case TypeAssigned:
		r.onAssigned(ev)
	default:
		r.count(func(s *Stats) { s.Unrouted++ })
		r.logger.Debug("unrouted notification type", "channel", f.Channel, "type", f.Type)
	}
}

func (r *Router) onNew(ev Event) {
	r.dispatch(ev, toastForNew)
}

func (r *Router) onUpdated(ev Event) {
	if ev.ChangeType == "" {
		ev.ChangeType = ev.Item.Status
	}
	r.dispatch(ev, toastForUpdated)
}

func (r *Router) onAssigned(ev Event) {
	r.dispatch(ev, toastForAssigned)
}

// dispatch runs the independent effects of one event. A failure in one
// effect does not stop the others.
func (r *Router) dispatch(ev Event, build func(Event) Toast) {
	if r.invalidator != nil {
		r.guard("invalidate", ev, func() { r.invalidator.Invalidate(ev.Namespace) })
	}

	for _, cb := range r.callbacksFor(ev.Type) {
		r.guard("callback", ev, func() { cb.fn(ev) })
	}

	if r.presenter != nil {
		r.guard("toast", ev, func() { r.toast(ev, build) })
	}
}

func (r *Router) toast(ev Event, build func(Event) Toast) {
	if !ShouldToast(ev.Type, ev.ChangeType) {
		r.count(func(s *Stats) { s.Suppressed++ })
		return
	}
	key := dedupKey(ev)
	if r.recentlyShown(key) {
		r.count(func(s *Stats) { s.Deduplicated++ })
		r.logger.Debug("duplicate toast suppressed", "channel", ev.Channel, "item", ev.Item.ID)
		return
	}
	if !r.limiter.Allow() {
		r.count(func(s *Stats) { s.RateLimited++ })
		r.logger.Warn("toast rate limited", "channel", ev.Channel, "item", ev.Item.ID)
		return
	}

	t := build(ev)
	r.presenter.Present(t)
	r.markShown(key)
	r.count(func(s *Stats) { s.Toasts++ })
}

func dedupKey(ev Event) string {
	return ev.Namespace + "|" + ev.Type + "|" + string(ev.Item.ID) + "|" + ev.ChangeType
}

// recentlyShown reports whether a toast for key was shown within the dedup
// window. Expired keys are swept.
func (r *Router) recentlyShown(key string) bool {
	if r.dedupWindow <= 0 {
		return false
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, at := range r.seen {
		if now.Sub(at) >= r.dedupWindow {
			delete(r.seen, k)
		}
	}
	_, ok := r.seen[key]
	return ok
}

// markShown starts the dedup window for key.
func (r *Router) markShown(key string) {
	if r.dedupWindow <= 0 {
		return
	}
	now := r.now()

	r.mu.Lock()
	r.seen[key] = now
	r.mu.Unlock()
}

func (r *Router) callbacksFor(typ string) []callback {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []callback
	for _, cb := range r.callbacks {
		if cb.typ == typ {
			out = append(out, cb)
		}
	}
	return out
}

// namespace returns the feature key for channel, or false if the channel is
// outside every configured namespace.
func (r *Router) namespace(channel string) (string, bool) {
	if len(r.namespaces) == 0 {
		ns, _, _ := strings.Cut(channel, ":")
		return ns, true
	}

	for _, prefix := range r.namespaces {
		if strings.HasPrefix(channel, prefix) {
			return strings.TrimSuffix(prefix, ":"), true
		}
	}
	return "", false
}

func (r *Router) guard(effect string, ev Event, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.count(func(s *Stats) { s.EffectFailures++ })
			r.logger.Warn("notification effect failed",
				"effect", effect,
				"channel", ev.Channel,
				"type", ev.Type,
				"error", fmt.Sprint(rec),
			)
		}
	}()
	fn()
}

func (r *Router) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}
