package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/livefeed/internal/protocol"
)

// Handler receives a dispatched frame. Handlers must return promptly.
type Handler func(frame protocol.Frame)

// Subscription is a single handler bound to a channel.
type Subscription struct {
	ID      string
	Channel string
	Handler Handler

	seq uint64
}

// Stats describes the current registry contents.
type Stats struct {
	Channels      int
	Subscriptions int
	Dispatched    int64
	HandlerPanics int64
}

// Registry owns every subscription of one client.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string][]*Subscription
	byID     map[string]*Subscription
	nextSeq  uint64

	statsMu    sync.Mutex
	dispatched int64
	panics     int64
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:   logger,
		channels: make(map[string][]*Subscription),
		byID:     make(map[string]*Subscription),
	}
}

// Subscribe appends handler to channel and returns an id for Unsubscribe.
// Duplicate registrations are independent entries.
func (r *Registry) Subscribe(channel string, handler Handler) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	sub := &Subscription{
		ID:      uuid.NewString(),
		Channel: channel,
		Handler: handler,
		seq:     r.nextSeq,
	}
	r.channels[channel] = append(r.channels[channel], sub)
	r.byID[sub.ID] = sub

	r.logger.Debug("subscribed", "channel", channel, "id", sub.ID)
	return sub.ID
}

// Unsubscribe removes exactly one subscription. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)

	subs := r.channels[sub.Channel]
	for i, s := range subs {
		if s.ID != id {
			continue
		}
		// Copy so slices captured by an in-flight Dispatch stay intact.
		next := make([]*Subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		subs = next
		break
	}

	if len(subs) == 0 {
		delete(r.channels, sub.Channel)
	} else {
		r.channels[sub.Channel] = subs
	}

	r.logger.Debug("unsubscribed", "channel", sub.Channel, "id", id)
}

// Clear removes every subscription.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels = make(map[string][]*Subscription)
	r.byID = make(map[string]*Subscription)
}

// Dispatch invokes every handler for frame.Channel and for the wildcard,
// in registration order.
func (r *Registry) Dispatch(frame protocol.Frame) {
	targets := r.targets(frame.Channel)

	r.statsMu.Lock()
	r.dispatched++
	r.statsMu.Unlock()

	for _, sub := range targets {
		r.invoke(sub, frame)
	}
}

// Channels returns the subscribed channel names in sorted order.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns current statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	channels, subs := len(r.channels), len(r.byID)
	r.mu.RUnlock()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	return Stats{
		Channels:      channels,
		Subscriptions: subs,
		Dispatched:    r.dispatched,
		HandlerPanics: r.panics,
	}
}

// targets merges the channel and wildcard lists by registration sequence.
func (r *Registry) targets(channel string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	direct := r.channels[channel]
	if channel == protocol.Wildcard {
		return direct
	}
	wild := r.channels[protocol.Wildcard]

	out := make([]*Subscription, 0, len(direct)+len(wild))
	i, j := 0, 0
	for i < len(direct) && j < len(wild) {
		if direct[i].seq < wild[j].seq {
			out = append(out, direct[i])
			i++
		} else {
			out = append(out, wild[j])
			j++
		}
	}
	out = append(out, direct[i:]...)
	out = append(out, wild[j:]...)
	return out
}

func (r *Registry) invoke(sub *Subscription, frame protocol.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			r.statsMu.Lock()
			r.panics++
			r.statsMu.Unlock()

			r.logger.Warn("subscription handler failed",
				"channel", sub.Channel,
				"frame_channel", frame.Channel,
				"type", frame.Type,
				"id", sub.ID,
				"error", fmt.Sprint(rec),
			)
		}
	}()

	sub.Handler(frame)
}
