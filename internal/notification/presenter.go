package notification

import (
	"context"
	"log/slog"
)

// AsyncPresenter hands toasts to another Presenter on a worker goroutine so
// that slow rendering never blocks frame dispatch.
type AsyncPresenter struct {
	next   Presenter
	queue  *Queue[Toast]
	logger *slog.Logger
	done   chan struct{}
}

// NewAsyncPresenter starts a worker that forwards toasts to next. At most
// limit toasts wait in the queue; further toasts are dropped.
func NewAsyncPresenter(next Presenter, limit int, logger *slog.Logger) *AsyncPresenter {
	if logger == nil {
		logger = slog.Default()
	}

	p := &AsyncPresenter{
		next:   next,
		queue:  NewQueue[Toast](16, limit),
		logger: logger,
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Present queues t.
func (p *AsyncPresenter) Present(t Toast) {
	if !p.queue.Push(t) {
		p.logger.Warn("toast queue full, dropping toast", "title", t.Title)
	}
}

// Close stops accepting toasts and waits for queued ones to be presented.
// Toasts still queued when ctx is done are discarded.
func (p *AsyncPresenter) Close(ctx context.Context) error {
	p.queue.Close()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		discarded := 0
		for {
			if _, ok := p.queue.TryPop(); !ok {
				break
			}
			discarded++
		}
		if discarded > 0 {
			p.logger.Warn("discarding undelivered toasts", "count", discarded)
		}
		return ctx.Err()
	}
}

// Stats returns queue statistics.
func (p *AsyncPresenter) Stats() QueueStats {
	return p.queue.Stats()
}

func (p *AsyncPresenter) run() {
	defer close(p.done)

	for {
		t, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.present(t)
	}
}

func (p *AsyncPresenter) present(t Toast) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("presenter failed", "title", t.Title, "panic", r)
		}
	}()
	p.next.Present(t)
}
