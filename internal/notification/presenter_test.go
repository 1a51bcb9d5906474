package notification

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncPresenter_DeliversInOrder(t *testing.T) {
	rec := &recordingPresenter{}
	p := NewAsyncPresenter(rec, 0, slog.Default())

	for _, title := range []string{"a", "b", "c"} {
		p.Present(Toast{Title: title})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	toasts := rec.Toasts()
	require.Len(t, toasts, 3)
	assert.Equal(t, "a", toasts[0].Title)
	assert.Equal(t, "c", toasts[2].Title)
	assert.Equal(t, int64(3), p.Stats().Popped)
}

func TestAsyncPresenter_DoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var shown []string

	p := NewAsyncPresenter(PresenterFunc(func(t Toast) {
		<-release
		mu.Lock()
		shown = append(shown, t.Title)
		mu.Unlock()
	}), 2, slog.Default())

	start := time.Now()
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		p.Present(Toast{Title: title})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	// One toast in flight plus two queued; the rest were dropped.
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(shown), 2)
	assert.LessOrEqual(t, len(shown), 3)
	assert.Positive(t, p.Stats().Dropped)
}

func TestAsyncPresenter_SurvivesPanic(t *testing.T) {
	rec := &recordingPresenter{}
	calls := 0
	p := NewAsyncPresenter(PresenterFunc(func(t Toast) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		rec.Present(t)
	}), 0, nil)

	p.Present(Toast{Title: "first"})
	p.Present(Toast{Title: "second"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	require.Len(t, rec.Toasts(), 1)
	assert.Equal(t, "second", rec.Toasts()[0].Title)
}

func TestAsyncPresenter_CloseTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	p := NewAsyncPresenter(PresenterFunc(func(Toast) { <-block }), 0, nil)
	p.Present(Toast{Title: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
}

func TestAsyncPresenter_CloseTimeoutDiscardsQueued(t *testing.T) {
	block := make(chan struct{})
	rec := &recordingPresenter{}
	started := make(chan struct{}, 1)

	p := NewAsyncPresenter(PresenterFunc(func(t Toast) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		rec.Present(t)
	}), 0, nil)

	p.Present(Toast{Title: "in flight"})
	<-started
	p.Present(Toast{Title: "queued 1"})
	p.Present(Toast{Title: "queued 2"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
	assert.Zero(t, p.Stats().Pending)

	close(block)
	require.Eventually(t, func() bool {
		select {
		case <-p.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	require.Len(t, rec.Toasts(), 1)
	assert.Equal(t, "in flight", rec.Toasts()[0].Title)
}
