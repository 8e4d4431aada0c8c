package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher runs jobs outside the request that triggered them.
type Dispatcher interface {
	Dispatch(name string, job func(ctx context.Context))
}

// BackgroundDispatcher runs each job in its own goroutine under a fresh
// context with a deadline. Jobs outlive the HTTP request that queued them.
type BackgroundDispatcher struct {
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewBackgroundDispatcher(timeout time.Duration, logger *slog.Logger) *BackgroundDispatcher {
	return &BackgroundDispatcher{timeout: timeout, logger: logger}
}

func (d *BackgroundDispatcher) Dispatch(name string, job func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background job panicked", "job", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		job(ctx)
	}()
}

// Wait blocks until in-flight jobs finish or ctx is done.
func (d *BackgroundDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
