// Package tracker turns a location sensor into a cancellable stream of
// fixes for the teacher device.
package tracker

import (
	"context"
	"errors"
	"time"

	"geoattend/internal/geo"
)

// ErrSensorUnavailable reports a sensor that produced no fix.
var ErrSensorUnavailable = errors.New("location sensor unavailable")

// Options controls one tracking stream.
type Options struct {
	// HighAccuracy asks the sensor for its best fix at higher power cost.
	HighAccuracy bool
	// Timeout bounds each fix attempt.
	Timeout time.Duration
	// MaxAge drops cached fixes older than this.
	MaxAge time.Duration
	// Interval is the cadence between fix attempts.
	Interval time.Duration
}

// Source produces a single fix per call. Implementations must honor ctx
// cancellation.
type Source interface {
	Fix(ctx context.Context, highAccuracy bool) (geo.Point, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, highAccuracy bool) (geo.Point, error)

// Fix implements Source.
func (f SourceFunc) Fix(ctx context.Context, highAccuracy bool) (geo.Point, error) {
	return f(ctx, highAccuracy)
}

// Handle identifies a running stream.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the stream's goroutine exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Tracker runs tracking streams over a Source.
type Tracker struct {
	src Source
}

// New creates a tracker.
func New(src Source) *Tracker {
	return &Tracker{src: src}
}

// Start begins a stream delivering fixes to onFix. Callbacks run on the
// stream's own goroutine; the caller serializes any shared state they touch.
// The first sensor error is delivered to onErr and halts the stream — retry
// cadence is the caller's decision, not hidden here.
func (t *Tracker) Start(ctx context.Context, opts Options, onFix func(geo.Point), onErr func(error)) *Handle {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		for {
			pt, err := t.fetch(ctx, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if onErr != nil {
					onErr(err)
				}
				return
			}
			if pt != nil {
				onFix(*pt)
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return h
}

// fetch attempts one fix. A nil point with nil error means the fix was
// dropped for exceeding MaxAge.
func (t *Tracker) fetch(ctx context.Context, opts Options) (*geo.Point, error) {
	fixCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	pt, err := t.src.Fix(fixCtx, opts.HighAccuracy)
	if err != nil {
		return nil, err
	}
	if pt.CapturedAt.IsZero() {
		pt.CapturedAt = time.Now().UTC()
	}
	if opts.MaxAge > 0 && time.Since(pt.CapturedAt) > opts.MaxAge {
		return nil, nil
	}
	return &pt, nil
}

// Stop cancels the stream and waits for its goroutine to exit.
func (t *Tracker) Stop(h *Handle) {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}
