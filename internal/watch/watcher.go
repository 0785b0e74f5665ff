// Package watch provides the change-driven poll loop shared by every agent:
// a debounced filesystem watcher on a shared record file combined with an
// interval timer safety net, coalescing bursts of change notifications into
// single processing passes.
package watch

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bobmcallan/vigil/internal/common"
)

// Options tunes one watcher.
type Options struct {
	// Debounce is how long the file must stay quiet after a change before a
	// processing pass starts. Further changes restart the timer.
	Debounce time.Duration
	// Jitter adds up to this much randomness to each debounce window, so
	// multiple agents reacting to the same write don't wake together.
	Jitter time.Duration
	// Interval forces a full pass regardless of change activity, as a safety
	// net against missed events. Zero disables the timer.
	Interval time.Duration
}

// Watcher drives an agent's processing loop: Idle until a change event or
// the interval fires, Debouncing while changes keep arriving, Processing for
// exactly one pass, then Idle again.
type Watcher struct {
	path   string
	opts   Options
	logger *common.Logger
	fsw    *fsnotify.Watcher
	events chan struct{}
}

// New creates a watcher on the given record file. The containing directory
// is watched, not the file itself: atomic rename-over-writes would otherwise
// detach the watch.
func New(path string, opts Options, logger *common.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:   path,
		opts:   opts,
		logger: logger,
		fsw:    fsw,
		events: make(chan struct{}, 16),
	}
	go w.translate()
	return w, nil
}

// newWithEvents builds a watcher fed by an external event channel. Used by
// tests to exercise the debounce state machine without a filesystem.
func newWithEvents(events chan struct{}, opts Options, logger *common.Logger) *Watcher {
	return &Watcher{opts: opts, logger: logger, events: events}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

// translate forwards relevant filesystem events into the internal channel.
func (w *Watcher) translate() {
	base := filepath.Base(w.path)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.events <- struct{}{}:
			default:
				// A trigger is already pending; this burst coalesces into it
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Str("path", w.path).Err(err).Msg("File watcher error")
		}
	}
}

// Run blocks, invoking process for each coalesced trigger until the context
// is cancelled. Passes run synchronously on this goroutine, so a pass can
// never re-enter itself; change events arriving mid-pass (including the
// agent's own writes) are drained afterwards and left to the interval pass.
func (w *Watcher) Run(ctx context.Context, process func(context.Context)) {
	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	var intervalC <-chan time.Time
	if w.opts.Interval > 0 {
		ticker := time.NewTicker(w.opts.Interval)
		defer ticker.Stop()
		intervalC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.events:
			window := w.opts.Debounce
			if w.opts.Jitter > 0 {
				window += time.Duration(rand.Int63n(int64(w.opts.Jitter)))
			}
			if debounce == nil {
				debounce = time.NewTimer(window)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(window)
			}
			w.logger.Debug().Str("path", w.path).Dur("window", window).Msg("Change detected, debouncing")

		case <-debounceC:
			debounceC = nil
			debounce = nil
			w.runPass(ctx, process)

		case <-intervalC:
			w.runPass(ctx, process)
		}
	}
}

// runPass executes one processing pass and discards change notifications
// that accumulated while it ran, breaking the write-triggers-self feedback
// loop.
func (w *Watcher) runPass(ctx context.Context, process func(context.Context)) {
	start := time.Now()
	process(ctx)
	w.logger.Debug().Str("path", w.path).Dur("elapsed", time.Since(start)).Msg("Processing pass complete")

	for {
		select {
		case <-w.events:
		default:
			return
		}
	}
}
