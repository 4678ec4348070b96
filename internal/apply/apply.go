// Package apply drives the heart of the system (spec.md §4.E): it consumes
// the decoder's item stream, buffers it to batch_size, normalizes each
// flush, delivers the result to the sink under retry/backoff, and commits
// the batch's tail LSN to the offset store only once delivery succeeds.
package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jcrane-labs/walcdc/internal/decoder"
	"github.com/jcrane-labs/walcdc/internal/event"
	"github.com/jcrane-labs/walcdc/internal/normalize"
	"github.com/jcrane-labs/walcdc/internal/sink"
)

// Phase names the apply loop's current state in its per-batch state machine
// (spec.md §4.E): FILLING → FLUSHING → {DELIVERING ⇄ BACKOFF} → COMMITTING →
// CLEARED, with terminal failure states GIVE_UP and STORE_FAIL.
type Phase string

const (
	PhaseFilling    Phase = "FILLING"
	PhaseFlushing   Phase = "FLUSHING"
	PhaseDelivering Phase = "DELIVERING"
	PhaseBackoff    Phase = "BACKOFF"
	PhaseCommitting Phase = "COMMITTING"
	PhaseCleared    Phase = "CLEARED"
	PhaseGiveUp     Phase = "GIVE_UP"
	PhaseStoreFail  Phase = "STORE_FAIL"
)

// RetriesExhausted is returned when a flush's delivery attempts exceed
// max_retries; the loop exits and the caller may route to a dead-letter
// policy outside this core.
var RetriesExhausted = errors.New("apply: retries exhausted")

// OffsetStore is the subset of offsetstore.Store the loop depends on.
type OffsetStore interface {
	Set(slot, lsn string) error
}

// Observer receives phase transitions and batch outcomes, for metrics and
// the status surface. All methods are optional no-ops when Observer is nil.
type Observer interface {
	Phase(p Phase)
	BatchFlushed(eventCount int, lastLSN string)
	RetryScheduled(attempt int, delay time.Duration, err error)
}

// Options configures a Loop.
type Options struct {
	SlotName       string
	BatchSize      int
	MaxRetries     int
	BackoffSeconds float64

	Sink        sink.Sink
	Store       OffsetStore
	Observer    Observer
	Logger      zerolog.Logger
	SleepFunc   func(time.Duration) // overridable for tests; defaults to time.Sleep
}

// Loop is the apply loop. One Loop instance drives exactly one run of the
// pipeline; it is not reusable across restarts.
type Loop struct {
	opts  Options
	sleep func(time.Duration)

	buf []decoder.Item
}

// New creates a Loop from the given options, filling in defaults.
func New(opts Options) *Loop {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.SleepFunc == nil {
		opts.SleepFunc = time.Sleep
	}
	return &Loop{
		opts:  opts,
		sleep: opts.SleepFunc,
		buf:   make([]decoder.Item, 0, opts.BatchSize),
	}
}

// Run consumes items until the channel closes or ctx is cancelled,
// buffering to batch_size and flushing each full (or, at stream end,
// residual) batch. It returns nil on a clean exhaustion of items, ctx.Err()
// on cancellation, or a fatal apply error. A decoder failure is not visible
// here: the channel simply closes, and the caller checks the decoder's Err.
func (l *Loop) Run(ctx context.Context, items <-chan decoder.Item) error {
	l.setPhase(PhaseFilling)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case item, ok := <-items:
			if !ok {
				return l.flush(ctx)
			}
			l.buf = append(l.buf, item)
			if len(l.buf) >= l.opts.BatchSize {
				if err := l.flush(ctx); err != nil {
					return err
				}
				l.setPhase(PhaseFilling)
			}
		}
	}
}

// flush delivers the current buffer, per spec.md §4.E steps 1-5. It is a
// no-op if the buffer is empty (the terminal flush after a clean shutdown
// with no pending items).
func (l *Loop) flush(ctx context.Context) error {
	if len(l.buf) == 0 {
		return nil
	}
	l.setPhase(PhaseFlushing)

	batch := l.buf
	l.buf = nil

	lastLSN := batch[len(batch)-1].LSN

	records := make([]decoder.Record, len(batch))
	for i, item := range batch {
		records[i] = item.Record
	}
	events := normalize.Batch(records)

	if err := l.deliver(ctx, events); err != nil {
		return err
	}

	if l.opts.Observer != nil {
		l.opts.Observer.BatchFlushed(len(events), lastLSN)
	}

	if lastLSN != "" {
		l.setPhase(PhaseCommitting)
		if err := l.opts.Store.Set(l.opts.SlotName, lastLSN); err != nil {
			l.setPhase(PhaseStoreFail)
			return fmt.Errorf("apply: commit offset: %w", err)
		}
	}

	l.setPhase(PhaseCleared)
	return nil
}

// deliver attempts sink.Apply with linear retry/backoff, per spec.md §4.E:
// delay = backoff_seconds * attempt. attempt 0 is the first, unscaled try.
func (l *Loop) deliver(ctx context.Context, events []event.Event) error {
	attempt := 0
	for {
		l.setPhase(PhaseDelivering)
		err := l.opts.Sink.Apply(ctx, events)
		if err == nil {
			return nil
		}
		if !sink.IsTransient(err) {
			l.setPhase(PhaseGiveUp)
			return fmt.Errorf("apply: permanent sink error: %w", err)
		}

		attempt++
		if attempt > l.opts.MaxRetries {
			l.setPhase(PhaseGiveUp)
			return fmt.Errorf("%w: %v", RetriesExhausted, err)
		}

		delay := time.Duration(l.opts.BackoffSeconds * float64(attempt) * float64(time.Second))
		if l.opts.Observer != nil {
			l.opts.Observer.RetryScheduled(attempt, delay, err)
		}
		l.setPhase(PhaseBackoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		l.sleep(delay)
	}
}

func (l *Loop) setPhase(p Phase) {
	if l.opts.Observer != nil {
		l.opts.Observer.Phase(p)
	}
}
