package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/jcrane-labs/walcdc/internal/event"
)

// fakeSink is a hand-written in-memory Sink used by this package's tests. It records every batch it was handed and can be told to fail the
// next N calls with a given error.
type fakeSink struct {
	mu          sync.Mutex
	batches     [][]event.Event
	failNext    int
	failWith    error
	calls       int
	idempotent  map[string]struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{idempotent: make(map[string]struct{})}
}

func (f *fakeSink) Apply(_ context.Context, events []event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failNext > 0 {
		f.failNext--
		return f.failWith
	}
	applied := make([]event.Event, 0, len(events))
	for _, e := range events {
		key := e.Table + "|" + e.CommitLSN
		if _, dup := f.idempotent[key]; dup {
			continue
		}
		f.idempotent[key] = struct{}{}
		applied = append(applied, e)
	}
	f.batches = append(f.batches, applied)
	return nil
}

func (f *fakeSink) failNextCalls(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.failWith = err
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSink) allEvents() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []event.Event
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

var errFakeTransient = errors.New("fake transient failure")
var errFakePermanent = errors.New("fake permanent failure")
