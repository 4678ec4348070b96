package apply

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jcrane-labs/walcdc/internal/decoder"
	"github.com/jcrane-labs/walcdc/internal/event"
	"github.com/jcrane-labs/walcdc/internal/sink"
)

type fakeSink struct {
	mu         sync.Mutex
	batches    [][]event.Event
	failNext   int
	failWith   error
	applied    map[string]struct{}
}

func newFakeSink() *fakeSink { return &fakeSink{applied: make(map[string]struct{})} }

func (f *fakeSink) Apply(_ context.Context, events []event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return f.failWith
	}
	kept := make([]event.Event, 0, len(events))
	for _, e := range events {
		key := e.Table + "|" + e.CommitLSN
		if _, dup := f.applied[key]; dup {
			continue
		}
		f.applied[key] = struct{}{}
		kept = append(kept, e)
	}
	f.batches = append(f.batches, kept)
	return nil
}

func (f *fakeSink) failNextCalls(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext, f.failWith = n, err
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

func (f *fakeSink) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeStore struct {
	mu      sync.Mutex
	offsets map[string]string
	failing bool
}

func newFakeStore() *fakeStore { return &fakeStore{offsets: make(map[string]string)} }

func (s *fakeStore) Set(slot, lsn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("fake storage unavailable")
	}
	s.offsets[slot] = lsn
	return nil
}

func (s *fakeStore) get(slot string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[slot]
}

type recordingObserver struct {
	mu      sync.Mutex
	phases  []Phase
	retries int
}

func (o *recordingObserver) Phase(p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, p)
}
func (o *recordingObserver) BatchFlushed(int, string) {}
func (o *recordingObserver) RetryScheduled(int, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func recordFor(lsn, table, kind string) decoder.Item {
	return decoder.Item{
		LSN: lsn,
		Record: decoder.Record{
			LSN: lsn,
			Changes: []decoder.Change{
				{Kind: kind, Schema: "public", Table: table, ColumnValues: map[string]any{"id": float64(1)}},
			},
		},
	}
}

func noSleep(time.Duration) {}

func TestRun_HappyPath(t *testing.T) {
	fs := newFakeSink()
	store := newFakeStore()
	loop := New(Options{
		SlotName:   "slot_a",
		BatchSize:  2,
		MaxRetries: 3,
		Sink:       fs,
		Store:      store,
		Logger:     zerolog.Nop(),
		SleepFunc:  noSleep,
	})

	items := make(chan decoder.Item, 4)
	items <- recordFor("0/10", "orders", "insert")
	items <- recordFor("0/20", "orders", "insert")
	close(items)

	if err := loop.Run(context.Background(), items); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if fs.batchCount() != 1 {
		t.Errorf("batchCount() = %d, want 1", fs.batchCount())
	}
	if got := store.get("slot_a"); got != "0/20" {
		t.Errorf("committed offset = %q, want 0/20", got)
	}
}

func TestRun_ResidualFlushOnClose(t *testing.T) {
	fs := newFakeSink()
	store := newFakeStore()
	loop := New(Options{
		SlotName:  "slot_a",
		BatchSize: 10,
		Sink:      fs,
		Store:     store,
		SleepFunc: noSleep,
	})

	items := make(chan decoder.Item, 1)
	items <- recordFor("0/5", "orders", "insert")
	close(items)

	if err := loop.Run(context.Background(), items); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if fs.batchCount() != 1 {
		t.Errorf("expected residual batch to be flushed, got %d batches", fs.batchCount())
	}
	if got := store.get("slot_a"); got != "0/5" {
		t.Errorf("committed offset = %q, want 0/5", got)
	}
}

func TestRun_TransientRetrySucceedsAndCommits(t *testing.T) {
	fs := newFakeSink()
	fs.failNextCalls(2, sink.Transient(errors.New("temporary blip")))
	store := newFakeStore()
	obs := &recordingObserver{}

	loop := New(Options{
		SlotName:       "slot_a",
		BatchSize:      1,
		MaxRetries:     5,
		BackoffSeconds: 0.001,
		Sink:           fs,
		Store:          store,
		Observer:       obs,
		SleepFunc:      noSleep,
	})

	items := make(chan decoder.Item, 1)
	items <- recordFor("0/30", "orders", "insert")
	close(items)

	if err := loop.Run(context.Background(), items); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := store.get("slot_a"); got != "0/30" {
		t.Errorf("committed offset = %q, want 0/30", got)
	}
	if obs.retries != 2 {
		t.Errorf("retries = %d, want 2", obs.retries)
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	fs := newFakeSink()
	fs.failNextCalls(100, sink.Transient(errors.New("down")))
	store := newFakeStore()

	loop := New(Options{
		SlotName:   "slot_a",
		BatchSize:  1,
		MaxRetries: 2,
		Sink:       fs,
		Store:      store,
		SleepFunc:  noSleep,
	})

	items := make(chan decoder.Item, 1)
	items <- recordFor("0/40", "orders", "insert")
	close(items)

	err := loop.Run(context.Background(), items)
	if !errors.Is(err, RetriesExhausted) {
		t.Fatalf("expected RetriesExhausted, got %v", err)
	}
	if got := store.get("slot_a"); got != "" {
		t.Errorf("offset should not be committed on failed flush, got %q", got)
	}
}

func TestRun_PermanentErrorStopsImmediately(t *testing.T) {
	fs := newFakeSink()
	fs.failNextCalls(1, sink.Permanent(errors.New("schema mismatch")))
	store := newFakeStore()

	loop := New(Options{
		SlotName:   "slot_a",
		BatchSize:  1,
		MaxRetries: 5,
		Sink:       fs,
		Store:      store,
		SleepFunc:  noSleep,
	})

	items := make(chan decoder.Item, 1)
	items <- recordFor("0/50", "orders", "insert")
	close(items)

	err := loop.Run(context.Background(), items)
	if err == nil {
		t.Fatal("expected error for permanent sink failure")
	}
	if errors.Is(err, RetriesExhausted) {
		t.Error("permanent failure should not be reported as RetriesExhausted (no retry should occur)")
	}
	if got := store.get("slot_a"); got != "" {
		t.Errorf("offset should not be committed, got %q", got)
	}
}

func TestRun_CrashReplayIsIdempotentAtSink(t *testing.T) {
	// Simulates restarting the loop from the last durable offset after a
	// crash before store.Set: the same batch is redelivered to a sink that
	// shares state across "runs", and must not double-apply it.
	fs := newFakeSink()
	store := newFakeStore()

	firstRun := New(Options{SlotName: "slot_a", BatchSize: 1, Sink: fs, Store: store, SleepFunc: noSleep})
	items := make(chan decoder.Item, 1)
	items <- recordFor("0/60", "orders", "insert")
	close(items)
	if err := firstRun.Run(context.Background(), items); err != nil {
		t.Fatalf("first run error: %v", err)
	}

	secondRun := New(Options{SlotName: "slot_a", BatchSize: 1, Sink: fs, Store: store, SleepFunc: noSleep})
	items2 := make(chan decoder.Item, 1)
	items2 <- recordFor("0/60", "orders", "insert")
	close(items2)
	if err := secondRun.Run(context.Background(), items2); err != nil {
		t.Fatalf("second (replayed) run error: %v", err)
	}

	if got := len(fs.allEvents()); got != 1 {
		t.Errorf("allEvents() = %d, want 1 (replay must be absorbed by sink idempotence)", got)
	}
}

func TestRun_StoreFailurePropagates(t *testing.T) {
	fs := newFakeSink()
	store := newFakeStore()
	store.failing = true

	loop := New(Options{SlotName: "slot_a", BatchSize: 1, Sink: fs, Store: store, SleepFunc: noSleep})
	items := make(chan decoder.Item, 1)
	items <- recordFor("0/70", "orders", "insert")
	close(items)

	err := loop.Run(context.Background(), items)
	if err == nil {
		t.Fatal("expected error when offset store write fails")
	}
}

func TestRun_EmptyLSNDoesNotCommit(t *testing.T) {
	fs := newFakeSink()
	store := newFakeStore()

	loop := New(Options{SlotName: "slot_a", BatchSize: 1, Sink: fs, Store: store, SleepFunc: noSleep})
	items := make(chan decoder.Item, 1)
	items <- decoder.Item{LSN: "", Record: decoder.Record{Changes: []decoder.Change{
		{Kind: "insert", Schema: "s", Table: "t", ColumnValues: map[string]any{"id": float64(1)}},
	}}}
	close(items)

	if err := loop.Run(context.Background(), items); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := store.get("slot_a"); got != "" {
		t.Errorf("expected no offset commit for a record with no extractable LSN, got %q", got)
	}
	if fs.batchCount() != 1 {
		t.Errorf("expected the event to still be delivered, got %d batches", fs.batchCount())
	}
}

func TestRun_MixedChangeKindsPreserveOrder(t *testing.T) {
	fs := newFakeSink()
	store := newFakeStore()

	loop := New(Options{SlotName: "slot_a", BatchSize: 3, Sink: fs, Store: store, SleepFunc: noSleep})
	items := make(chan decoder.Item, 3)
	items <- recordFor("0/80", "orders", "insert")
	items <- recordFor("0/81", "orders", "update")
	items <- recordFor("0/82", "orders", "delete")
	close(items)

	if err := loop.Run(context.Background(), items); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	events := fs.allEvents()
	wantKinds := []string{"insert", "update", "delete"}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		if e.Type != wantKinds[i] {
			t.Errorf("events[%d].Type = %q, want %q", i, e.Type, wantKinds[i])
		}
	}
}
