// Package metrics aggregates pipeline state for consumption by the status
// HTTP endpoint and the TUI dashboard: current phase, replication lag,
// throughput, and a rolling log buffer.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/rs/zerolog"

	"github.com/jcrane-labs/walcdc/internal/apply"
	"github.com/jcrane-labs/walcdc/pkg/lsn"
)

// Snapshot is the complete metrics state at a point in time.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Phase      string    `json:"phase"`
	ElapsedSec float64   `json:"elapsed_sec"`

	// LSN tracking
	LastAppliedLSN string `json:"last_applied_lsn"`
	LatestLSN      string `json:"latest_lsn"`
	LagBytes       uint64 `json:"lag_bytes"`
	LagFormatted   string `json:"lag_formatted"`

	// Throughput
	EventsPerSec  float64 `json:"events_per_sec"`
	BatchesPerSec float64 `json:"batches_per_sec"`
	TotalEvents   int64   `json:"total_events"`
	TotalBatches  int64   `json:"total_batches"`

	// Delivery health
	RetryCount int    `json:"retry_count"`
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

// LogEntry represents a log line captured for the UI.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Collector aggregates pipeline metrics and implements apply.Observer, so
// it can be wired directly into the apply loop as its metrics sink.
type Collector struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	phase     string
	startedAt time.Time

	lastAppliedLSN pglogrepl.LSN
	latestLSN      pglogrepl.LSN

	totalEvents  atomic.Int64
	totalBatches atomic.Int64
	retryCount   atomic.Int64
	errorCount   atomic.Int64
	lastError    atomic.Value // string

	eventWindow *slidingWindow
	batchWindow *slidingWindow

	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}

	logMu  sync.Mutex
	logs   []LogEntry
	logCap int

	done chan struct{}
}

// NewCollector creates a new Collector and starts its broadcast loop.
func NewCollector(logger zerolog.Logger) *Collector {
	c := &Collector{
		logger:      logger.With().Str("component", "metrics").Logger(),
		subscribers: make(map[chan Snapshot]struct{}),
		eventWindow: newSlidingWindow(60 * time.Second),
		batchWindow: newSlidingWindow(60 * time.Second),
		logs:        make([]LogEntry, 0, 500),
		logCap:      500,
		done:        make(chan struct{}),
	}
	go c.broadcastLoop()
	return c
}

// Phase implements apply.Observer: it records the apply loop's current
// per-batch state and starts the elapsed-time clock on first call.
func (c *Collector) Phase(p apply.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = string(p)
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// BatchFlushed implements apply.Observer: it records a successfully
// delivered batch's event count and tail LSN.
func (c *Collector) BatchFlushed(eventCount int, lastLSN string) {
	if lastLSN != "" {
		if parsed, err := lsn.Parse(lastLSN); err == nil {
			c.mu.Lock()
			c.lastAppliedLSN = parsed
			c.mu.Unlock()
		}
	}
	c.totalEvents.Add(int64(eventCount))
	c.totalBatches.Add(1)
	now := time.Now()
	c.eventWindow.Add(now, float64(eventCount))
	c.batchWindow.Add(now, 1)
}

// RetryScheduled implements apply.Observer: it counts a scheduled retry and
// records the error that triggered it.
func (c *Collector) RetryScheduled(_ int, _ time.Duration, err error) {
	c.retryCount.Add(1)
	c.RecordError(err)
}

// RecordLatestLSN updates the upstream's current WAL position, used for
// lag reporting.
func (c *Collector) RecordLatestLSN(l pglogrepl.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestLSN = l
}

// RecordError increments the error count and stores the last error message.
func (c *Collector) RecordError(err error) {
	c.errorCount.Add(1)
	if err != nil {
		c.lastError.Store(err.Error())
	}
}

// AddLog appends a log entry to the ring buffer, dropping the oldest
// quarter once the buffer is full.
func (c *Collector) AddLog(entry LogEntry) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.logs) >= c.logCap {
		n := c.logCap / 4
		copy(c.logs, c.logs[n:])
		c.logs = c.logs[:len(c.logs)-n]
	}
	c.logs = append(c.logs, entry)
}

// Logs returns a copy of recent log entries.
func (c *Collector) Logs() []LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// Snapshot returns the current metrics state (thread-safe).
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var elapsed float64
	if !c.startedAt.IsZero() {
		elapsed = now.Sub(c.startedAt).Seconds()
	}

	lagBytes := lsn.Lag(c.lastAppliedLSN, c.latestLSN)

	var lastErr string
	if v := c.lastError.Load(); v != nil {
		lastErr = v.(string)
	}

	// No batch has reported a tail LSN yet: leave the field empty rather
	// than rendering the zero position as "0/0".
	var lastApplied string
	if c.lastAppliedLSN != 0 {
		lastApplied = c.lastAppliedLSN.String()
	}

	return Snapshot{
		Timestamp:      now,
		Phase:          c.phase,
		ElapsedSec:     elapsed,
		LastAppliedLSN: lastApplied,
		LatestLSN:      c.latestLSN.String(),
		LagBytes:       lagBytes,
		LagFormatted:   lsn.FormatLag(lagBytes, 0),
		EventsPerSec:   c.eventWindow.Rate(),
		BatchesPerSec:  c.batchWindow.Rate(),
		TotalEvents:    c.totalEvents.Load(),
		TotalBatches:   c.totalBatches.Load(),
		RetryCount:     int(c.retryCount.Load()),
		ErrorCount:     int(c.errorCount.Load()),
		LastError:      lastErr,
	}
}

// Subscribe returns a channel that receives periodic Snapshot updates.
func (c *Collector) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 4)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel.
func (c *Collector) Unsubscribe(ch chan Snapshot) {
	c.subMu.Lock()
	delete(c.subscribers, ch)
	c.subMu.Unlock()
}

// Close stops the broadcast loop.
func (c *Collector) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Collector) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			snap := c.Snapshot()
			c.subMu.Lock()
			for ch := range c.subscribers {
				select {
				case ch <- snap:
				default:
				}
			}
			c.subMu.Unlock()
		}
	}
}

// --- Sliding window for throughput calculation ---

type windowEntry struct {
	time  time.Time
	value float64
}

type slidingWindow struct {
	mu      sync.Mutex
	entries []windowEntry
	window  time.Duration
}

func newSlidingWindow(d time.Duration) *slidingWindow {
	return &slidingWindow{
		entries: make([]windowEntry, 0, 128),
		window:  d,
	}
}

func (w *slidingWindow) Add(t time.Time, val float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{time: t, value: val})
	w.evict(t)
}

func (w *slidingWindow) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.evict(now)
	if len(w.entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	elapsed := now.Sub(w.entries[0].time).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return total / elapsed
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(w.entries, w.entries[i:])
		w.entries = w.entries[:len(w.entries)-i]
	}
}
