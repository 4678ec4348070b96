package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStatePersister_WriteAndRead(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.Phase("DELIVERING")
	c.BatchFlushed(50, "0/10")

	tmpDir := t.TempDir()
	sp := &StatePersister{
		collector: c,
		logger:    zerolog.Nop(),
		path:      filepath.Join(tmpDir, "state.json"),
		done:      make(chan struct{}),
	}

	sp.write()

	data, err := os.ReadFile(sp.path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if snap.Phase != "DELIVERING" {
		t.Errorf("Phase = %q, want DELIVERING", snap.Phase)
	}
	if snap.TotalEvents != 50 {
		t.Errorf("TotalEvents = %d, want 50", snap.TotalEvents)
	}
}

func TestStatePersister_AtomicWrite(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")
	sp := &StatePersister{
		collector: c,
		logger:    zerolog.Nop(),
		path:      path,
		done:      make(chan struct{}),
	}

	sp.write()

	tmpFile := path + ".tmp"
	if _, err := os.Stat(tmpFile); !os.IsNotExist(err) {
		t.Error("temporary file should not exist after write")
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file should exist: %v", err)
	}
}

func TestStatePersister_StartStop(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	tmpDir := t.TempDir()
	sp := &StatePersister{
		collector: c,
		logger:    zerolog.Nop(),
		path:      filepath.Join(tmpDir, "state.json"),
		done:      make(chan struct{}),
	}

	sp.Start()
	time.Sleep(100 * time.Millisecond)
	sp.Stop()

	// Double stop should not panic.
	sp.Stop()
}

func TestSnapshotJSON(t *testing.T) {
	snap := Snapshot{
		Timestamp:      time.Now(),
		Phase:          "COMMITTING",
		LastAppliedLSN: "0/64",
		TotalEvents:    42,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded.Phase != "COMMITTING" {
		t.Errorf("Phase = %q, want COMMITTING", decoded.Phase)
	}
	if decoded.TotalEvents != 42 {
		t.Errorf("TotalEvents = %d, want 42", decoded.TotalEvents)
	}
}
