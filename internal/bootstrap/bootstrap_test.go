package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jcrane-labs/walcdc/internal/offsetstore"
)

// EnsurePublication, EnsureReplicationSlot, and CurrentWALPosition require a
// live PostgreSQL connection and are covered by bootstrap_integration_test.go
// (build tag "integration"); ResolveStartLSN's store-only branches are
// unit-tested here since they only need an offsetstore.Store.

func TestResolveStartLSN_PrefersStoredValue(t *testing.T) {
	store, err := offsetstore.Open(filepath.Join(t.TempDir(), "offsets.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer store.Close()

	if err := store.Set("slot_a", "0/99"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	lsn, err := ResolveStartLSN(context.Background(), nil, store, "slot_a", false)
	if err != nil {
		t.Fatalf("ResolveStartLSN() error: %v", err)
	}
	if lsn != "0/99" {
		t.Errorf("ResolveStartLSN() = %q, want 0/99 (stored value takes precedence)", lsn)
	}
}

func TestResolveStartLSN_EmptyAndStartFromBeginning(t *testing.T) {
	store, err := offsetstore.Open(filepath.Join(t.TempDir(), "offsets.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer store.Close()

	lsn, err := ResolveStartLSN(context.Background(), nil, store, "slot_a", true)
	if err != nil {
		t.Fatalf("ResolveStartLSN() error: %v", err)
	}
	if lsn != "" {
		t.Errorf("ResolveStartLSN() = %q, want empty (helper starts from slot's consistent point)", lsn)
	}
}
