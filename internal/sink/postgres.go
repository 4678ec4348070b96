package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jcrane-labs/walcdc/internal/event"
)

const createCDCEventsTable = `
CREATE TABLE IF NOT EXISTS cdc_events (
	table_fqn  TEXT NOT NULL,
	pk         TEXT NOT NULL,
	commit_lsn TEXT NOT NULL,
	payload    JSONB,
	PRIMARY KEY (table_fqn, pk, commit_lsn)
)`

const insertCDCEvent = `
INSERT INTO cdc_events (table_fqn, pk, commit_lsn, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (table_fqn, pk, commit_lsn) DO NOTHING`

// Postgres is the reference sink. It materializes insert events into a
// staging relation keyed on (table, pk, commit_lsn) so that a replayed
// batch after a crash is silently absorbed rather than double-applied.
// Per spec.md §4.B, update/delete events pass through unwritten — the
// pipeline guarantees only their ordered delivery, not their materialization.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres creates a reference sink writing through the given pool.
func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: logger.With().Str("component", "sink").Logger(),
	}
}

// EnsureSchema creates the staging relation if it does not already exist.
// Idempotent; safe to call on every startup.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createCDCEventsTable); err != nil {
		return Permanent(fmt.Errorf("create cdc_events table: %w", err))
	}
	return nil
}

// Apply writes every insert event in events to the staging relation inside
// one transaction, classifying the resulting error per spec.md §4.B.
func (p *Postgres) Apply(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, e := range events {
		if e.Type != "insert" {
			continue
		}
		pkText, err := encodePK(e.PK)
		if err != nil {
			return Permanent(fmt.Errorf("encode pk for %s: %w", e.Table, err))
		}
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return Permanent(fmt.Errorf("encode payload for %s: %w", e.Table, err))
		}
		if _, err := tx.Exec(ctx, insertCDCEvent, e.Table, pkText, e.CommitLSN, payload); err != nil {
			return classify(fmt.Errorf("insert into cdc_events for %s: %w", e.Table, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// encodePK renders the pk map as a stable string so it can serve as part of
// a composite text primary key; nil maps (upstream supplied no columns)
// encode as an empty object rather than failing.
func encodePK(pk map[string]any) (string, error) {
	if pk == nil {
		return "{}", nil
	}
	b, err := json.Marshal(pk)
	return string(b), err
}

// classify maps a pgx/pgconn error to the sink's Transient/Permanent
// taxonomy. Connection failures and the class of SQLSTATEs Postgres uses
// for transient resource pressure are retryable; everything else,
// including schema and authorization errors, is fatal.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return Transient(err)
		case pgErr.Code == "53300" || pgErr.Code == "40001" || pgErr.Code == "40P01":
			// too_many_connections, serialization_failure, deadlock_detected
			return Transient(err)
		default:
			return Permanent(err)
		}
	}
	// No identifiable PgError: treat as a transport-level failure (timeout,
	// connection reset) and let the retry policy absorb it.
	return Transient(err)
}
