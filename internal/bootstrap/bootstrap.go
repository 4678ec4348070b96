// Package bootstrap wires the pipeline together at startup (spec.md §4.F):
// it ensures the publication and replication slot exist on the upstream,
// resolves the starting LSN, and assembles the decoder, sink, offset store,
// and apply loop into a single runnable pipeline.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jcrane-labs/walcdc/internal/apply"
	"github.com/jcrane-labs/walcdc/internal/config"
	"github.com/jcrane-labs/walcdc/internal/decoder"
	"github.com/jcrane-labs/walcdc/internal/offsetstore"
	"github.com/jcrane-labs/walcdc/internal/sink"
)

// EnsurePublication creates the publication FOR ALL TABLES if it does not
// already exist on the upstream.
func EnsurePublication(ctx context.Context, pool *pgxpool.Pool, name string) error {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pg_publication WHERE pubname = $1)`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("bootstrap: check publication %s: %w", name, err)
	}
	if exists {
		return nil
	}
	// Publication names cannot be parameterized; name is operator-supplied
	// configuration, not untrusted input, so this is not a SQL-injection path.
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE PUBLICATION %s FOR ALL TABLES", quoteIdent(name))); err != nil {
		return fmt.Errorf("bootstrap: create publication %s: %w", name, err)
	}
	return nil
}

// EnsureReplicationSlot creates a logical replication slot for the given
// decoding plugin if it does not already exist.
func EnsureReplicationSlot(ctx context.Context, pool *pgxpool.Pool, slot, plugin string) error {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pg_replication_slots WHERE slot_name = $1)`, slot).Scan(&exists)
	if err != nil {
		return fmt.Errorf("bootstrap: check replication slot %s: %w", slot, err)
	}
	if exists {
		return nil
	}
	if _, err := pool.Exec(ctx, `SELECT * FROM pg_create_logical_replication_slot($1, $2)`, slot, plugin); err != nil {
		return fmt.Errorf("bootstrap: create replication slot %s: %w", slot, err)
	}
	return nil
}

// CurrentWALPosition queries the upstream's current WAL position, used to
// seed start_lsn when the slot has never been committed and
// start_from_beginning is false.
func CurrentWALPosition(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	var lsn string
	if err := pool.QueryRow(ctx, `SELECT pg_current_wal_lsn()::text`).Scan(&lsn); err != nil {
		return "", fmt.Errorf("bootstrap: query current WAL position: %w", err)
	}
	return lsn, nil
}

// ResolveStartLSN implements spec.md §4.F's precedence: the store's last
// committed value if present; else, if start_from_beginning is false, the
// upstream's current WAL position; else "" so the helper starts from the
// slot's own consistent point.
func ResolveStartLSN(ctx context.Context, pool *pgxpool.Pool, store *offsetstore.Store, slot string, startFromBeginning bool) (string, error) {
	stored, err := store.Get(slot)
	if err != nil {
		return "", fmt.Errorf("bootstrap: read stored offset: %w", err)
	}
	if stored != "" {
		return stored, nil
	}
	if startFromBeginning {
		return "", nil
	}
	return CurrentWALPosition(ctx, pool)
}

// Pipeline bundles the fully wired components for one run.
type Pipeline struct {
	Decoder *decoder.Source
	Loop    *apply.Loop
	Store   *offsetstore.Store

	pool *pgxpool.Pool
}

// Build connects to the upstream database (the reference sink writes through
// the same connection pool), ensures the
// publication/slot exist, resolves start_lsn, opens the offset store, and
// constructs the decoder and apply loop. The caller owns Run and Close.
// observer may be nil; when set it is wired as the apply loop's Observer so
// phase transitions and batch outcomes feed the metrics collector.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, observer apply.Observer) (*Pipeline, error) {
	pool, err := pgxpool.New(ctx, cfg.Source.DSN())
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect to source: %w", err)
	}

	if err := EnsurePublication(ctx, pool, cfg.PublicationName); err != nil {
		pool.Close()
		return nil, err
	}
	if err := EnsureReplicationSlot(ctx, pool, cfg.SlotName, cfg.Plugin); err != nil {
		pool.Close()
		return nil, err
	}

	store, err := offsetstore.Open(cfg.OffsetsPath)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: open offset store: %w", err)
	}

	startLSN, err := ResolveStartLSN(ctx, pool, store, cfg.SlotName, cfg.StartFromBeginning)
	if err != nil {
		store.Close()
		pool.Close()
		return nil, err
	}

	pgSink := sink.NewPostgres(pool, logger)
	if err := pgSink.EnsureSchema(ctx); err != nil {
		store.Close()
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ensure sink schema: %w", err)
	}

	src := decoder.New(decoder.Config{
		Host:                  cfg.Source.Host,
		Port:                  cfg.Source.Port,
		User:                  cfg.Source.User,
		Password:              cfg.Source.Password,
		DBName:                cfg.Source.DBName,
		SlotName:              cfg.SlotName,
		Publication:           cfg.PublicationName,
		Plugin:                cfg.Plugin,
		StatusIntervalSeconds: cfg.StatusIntervalSeconds,
		StartLSN:              startLSN,
	}, logger)

	loop := apply.New(apply.Options{
		SlotName:       cfg.SlotName,
		BatchSize:      cfg.BatchSize,
		MaxRetries:     cfg.MaxRetries,
		BackoffSeconds: cfg.BackoffSeconds,
		Sink:           pgSink,
		Store:          store,
		Observer:       observer,
		Logger:         logger,
	})

	return &Pipeline{Decoder: src, Loop: loop, Store: store, pool: pool}, nil
}

// Run starts the decoder and drives the apply loop until the decoder's
// stream ends or ctx is cancelled, surfacing whichever error terminated it.
func (p *Pipeline) Run(ctx context.Context) error {
	items, err := p.Decoder.Start(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: start decoder: %w", err)
	}

	runErr := p.Loop.Run(ctx, items)
	p.Decoder.Close()

	if runErr != nil {
		return runErr
	}
	if decErr := p.Decoder.Err(); decErr != nil {
		return fmt.Errorf("bootstrap: decoder failed: %w", decErr)
	}
	return nil
}

// WALPosition reports the upstream's current WAL position, used by callers
// that poll for replication lag while the pipeline runs.
func (p *Pipeline) WALPosition(ctx context.Context) (string, error) {
	return CurrentWALPosition(ctx, p.pool)
}

// Close releases the pipeline's database connections and offset store.
func (p *Pipeline) Close() {
	p.Store.Close()
	p.pool.Close()
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
