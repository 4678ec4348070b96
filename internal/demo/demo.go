// Package demo provides an optional workload generator against the
// upstream database, useful for exercising the pipeline end-to-end without
// a real application writing to it. It is not part of the pipeline proper —
// nothing in internal/apply or internal/bootstrap depends on this package.
package demo

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const createTestDataTable = `
CREATE TABLE IF NOT EXISTS test_data (
	id         SERIAL PRIMARY KEY,
	counter    INTEGER NOT NULL,
	message    TEXT,
	value      NUMERIC(10,2),
	created_at TIMESTAMP DEFAULT NOW(),
	updated_at TIMESTAMP DEFAULT NOW()
)`

// EnsureSampleSchema creates the test_data table if absent and seeds it with
// one row if empty, so a freshly bootstrapped pipeline has something to
// replicate before the generator (or a real application) starts writing.
func EnsureSampleSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, createTestDataTable); err != nil {
		return fmt.Errorf("demo: create test_data table: %w", err)
	}

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM test_data").Scan(&count); err != nil {
		return fmt.Errorf("demo: count test_data rows: %w", err)
	}
	if count == 0 {
		_, err := pool.Exec(ctx,
			"INSERT INTO test_data (counter, message, value) VALUES (0, 'initial row', 0)")
		if err != nil {
			return fmt.Errorf("demo: seed test_data: %w", err)
		}
	}
	return nil
}

// Generator drives a steady stream of inserts, updates, counter bumps, and
// deletes against test_data, so the upstream produces a continuous flow of
// WAL changes for the pipeline to decode.
type Generator struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	rand   *rand.Rand
}

// NewGenerator creates a Generator writing through pool.
func NewGenerator(pool *pgxpool.Pool, logger zerolog.Logger) *Generator {
	return &Generator{
		pool:   pool,
		logger: logger.With().Str("component", "demo").Logger(),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run alternates insert, update, counter-bump, and delete operations every
// interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ops := []func(context.Context, int) error{g.insert, g.update, g.bumpCounters, g.delete}
	n := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n++
			op := ops[n%len(ops)]
			if err := op(ctx, n); err != nil {
				g.logger.Err(err).Int("operation", n).Msg("demo generator operation failed")
			}
		}
	}
}

func (g *Generator) insert(ctx context.Context, n int) error {
	message := fmt.Sprintf("test message %d", n)
	value := g.randomValue()
	var id int
	err := g.pool.QueryRow(ctx,
		"INSERT INTO test_data (counter, message, value) VALUES ($1, $2, $3) RETURNING id",
		n, message, value).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	g.logger.Debug().Int("id", id).Float64("value", value).Msg("inserted row")
	return nil
}

func (g *Generator) update(ctx context.Context, n int) error {
	var id int
	err := g.pool.QueryRow(ctx, "SELECT id FROM test_data ORDER BY RANDOM() LIMIT 1").Scan(&id)
	if err != nil {
		return fmt.Errorf("select row to update: %w", err)
	}
	message := fmt.Sprintf("updated at operation %d", n)
	value := g.randomValue()
	_, err = g.pool.Exec(ctx,
		"UPDATE test_data SET message = $1, value = $2, updated_at = NOW() WHERE id = $3",
		message, value, id)
	if err != nil {
		return fmt.Errorf("update row %d: %w", id, err)
	}
	g.logger.Debug().Int("id", id).Float64("value", value).Msg("updated row")
	return nil
}

func (g *Generator) bumpCounters(ctx context.Context, _ int) error {
	tag, err := g.pool.Exec(ctx, "UPDATE test_data SET counter = counter + 1, updated_at = NOW()")
	if err != nil {
		return fmt.Errorf("bump counters: %w", err)
	}
	g.logger.Debug().Int64("rows", tag.RowsAffected()).Msg("bumped counters")
	return nil
}

func (g *Generator) delete(ctx context.Context, _ int) error {
	var count int
	if err := g.pool.QueryRow(ctx, "SELECT COUNT(*) FROM test_data").Scan(&count); err != nil {
		return fmt.Errorf("count rows before delete: %w", err)
	}
	if count <= 5 {
		g.logger.Debug().Int("count", count).Msg("skipped delete, keeping minimum rows")
		return nil
	}

	var id int
	err := g.pool.QueryRow(ctx,
		"DELETE FROM test_data WHERE id = (SELECT id FROM test_data ORDER BY created_at ASC LIMIT 1) RETURNING id").
		Scan(&id)
	if err != nil {
		return fmt.Errorf("delete oldest row: %w", err)
	}
	g.logger.Debug().Int("id", id).Msg("deleted row")
	return nil
}

func (g *Generator) randomValue() float64 {
	v := 10.0 + g.rand.Float64()*990.0
	return float64(int(v*100)) / 100
}
