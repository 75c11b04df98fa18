package userid

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novafi/novafi/internal/domain"
)

// PostgresAllocator stores one counter row per period and relies on row locks,
// so any number of process instances can allocate concurrently.
type PostgresAllocator struct {
	db *pgxpool.Pool
}

// NewPostgresAllocator constructs a Postgres-backed allocator.
func NewPostgresAllocator(db *pgxpool.Pool) *PostgresAllocator {
	return &PostgresAllocator{db: db}
}

// Allocate locks the period row, reads, increments and commits in one transaction.
// A crash before commit rolls the increment back, so no sequence leaks.
func (a *PostgresAllocator) Allocate(ctx context.Context, period Period) (string, error) {
	if !period.valid() {
		return "", fmt.Errorf("invalid period %v/%d", period.Month, period.Year)
	}
	key := period.Key()

	tx, err := a.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO identifier_counters (period_key, value) VALUES ($1, 0)
        ON CONFLICT (period_key) DO NOTHING`, key); err != nil {
		return "", fmt.Errorf("ensure counter %s: %w", key, err)
	}

	var current int
	if err := tx.QueryRow(ctx, `SELECT value FROM identifier_counters WHERE period_key = $1 FOR UPDATE`, key).Scan(&current); err != nil {
		return "", fmt.Errorf("lock counter %s: %w", key, err)
	}
	if current >= MaxSequence {
		return "", fmt.Errorf("%w: %s", domain.ErrCapacityExhausted, key)
	}

	next := current + 1
	if _, err := tx.Exec(ctx, `UPDATE identifier_counters SET value = $1, updated_at = now() WHERE period_key = $2`, next, key); err != nil {
		return "", fmt.Errorf("increment counter %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return Format(period, next), nil
}

// Current returns the last issued sequence, zero when the period has no row yet.
func (a *PostgresAllocator) Current(ctx context.Context, period Period) (int, error) {
	var value int
	err := a.db.QueryRow(ctx, `SELECT value FROM identifier_counters WHERE period_key = $1`, period.Key()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return value, err
}
