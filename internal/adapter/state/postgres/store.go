// Package postgres persists key state in a PostgreSQL table. Saves replace
// the whole table contents inside one transaction so readers only ever see a
// complete state mapping.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/keypool/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the store for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store implements domain.StateStore on a pgx pool.
type Store struct{ Pool PgxPool }

// New constructs a Store with the given pool.
func New(p PgxPool) *Store { return &Store{Pool: p} }

// Migrate creates the key_states table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS key_states (
		fingerprint TEXT PRIMARY KEY,
		cooldown_until BIGINT NOT NULL DEFAULT 0,
		failures INT NOT NULL DEFAULT 0,
		last_used_at BIGINT NOT NULL DEFAULT 0,
		failure_at BIGINT,
		failure_code TEXT,
		failure_message TEXT
	)`
	if _, err := s.Pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("op=keystates.migrate: %w", err)
	}
	return nil
}

// Load implements domain.StateStore.
func (s *Store) Load(ctx context.Context) (map[string]domain.KeyState, error) {
	tracer := otel.Tracer("state.postgres")
	ctx, span := tracer.Start(ctx, "key_states.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "key_states"),
	)
	q := `SELECT fingerprint, cooldown_until, failures, last_used_at, failure_at, failure_code, failure_message FROM key_states`
	rows, err := s.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=keystates.load: %w", err)
	}
	defer rows.Close()

	states := make(map[string]domain.KeyState)
	for rows.Next() {
		var (
			fp             string
			cooldown, used int64
			failures       int
			failAt         *int64
			failCode       *string
			failMsg        *string
		)
		if err := rows.Scan(&fp, &cooldown, &failures, &used, &failAt, &failCode, &failMsg); err != nil {
			return nil, fmt.Errorf("op=keystates.load: %w", err)
		}
		st := domain.KeyState{ConsecutiveFailures: failures}
		if cooldown != 0 {
			st.CooldownUntil = time.Unix(cooldown, 0).UTC()
		}
		if used != 0 {
			st.LastUsedAt = time.Unix(used, 0).UTC()
		}
		if failAt != nil && failCode != nil && failMsg != nil {
			st.LastFailure = &domain.LastFailure{
				At:      time.Unix(*failAt, 0).UTC(),
				Code:    *failCode,
				Message: *failMsg,
			}
		}
		states[fp] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=keystates.load: %w", err)
	}
	return states, nil
}

// Save implements domain.StateStore.
func (s *Store) Save(ctx context.Context, states map[string]domain.KeyState) error {
	tracer := otel.Tracer("state.postgres")
	ctx, span := tracer.Start(ctx, "key_states.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "REPLACE"),
		attribute.String("db.sql.table", "key_states"),
	)
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=keystates.save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM key_states`); err != nil {
		return fmt.Errorf("op=keystates.save: %w", err)
	}
	q := `INSERT INTO key_states (fingerprint, cooldown_until, failures, last_used_at, failure_at, failure_code, failure_message)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)`
	for fp, st := range states {
		var (
			cooldown, used int64
			failAt         *int64
			failCode       *string
			failMsg        *string
		)
		if !st.CooldownUntil.IsZero() {
			cooldown = st.CooldownUntil.Unix()
		}
		if !st.LastUsedAt.IsZero() {
			used = st.LastUsedAt.Unix()
		}
		if st.LastFailure != nil {
			at := st.LastFailure.At.Unix()
			failAt = &at
			failCode = &st.LastFailure.Code
			failMsg = &st.LastFailure.Message
		}
		if _, err := tx.Exec(ctx, q, fp, cooldown, st.ConsecutiveFailures, used, failAt, failCode, failMsg); err != nil {
			return fmt.Errorf("op=keystates.save: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=keystates.save: %w", err)
	}
	return nil
}
