package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the table used by PgStore.
const Schema = `
CREATE TABLE IF NOT EXISTS wizard_progress (
	owner          TEXT        NOT NULL,
	case_id        TEXT        NOT NULL,
	procedure_code TEXT        NOT NULL,
	step_key       TEXT        NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner, case_id)
)`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL progress store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the progress table if it does not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create wizard_progress: %w", err)
	}
	return nil
}

// Load reads the position for owner and caseID.
func (s *PgStore) Load(ctx context.Context, owner, caseID string) (Position, bool, error) {
	var pos Position
	err := s.pool.QueryRow(ctx, `
		SELECT procedure_code, step_key, updated_at
		FROM wizard_progress
		WHERE owner = $1 AND case_id = $2`,
		owner, caseID,
	).Scan(&pos.ProcedureCode, &pos.StepKey, &pos.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("query wizard progress: %w", err)
	}
	return pos, true, nil
}

// Save upserts the position.
func (s *PgStore) Save(ctx context.Context, owner, caseID string, pos Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wizard_progress (owner, case_id, procedure_code, step_key, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner, case_id) DO UPDATE SET
			procedure_code = EXCLUDED.procedure_code,
			step_key = EXCLUDED.step_key,
			updated_at = EXCLUDED.updated_at`,
		owner, caseID, pos.ProcedureCode, pos.StepKey, pos.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert wizard progress: %w", err)
	}
	return nil
}

// Delete removes the position.
func (s *PgStore) Delete(ctx context.Context, owner, caseID string) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM wizard_progress WHERE owner = $1 AND case_id = $2`,
		owner, caseID,
	); err != nil {
		return fmt.Errorf("delete wizard progress: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
