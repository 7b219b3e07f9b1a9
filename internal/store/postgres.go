package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/money"
)

// Schema creates the valuation history table. NPV micros are stored as
// NUMERIC so the full 128-bit range survives exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS valuations (
	id             TEXT PRIMARY KEY,
	operation      TEXT NOT NULL,
	input          JSONB NOT NULL,
	points         JSONB,
	npv_micro      NUMERIC(40, 0) NOT NULL,
	irr_bps        INTEGER,
	cashflow_count INTEGER NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS valuations_created_at_idx ON valuations (created_at DESC);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables the store needs if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) CreateValuation(ctx context.Context, v *model.Valuation) error {
	input, err := json.Marshal(v.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	var points *string
	if len(v.Points) > 0 {
		data, err := json.Marshal(v.Points)
		if err != nil {
			return fmt.Errorf("encode points: %w", err)
		}
		p := string(data)
		points = &p
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO valuations (id, operation, input, points, npv_micro, irr_bps, cashflow_count, created_at)
		 VALUES ($1, $2, $3::JSONB, $4::JSONB, $5::NUMERIC, $6, $7, $8)`,
		v.ID, v.Operation, string(input), points,
		v.Output.NPV.String(), v.Output.IRRBps,
		v.CashflowCount, v.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetValuation(ctx context.Context, id string) (*model.Valuation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, operation, input::TEXT, points::TEXT,
		        npv_micro::TEXT, irr_bps, cashflow_count, created_at
		 FROM valuations WHERE id = $1`, id)

	v, err := scanValuation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get valuation %s: %w", id, err)
	}
	return v, nil
}

func (s *PostgresStore) ListValuations(ctx context.Context, limit int) ([]model.Valuation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, operation, input::TEXT, points::TEXT,
		        npv_micro::TEXT, irr_bps, cashflow_count, created_at
		 FROM valuations ORDER BY created_at DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	valuations := []model.Valuation{}
	for rows.Next() {
		v, err := scanValuation(rows)
		if err != nil {
			return nil, err
		}
		valuations = append(valuations, *v)
	}
	return valuations, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanValuation(row rowScanner) (*model.Valuation, error) {
	var v model.Valuation
	var inputS, npvS string
	var pointsS *string

	if err := row.Scan(&v.ID, &v.Operation, &inputS, &pointsS,
		&npvS, &v.Output.IRRBps, &v.CashflowCount, &v.CreatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(inputS), &v.Input); err != nil {
		return nil, fmt.Errorf("decode input of %s: %w", v.ID, err)
	}
	if pointsS != nil {
		if err := json.Unmarshal([]byte(*pointsS), &v.Points); err != nil {
			return nil, fmt.Errorf("decode points of %s: %w", v.ID, err)
		}
	}
	npv, err := money.Parse(npvS)
	if err != nil {
		return nil, fmt.Errorf("decode npv of %s: %w", v.ID, err)
	}
	v.Output.NPV = npv

	return &v, nil
}
