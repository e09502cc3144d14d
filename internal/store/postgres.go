package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Brownie44l1/fer-recorder/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresRecorder stores records in PostgreSQL table
type PostgresRecorder struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresRecorder connects to PostgreSQL and creates records table
// if it does not exist
func NewPostgresRecorder(ctx context.Context, opts Options) (*PostgresRecorder, error) {
	if !tableName.MatchString(opts.Collection) {
		return nil, fmt.Errorf("invalid table name %q", opts.Collection)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	pool, err := pgxpool.New(ctx, opts.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to connect to PostgreSQL: %v", ErrPersistence, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: unable to connect to PostgreSQL: %v", ErrPersistence, err)
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		label TEXT NOT NULL,
		probability DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`, opts.Collection)
	if _, err := pool.Exec(ctx, stmt); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: unable to create table %s: %v", ErrPersistence, opts.Collection, err)
	}
	return &PostgresRecorder{pool: pool, table: opts.Collection}, nil
}

func (p *PostgresRecorder) Record(ctx context.Context, pred *model.Prediction) (Record, error) {
	rec := newRecord(pred)
	stmt := fmt.Sprintf(`INSERT INTO %s (label, probability, created_at) VALUES ($1, $2, $3)`, p.table)
	if _, err := p.pool.Exec(ctx, stmt, rec.Label, rec.Probability, rec.Timestamp); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return rec, nil
}

func (p *PostgresRecorder) Records(ctx context.Context) ([]Record, error) {
	stmt := fmt.Sprintf(`SELECT label, probability, created_at FROM %s ORDER BY id`, p.table)
	rows, err := p.pool.Query(ctx, stmt)
	if err != nil {
		return []Record{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.Label, &rec.Probability, &rec.Timestamp)
		rec.Timestamp = rec.Timestamp.UTC()
		return rec, err
	})
	if err != nil {
		return []Record{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

func (p *PostgresRecorder) Close() error {
	p.pool.Close()
	return nil
}
