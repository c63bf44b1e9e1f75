package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

// PostgresRepository stores correlations in the correlations and
// correlation_events tables.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// NewPostgresRepository opens a pool for connString.
func NewPostgresRepository(ctx context.Context, connString string, maxConns int32) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{pool: pool, ownsPool: true}, nil
}

// NewPostgresRepositoryFromPool shares an existing pool; Close leaves it open.
func NewPostgresRepositoryFromPool(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Pool exposes the underlying pool so the event source can share it.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *PostgresRepository) Close() error {
	if r.ownsPool {
		r.pool.Close()
	}
	return nil
}

// CreateCorrelation inserts rec unless a record with the same natural key exists, in
// which case the existing id is returned. Concurrent writers race on the unique
// index, so at most one row per key is ever stored.
func (r *PostgresRepository) CreateCorrelation(ctx context.Context, rec *models.CorrelationRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	id := rec.ID
	if id == "" {
		id = models.CorrelationID(rec.NaturalKey())
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inserted string
	err = tx.QueryRow(ctx, `
		INSERT INTO correlations
		(id, rule_id, rule_name, scan_ids, scan_ids_key, aggregation_value, headline, risk, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, id, rec.RuleID, rec.RuleName, rec.ScanIDs, models.ScanIDsKey(rec.ScanIDs),
		rec.AggregationValue, rec.Headline, rec.Risk, createdAt).Scan(&inserted)

	if errors.Is(err, pgx.ErrNoRows) {
		var existing string
		err = tx.QueryRow(ctx, `
			SELECT id FROM correlations
			WHERE rule_id = $1 AND scan_ids_key = $2 AND aggregation_value = $3
		`, rec.RuleID, models.ScanIDsKey(rec.ScanIDs), rec.AggregationValue).Scan(&existing)
		if err != nil {
			return "", fmt.Errorf("failed to load existing correlation: %w", err)
		}
		return existing, tx.Commit(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert correlation: %w", err)
	}

	if len(rec.EventIDs) > 0 {
		rows := make([][]interface{}, 0, len(rec.EventIDs))
		for _, eventID := range rec.EventIDs {
			rows = append(rows, []interface{}{inserted, eventID})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"correlation_events"},
			[]string{"correlation_id", "event_id"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return "", fmt.Errorf("failed to insert correlation events: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit correlation: %w", err)
	}
	return inserted, nil
}

const selectCorrelation = `
	SELECT c.id, c.rule_id, c.rule_name, c.scan_ids, c.aggregation_value, c.headline, c.risk, c.created_at,
		COALESCE(ARRAY(SELECT ce.event_id FROM correlation_events ce
			WHERE ce.correlation_id = c.id ORDER BY ce.event_id), '{}') AS event_ids
	FROM correlations c`

func (r *PostgresRepository) GetCorrelation(ctx context.Context, id string) (*models.CorrelationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, selectCorrelation+` WHERE c.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlation: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanCorrelation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCorrelationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read correlation: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListCorrelations(ctx context.Context, filter ListFilter) ([]*models.CorrelationRecord, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	where := ` WHERE ($1::text = '' OR $1::text = ANY(c.scan_ids)) AND ($2::text = '' OR c.rule_id = $2::text)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM correlations c`+where,
		filter.ScanID, filter.RuleID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count correlations: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, selectCorrelation+where+
		` ORDER BY c.created_at DESC, c.id LIMIT $3 OFFSET $4`,
		filter.ScanID, filter.RuleID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list correlations: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanCorrelation)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read correlations: %w", err)
	}
	return recs, total, nil
}

func scanCorrelation(row pgx.CollectableRow) (*models.CorrelationRecord, error) {
	var rec models.CorrelationRecord
	err := row.Scan(&rec.ID, &rec.RuleID, &rec.RuleName, &rec.ScanIDs, &rec.AggregationValue,
		&rec.Headline, &rec.Risk, &rec.CreatedAt, &rec.EventIDs)
	return &rec, err
}
