package eventsource

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

const eventColumns = `id, scan_id, type, data, module, created, hash, source_event_hash`

// PostgresSource reads events from the scan_events table written by the scan engine.
type PostgresSource struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresSource wraps an existing pool. The pool is owned by the caller.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool, queryTimeout: 30 * time.Second}
}

func (s *PostgresSource) GetEvents(ctx context.Context, scanIDs []string, filter *Filter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM scan_events WHERE scan_id = ANY($1)`
	args := []interface{}{uniqueStrings(scanIDs)}
	if filter != nil && len(filter.Types) > 0 {
		query += ` AND type = ANY($2)`
		args = append(args, uniqueStrings(filter.Types))
	}
	query += ` ORDER BY created, id`
	return s.query(ctx, query, args...)
}

func (s *PostgresSource) GetEventsByHash(ctx context.Context, scanID string, hashes []string) ([]*models.Event, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+eventColumns+` FROM scan_events
		WHERE scan_id = $1 AND hash = ANY($2) ORDER BY created, id`, scanID, uniqueStrings(hashes))
}

func (s *PostgresSource) GetChildEvents(ctx context.Context, scanID string, parentHashes []string) ([]*models.Event, error) {
	if len(parentHashes) == 0 {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+eventColumns+` FROM scan_events
		WHERE scan_id = $1 AND source_event_hash = ANY($2) ORDER BY created, id`, scanID, uniqueStrings(parentHashes))
}

func (s *PostgresSource) GetEventsByID(ctx context.Context, ids []string) ([]*models.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+eventColumns+` FROM scan_events
		WHERE id = ANY($1) ORDER BY created, id`, uniqueStrings(ids))
}

func (s *PostgresSource) query(ctx context.Context, query string, args ...interface{}) ([]*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Event, error) {
		var e models.Event
		err := row.Scan(&e.ID, &e.ScanID, &e.Type, &e.Data, &e.Module, &e.Created, &e.Hash, &e.SourceEventHash)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan event rows: %w", err)
	}
	return events, nil
}
