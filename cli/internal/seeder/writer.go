package seeder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var eventColumns = []string{"id", "scan_id", "type", "data", "module", "created", "hash", "source_event_hash"}

// Writer persists generated events.
type Writer interface {
	Write(ctx context.Context, events []Event) (int64, error)
	Reset(ctx context.Context, scanIDs []string) (int64, error)
}

type PostgresWriter struct {
	pool *pgxpool.Pool
}

func NewPostgresWriter(pool *pgxpool.Pool) *PostgresWriter {
	return &PostgresWriter{pool: pool}
}

// Write bulk loads events with COPY.
func (w *PostgresWriter) Write(ctx context.Context, events []Event) (int64, error) {
	n, err := w.pool.CopyFrom(ctx, pgx.Identifier{"scan_events"}, eventColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]interface{}, error) {
			e := events[i]
			return []interface{}{e.ID, e.ScanID, e.Type, e.Data, e.Module, e.Created, e.Hash, e.SourceEventHash}, nil
		}))
	if err != nil {
		return n, fmt.Errorf("copy scan events: %w", err)
	}
	return n, nil
}

// Reset removes previously seeded events for the given scans so reruns do not
// collide on primary keys.
func (w *PostgresWriter) Reset(ctx context.Context, scanIDs []string) (int64, error) {
	tag, err := w.pool.Exec(ctx, `DELETE FROM scan_events WHERE scan_id = ANY($1)`, scanIDs)
	if err != nil {
		return 0, fmt.Errorf("delete scan events: %w", err)
	}
	return tag.RowsAffected(), nil
}
