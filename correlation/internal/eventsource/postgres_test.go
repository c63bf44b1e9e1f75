package eventsource

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconhawk/reconhawk-stack/common/pgtest"
)

func TestPostgresSource(t *testing.T) {
	_, pool := pgtest.Start(t, "../../migrations")
	ctx := context.Background()

	rows := make([][]interface{}, 0)
	for _, e := range fixture() {
		rows = append(rows, []interface{}{e.ID, e.ScanID, e.Type, e.Data, e.Module, e.Created, e.Hash, e.SourceEventHash})
	}
	_, err := pool.CopyFrom(ctx, pgx.Identifier{"scan_events"},
		[]string{"id", "scan_id", "type", "data", "module", "created", "hash", "source_event_hash"},
		pgx.CopyFromRows(rows))
	require.NoError(t, err)

	src := NewPostgresSource(pool)

	t.Run("GetEvents", func(t *testing.T) {
		events, err := src.GetEvents(ctx, []string{"S1"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"root", "mail", "ip", "port"}, eventIDs(events))
		assert.True(t, events[0].Created.Equal(t0))
		assert.Equal(t, "data-root", events[0].Data)

		events, err = src.GetEvents(ctx, []string{"S1", "S2"}, &Filter{Types: []string{"EMAILADDR"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"other", "mail"}, eventIDs(events))
	})

	t.Run("provenance", func(t *testing.T) {
		parents, err := src.GetEventsByHash(ctx, "S1", []string{"h-ip"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ip"}, eventIDs(parents))

		children, err := src.GetChildEvents(ctx, "S1", []string{"h-root"})
		require.NoError(t, err)
		assert.Equal(t, []string{"mail", "ip"}, eventIDs(children))

		byID, err := src.GetEventsByID(ctx, []string{"port", "other"})
		require.NoError(t, err)
		assert.Equal(t, []string{"other", "port"}, eventIDs(byID))
	})

	t.Run("timeout", func(t *testing.T) {
		short := NewPostgresSource(pool)
		short.queryTimeout = time.Nanosecond
		_, err := short.GetEvents(ctx, []string{"S1"}, nil)
		assert.Error(t, err)
	})
}
