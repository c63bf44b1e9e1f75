package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

var created = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func record(ruleID string, scanIDs []string, value string, offset time.Duration) *models.CorrelationRecord {
	rec := &models.CorrelationRecord{
		RuleID:           ruleID,
		RuleName:         "Rule " + ruleID,
		ScanIDs:          scanIDs,
		AggregationValue: value,
		Headline:         "Found " + value,
		Risk:             "HIGH",
		EventIDs:         []string{value + "-e1", value + "-e2"},
		CreatedAt:        created.Add(offset),
	}
	rec.ID = models.CorrelationID(rec.NaturalKey())
	return rec
}

// testRepositoryContract exercises the behavior every Repository must share.
func testRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		rec := record("r1", []string{"S1"}, "a@example.com", 0)
		id, err := repo.CreateCorrelation(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, id)

		got, err := repo.GetCorrelation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "r1", got.RuleID)
		assert.Equal(t, "Rule r1", got.RuleName)
		assert.Equal(t, []string{"S1"}, got.ScanIDs)
		assert.Equal(t, "a@example.com", got.AggregationValue)
		assert.Equal(t, "Found a@example.com", got.Headline)
		assert.Equal(t, "HIGH", got.Risk)
		assert.Equal(t, []string{"a@example.com-e1", "a@example.com-e2"}, got.EventIDs)
		assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
	})

	t.Run("natural key is idempotent", func(t *testing.T) {
		first := record("r2", []string{"S1", "S2"}, "shared", 0)
		id1, err := repo.CreateCorrelation(ctx, first)
		require.NoError(t, err)

		second := record("r2", []string{"S2", "S1"}, "shared", time.Hour)
		second.ID = "some-other-id"
		second.Headline = "changed"
		id2, err := repo.CreateCorrelation(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, id1, id2)

		got, err := repo.GetCorrelation(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, "Found shared", got.Headline, "existing record is not overwritten")
	})

	t.Run("concurrent writers store one record", func(t *testing.T) {
		var wg sync.WaitGroup
		ids := make([]string, 8)
		errs := make([]error, 8)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], errs[i] = repo.CreateCorrelation(ctx, record("r3", []string{"S1"}, "race", 0))
			}(i)
		}
		wg.Wait()
		for i := range ids {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		_, total, err := repo.ListCorrelations(ctx, ListFilter{RuleID: "r3"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := repo.GetCorrelation(ctx, models.CorrelationID("nope"))
		assert.ErrorIs(t, err, ErrCorrelationNotFound)
	})

	t.Run("list filters and pages", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := repo.CreateCorrelation(ctx, record("paged", []string{"S9"}, fmt.Sprintf("v%d", i), time.Duration(i)*time.Minute))
			require.NoError(t, err)
		}
		_, err := repo.CreateCorrelation(ctx, record("paged", []string{"S8"}, "elsewhere", 0))
		require.NoError(t, err)

		recs, total, err := repo.ListCorrelations(ctx, ListFilter{ScanID: "S9", RuleID: "paged", Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, recs, 2)
		assert.Equal(t, "v3", recs[0].AggregationValue, "newest first")
		assert.Equal(t, "v2", recs[1].AggregationValue)

		recs, total, err = repo.ListCorrelations(ctx, ListFilter{RuleID: "paged", Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, 6, total)
		assert.Empty(t, recs)
	})
}

func TestMemoryRepository(t *testing.T) {
	testRepositoryContract(t, NewMemoryRepository())
}

func TestMemoryRepository_StoresCopies(t *testing.T) {
	repo := NewMemoryRepository()
	rec := record("r", []string{"S1"}, "v", 0)
	id, err := repo.CreateCorrelation(context.Background(), rec)
	require.NoError(t, err)

	rec.ScanIDs[0] = "mutated"
	got, err := repo.GetCorrelation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, got.ScanIDs)

	got.EventIDs[0] = "mutated"
	again, err := repo.GetCorrelation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "v-e1", again.EventIDs[0])
}

func TestMemoryRepository_DerivesMissingID(t *testing.T) {
	repo := NewMemoryRepository()
	rec := record("r", []string{"S1"}, "v", 0)
	want := rec.ID
	rec.ID = ""

	id, err := repo.CreateCorrelation(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, want, id)
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		total, limit, offset int
		start, end           int
	}{
		{10, 0, 0, 0, 10},
		{10, 3, 0, 0, 3},
		{10, 3, 8, 8, 10},
		{10, 3, 20, 10, 10},
		{10, 3, -1, 0, 3},
		{0, 5, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d/%d", tt.total, tt.limit, tt.offset), func(t *testing.T) {
			start, end := pageBounds(tt.total, tt.limit, tt.offset)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}
