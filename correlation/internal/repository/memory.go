package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

// MemoryRepository keeps correlations in memory, keyed by natural key.
type MemoryRepository struct {
	mu    sync.RWMutex
	byKey map[string]*models.CorrelationRecord
	byID  map[string]*models.CorrelationRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byKey: make(map[string]*models.CorrelationRecord),
		byID:  make(map[string]*models.CorrelationRecord),
	}
}

func (r *MemoryRepository) CreateCorrelation(ctx context.Context, rec *models.CorrelationRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := rec.NaturalKey()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byKey[key]; ok {
		return existing.ID, nil
	}
	stored := copyRecord(rec)
	if stored.ID == "" {
		stored.ID = models.CorrelationID(key)
	}
	r.byKey[key] = stored
	r.byID[stored.ID] = stored
	return stored.ID, nil
}

func (r *MemoryRepository) GetCorrelation(ctx context.Context, id string) (*models.CorrelationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, ErrCorrelationNotFound
	}
	return copyRecord(rec), nil
}

// ListCorrelations returns matches newest first, then by id.
func (r *MemoryRepository) ListCorrelations(ctx context.Context, filter ListFilter) ([]*models.CorrelationRecord, int, error) {
	r.mu.RLock()
	matched := make([]*models.CorrelationRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		if filter.RuleID != "" && rec.RuleID != filter.RuleID {
			continue
		}
		if filter.ScanID != "" && !contains(rec.ScanIDs, filter.ScanID) {
			continue
		}
		matched = append(matched, copyRecord(rec))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start, end := pageBounds(total, filter.Limit, filter.Offset)
	return matched[start:end], total, nil
}

// Len returns the number of stored correlations.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *MemoryRepository) Close() error { return nil }

func copyRecord(rec *models.CorrelationRecord) *models.CorrelationRecord {
	c := *rec
	c.ScanIDs = append([]string(nil), rec.ScanIDs...)
	c.EventIDs = append([]string(nil), rec.EventIDs...)
	return &c
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func pageBounds(total, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
