package eventsource

import (
	"context"
	"sync"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

// MemorySource serves events from memory. It backs tests and the "memory" backend
// used for local rule development.
type MemorySource struct {
	mu     sync.RWMutex
	events []*models.Event
}

// NewMemorySource returns a source holding events.
func NewMemorySource(events ...*models.Event) *MemorySource {
	s := &MemorySource{}
	s.Add(events...)
	return s
}

// Add appends events to the source.
func (s *MemorySource) Add(events ...*models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events = append(s.events, e.Clone())
	}
}

func (s *MemorySource) GetEvents(ctx context.Context, scanIDs []string, filter *Filter) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scans := toSet(scanIDs)
	var types map[string]struct{}
	if filter != nil && len(filter.Types) > 0 {
		types = toSet(filter.Types)
	}
	return s.selectEvents(func(e *models.Event) bool {
		if _, ok := scans[e.ScanID]; !ok {
			return false
		}
		if types != nil {
			if _, ok := types[e.Type]; !ok {
				return false
			}
		}
		return true
	}), nil
}

func (s *MemorySource) GetEventsByHash(ctx context.Context, scanID string, hashes []string) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := toSet(hashes)
	return s.selectEvents(func(e *models.Event) bool {
		_, ok := set[e.Hash]
		return ok && e.ScanID == scanID
	}), nil
}

func (s *MemorySource) GetChildEvents(ctx context.Context, scanID string, parentHashes []string) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := toSet(parentHashes)
	return s.selectEvents(func(e *models.Event) bool {
		_, ok := set[e.SourceEventHash]
		return ok && e.ScanID == scanID
	}), nil
}

func (s *MemorySource) GetEventsByID(ctx context.Context, ids []string) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := toSet(ids)
	return s.selectEvents(func(e *models.Event) bool {
		_, ok := set[e.ID]
		return ok
	}), nil
}

// selectEvents returns copies so callers cannot modify the stored events.
func (s *MemorySource) selectEvents(keep func(*models.Event) bool) []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Event, 0)
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	SortEvents(out)
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range uniqueStrings(values) {
		set[v] = struct{}{}
	}
	return set
}
