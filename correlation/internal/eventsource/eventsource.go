// Package eventsource gives the correlation engine read-only access to scan events.
package eventsource

import (
	"context"
	"errors"
	"sort"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown event source backend")

// Backend names accepted in configuration.
const (
	BackendPostgres   = "postgres"
	BackendOpenSearch = "opensearch"
	BackendMemory     = "memory"
)

// Filter narrows GetEvents. A nil Filter or empty field means no constraint.
type Filter struct {
	Types []string
}

// Source reads scan events. Results are ordered by creation time, then id.
// Implementations must be safe for concurrent use and honor ctx cancellation.
type Source interface {
	GetEvents(ctx context.Context, scanIDs []string, filter *Filter) ([]*models.Event, error)
}

// ProvenanceSource additionally follows the source_event_hash graph, which the
// enricher needs.
type ProvenanceSource interface {
	Source

	// GetEventsByHash returns the events of scanID whose hash is in hashes.
	GetEventsByHash(ctx context.Context, scanID string, hashes []string) ([]*models.Event, error)

	// GetChildEvents returns the events of scanID whose source_event_hash is in parentHashes.
	GetChildEvents(ctx context.Context, scanID string, parentHashes []string) ([]*models.Event, error)

	// GetEventsByID returns the events with the given ids, in any scan.
	GetEventsByID(ctx context.Context, ids []string) ([]*models.Event, error)
}

// SortEvents orders events by creation time, then id.
func SortEvents(events []*models.Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].EarlierThan(events[j]) })
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
