package engine

import (
	"sort"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

// Group is the set of matched events sharing one value of the aggregation field.
// Groups are rebuilt for every evaluation and never persisted.
type Group struct {
	Key    string
	Field  string
	Events []*models.Event
}

// Representative is the event used to fill non-key headline placeholders: the
// earliest by creation time, ties broken by id.
func (g *Group) Representative() *models.Event {
	var rep *models.Event
	for _, e := range g.Events {
		if rep == nil || e.EarlierThan(rep) {
			rep = e
		}
	}
	return rep
}

// EventIDs returns the distinct ids of the group's events, sorted.
func (g *Group) EventIDs() []string {
	seen := make(map[string]struct{}, len(g.Events))
	ids := make([]string, 0, len(g.Events))
	for _, e := range g.Events {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)
	return ids
}

// Groups maps aggregation values to their groups.
type Groups map[string]*Group

// Keys returns the aggregation values in sorted order.
func (gs Groups) Keys() []string {
	keys := make([]string, 0, len(gs))
	for k := range gs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EventCount is the total number of events across all groups.
func (gs Groups) EventCount() int {
	n := 0
	for _, g := range gs {
		n += len(g.Events)
	}
	return n
}
