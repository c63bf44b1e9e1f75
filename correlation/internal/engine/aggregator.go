package engine

import (
	"sort"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

// Aggregator groups matched events by the literal value of the aggregation field.
type Aggregator struct{}

// Aggregate builds the groups for one pool of events. Without an aggregation every
// event lands in a single group with an empty key. An event whose field resolves to
// several values (relational fields) joins one group per distinct value; events with
// no value for the field are left out.
func (Aggregator) Aggregate(events []*models.Event, aggregation *rules.Aggregation) Groups {
	groups := make(Groups)
	if aggregation == nil || aggregation.Field == "" {
		if len(events) > 0 {
			groups[""] = &Group{Events: append([]*models.Event(nil), events...)}
		}
		return groups
	}

	for _, e := range events {
		seen := make(map[string]bool)
		for _, v := range e.Values(aggregation.Field) {
			if seen[v] {
				continue
			}
			seen[v] = true

			g, ok := groups[v]
			if !ok {
				g = &Group{Key: v, Field: aggregation.Field}
				groups[v] = g
			}
			g.Events = append(g.Events, e)
		}
	}

	for _, g := range groups {
		sort.SliceStable(g.Events, func(i, j int) bool { return g.Events[i].EarlierThan(g.Events[j]) })
	}
	return groups
}
