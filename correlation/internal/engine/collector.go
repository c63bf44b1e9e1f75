package engine

import (
	"context"
	"fmt"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/eventsource"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

// Enricher attaches related events (sources, entities, children) to events so that
// relational clauses such as "source.type" can be evaluated.
type Enricher interface {
	Enrich(ctx context.Context, events []*models.Event, relations []string) ([]*models.Event, error)
}

// Collector selects the events a rule applies to. Collection groups are alternatives
// (an event must satisfy every clause of at least one group).
type Collector struct {
	methods  *Methods
	enricher Enricher
}

// NewCollector creates a Collector. enricher may be nil when no rule uses
// relational fields.
func NewCollector(methods *Methods, enricher Enricher) *Collector {
	return &Collector{methods: methods, enricher: enricher}
}

type compiledClause struct {
	field      string
	relational bool
	match      Matcher
}

type compiledGroup []compiledClause

func (g compiledGroup) matches(e *models.Event, includeRelational bool) bool {
	for _, c := range g {
		if c.relational && !includeRelational {
			continue
		}
		if !anyMatch(e.Values(c.field), c.match) {
			return false
		}
	}
	return true
}

func anyMatch(values []string, match Matcher) bool {
	for _, v := range values {
		if match(v) {
			return true
		}
	}
	return false
}

func (c *Collector) compile(rule *rules.Rule) ([]compiledGroup, error) {
	groups := make([]compiledGroup, 0, len(rule.Collections))
	for gi, group := range rule.Collections {
		cg := make(compiledGroup, 0, len(group))
		for ci, clause := range group {
			m, err := c.methods.CompileClause(clause)
			if err != nil {
				return nil, fmt.Errorf("collections[%d][%d]: %w", gi, ci, err)
			}
			cg = append(cg, compiledClause{
				field:      clause.Field,
				relational: models.IsRelationalField(clause.Field),
				match:      m,
			})
		}
		groups = append(groups, cg)
	}
	return groups, nil
}

// Collect returns the events of scanIDs matching the rule, ordered by creation time.
func (c *Collector) Collect(ctx context.Context, rule *rules.Rule, scanIDs []string, src eventsource.Source) ([]*models.Event, error) {
	groups, err := c.compile(rule)
	if err != nil {
		return nil, err
	}

	events, err := src.GetEvents(ctx, scanIDs, pushdownFilter(rule))
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	relations := rule.Relations()
	candidates := make([]*models.Event, 0)
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		if matchesAny(groups, e, len(relations) == 0) {
			candidates = append(candidates, e)
		}
	}
	if len(relations) == 0 || len(candidates) == 0 {
		eventsource.SortEvents(candidates)
		return candidates, nil
	}

	if c.enricher == nil {
		return nil, fmt.Errorf("rule uses relational fields %v but no enricher is configured", relations)
	}
	enriched, err := c.enricher.Enrich(ctx, candidates, relations)
	if err != nil {
		return nil, fmt.Errorf("failed to enrich events: %w", err)
	}

	matched := make([]*models.Event, 0, len(enriched))
	for _, e := range enriched {
		if matchesAny(groups, e, true) {
			matched = append(matched, e)
		}
	}
	eventsource.SortEvents(matched)
	return matched, nil
}

func matchesAny(groups []compiledGroup, e *models.Event, includeRelational bool) bool {
	for _, g := range groups {
		if g.matches(e, includeRelational) {
			return true
		}
	}
	return false
}

// pushdownFilter lets the event source pre-filter by type when every collection
// group pins the type with an exact clause.
func pushdownFilter(rule *rules.Rule) *eventsource.Filter {
	var types []string
	seen := make(map[string]bool)
	for _, group := range rule.Collections {
		pinned := false
		for _, clause := range group {
			if clause.Field == models.FieldType && clause.Method == string(CollectExact) {
				pinned = true
				for _, v := range clause.Value {
					if !seen[v] {
						seen[v] = true
						types = append(types, v)
					}
				}
				break
			}
		}
		if !pinned {
			return nil
		}
	}
	if len(types) == 0 {
		return nil
	}
	return &eventsource.Filter{Types: types}
}
