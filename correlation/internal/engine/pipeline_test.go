package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/eventsource"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

func TestAggregator_GroupsByFieldValue(t *testing.T) {
	events := []*models.Event{
		at(event("3", "S1", "EMAILADDR", "b@example.com"), 2*time.Second),
		at(event("1", "S1", "EMAILADDR", "a@example.com"), time.Second),
		event("2", "S2", "EMAILADDR", "a@example.com"),
	}

	groups := Aggregator{}.Aggregate(events, &rules.Aggregation{Field: "data"})
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, groups.Keys())

	a := groups["a@example.com"]
	assert.Equal(t, "data", a.Field)
	require.Len(t, a.Events, 2)
	assert.Equal(t, "2", a.Events[0].ID, "events ordered by creation time")
	assert.Equal(t, 3, groups.EventCount())
}

func TestAggregator_NoAggregation(t *testing.T) {
	events := []*models.Event{event("1", "S1", "A", "x"), event("2", "S1", "A", "y")}
	groups := Aggregator{}.Aggregate(events, nil)
	require.Len(t, groups, 1)
	assert.Len(t, groups[""].Events, 2)

	assert.Empty(t, Aggregator{}.Aggregate(nil, nil))
}

func TestAggregator_RelationalField(t *testing.T) {
	parentA := event("pa", "S1", "DOMAIN_NAME", "example.com")
	parentB := event("pb", "S1", "DOMAIN_NAME", "example.org")
	child := event("c", "S1", "EMAILADDR", "a@example.com")
	child.Sources = []*models.Event{parentA, parentB, parentA}
	orphan := event("o", "S1", "EMAILADDR", "b@example.com")

	groups := Aggregator{}.Aggregate([]*models.Event{child, orphan}, &rules.Aggregation{Field: "source.data"})
	assert.Equal(t, []string{"example.com", "example.org"}, groups.Keys())
	assert.Len(t, groups["example.com"].Events, 1, "duplicate related values join once")
}

func TestRenderHeadline(t *testing.T) {
	first := at(event("2", "S1", "EMAILADDR", "a@example.com"), 0)
	first.Module = "sfp_email"
	later := at(event("1", "S1", "EMAILADDR", "a@example.com"), time.Minute)
	later.Module = "sfp_other"
	g := &Group{Key: "a@example.com", Field: "data", Events: []*models.Event{later, first}}

	assert.Equal(t, "a@example.com found by sfp_email in S1",
		RenderHeadline("{data} found by {module} in {scan_id}", g))
	assert.Equal(t, "unknown {nothing} stays", RenderHeadline("unknown {nothing} stays", g))
	assert.Equal(t, "no placeholders", RenderHeadline("no placeholders", g))
}

func TestRenderHeadline_TieBreakByID(t *testing.T) {
	a := event("a", "S1", "T", "x")
	a.Module = "first"
	b := event("b", "S1", "T", "x")
	b.Module = "second"
	g := &Group{Key: "x", Field: "data", Events: []*models.Event{b, a}}
	assert.Equal(t, "first", RenderHeadline("{module}", g))
}

func TestGroup_EventIDs(t *testing.T) {
	e := event("b", "S1", "T", "x")
	g := &Group{Events: []*models.Event{e, event("a", "S1", "T", "x"), e}}
	assert.Equal(t, []string{"a", "b"}, g.EventIDs())
}

func TestCollector_OrOfAnds(t *testing.T) {
	src := eventsource.NewMemorySource(
		event("1", "S1", "EMAILADDR", "a@example.com"),
		event("2", "S1", "EMAILADDR", "b@other.org"),
		event("3", "S1", "INTERNET_NAME", "www.example.com"),
		event("4", "S1", "IP_ADDRESS", "10.0.0.1"),
		event("5", "S2", "EMAILADDR", "c@example.com"),
	)
	rule := &rules.Rule{
		ID: "r",
		Collections: []rules.CollectionGroup{
			{
				{Method: "exact", Field: "type", Value: rules.Values{"EMAILADDR"}},
				{Method: "contains", Field: "data", Value: rules.Values{"example.com"}},
			},
			{
				{Method: "regex", Field: "data", Value: rules.Values{`^www\.`}},
			},
		},
	}

	got, err := NewCollector(NewMethods(), nil).Collect(context.Background(), rule, []string{"S1"}, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids(got))
}

func TestCollector_TypePushdown(t *testing.T) {
	src := &countingSource{Source: eventsource.NewMemorySource(
		event("1", "S1", "EMAILADDR", "a@example.com"),
		event("2", "S1", "IP_ADDRESS", "10.0.0.1"),
	)}
	c := NewCollector(NewMethods(), nil)

	rule := emailRule("r", rules.ScopeScan, 1)
	_, err := c.Collect(context.Background(), rule, []string{"S1"}, src)
	require.NoError(t, err)
	require.NotNil(t, src.filters[0])
	assert.Equal(t, []string{"EMAILADDR"}, src.filters[0].Types)

	// A group without an exact type clause disables the pushdown.
	rule.Collections = append(rule.Collections, rules.CollectionGroup{
		{Method: "contains", Field: "data", Value: rules.Values{"10."}},
	})
	got, err := c.Collect(context.Background(), rule, []string{"S1"}, src)
	require.NoError(t, err)
	assert.Nil(t, src.filters[1])
	assert.Equal(t, []string{"1", "2"}, ids(got))
}

func TestCollector_RelationalClauses(t *testing.T) {
	domain := event("d", "S1", "DOMAIN_NAME", "example.com")
	ip := event("i", "S1", "IP_ADDRESS", "10.0.0.1")
	src := eventsource.NewMemorySource(
		event("1", "S1", "EMAILADDR", "a@example.com"),
		event("2", "S1", "EMAILADDR", "b@example.com"),
		event("3", "S1", "EMAILADDR", "c@example.com"),
	)
	en := &staticEnricher{sources: map[string][]*models.Event{
		"1": {domain},
		"2": {ip},
	}}
	rule := &rules.Rule{
		ID: "rel",
		Collections: []rules.CollectionGroup{{
			{Method: "exact", Field: "type", Value: rules.Values{"EMAILADDR"}},
			{Method: "exact", Field: "source.type", Value: rules.Values{"DOMAIN_NAME"}},
		}},
	}

	got, err := NewCollector(NewMethods(), en).Collect(context.Background(), rule, []string{"S1"}, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))
	assert.Equal(t, 1, en.calls)
	require.Len(t, got[0].Sources, 1)

	_, err = NewCollector(NewMethods(), nil).Collect(context.Background(), rule, []string{"S1"}, src)
	assert.Error(t, err, "relational rules need an enricher")
}

func TestCollector_NoMatchSkipsEnrichment(t *testing.T) {
	en := &staticEnricher{}
	rule := &rules.Rule{
		ID: "rel",
		Collections: []rules.CollectionGroup{{
			{Method: "exact", Field: "type", Value: rules.Values{"PHONE_NUMBER"}},
			{Method: "exact", Field: "source.type", Value: rules.Values{"DOMAIN_NAME"}},
		}},
	}
	src := eventsource.NewMemorySource(event("1", "S1", "EMAILADDR", "a@example.com"))
	got, err := NewCollector(NewMethods(), en).Collect(context.Background(), rule, []string{"S1"}, src)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, en.calls)
}

func ids(events []*models.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}
