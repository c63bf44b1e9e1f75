package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValues(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	parent := &Event{ID: "p", Type: "INTERNET_NAME", Data: "example.com"}
	e := &Event{
		ID: "e1", ScanID: "S1", Type: "IP_ADDRESS", Data: "10.0.0.1", Module: "sfp_dns",
		Created: created, Hash: "h1", SourceEventHash: "hp",
		Sources:  []*Event{parent},
		Children: []*Event{{ID: "c1", Type: "TCP_PORT_OPEN"}, {ID: "c2", Type: "TCP_PORT_OPEN"}},
	}

	assert.Equal(t, []string{"10.0.0.1"}, e.Values("data"))
	assert.Equal(t, []string{"2025-03-01T11:00:00Z"}, e.Values("created"))
	assert.Equal(t, []string{"INTERNET_NAME"}, e.Values("source.type"))
	assert.Equal(t, []string{"TCP_PORT_OPEN", "TCP_PORT_OPEN"}, e.Values("child.type"))
	assert.Empty(t, e.Values("entity.data"), "not enriched")
	assert.Nil(t, e.Values("bogus"))
	assert.Nil(t, e.Values("cousin.type"))

	empty := &Event{ID: "x"}
	assert.Nil(t, empty.Values("hash"))
	assert.Nil(t, empty.Values("created"))
}

func TestFieldNames(t *testing.T) {
	for _, name := range []string{"id", "scan_id", "type", "data", "module", "created", "hash", "source_event_hash", "source.data", "entity.type", "child.module"} {
		assert.True(t, IsKnownField(name), name)
	}
	for _, name := range []string{"", "risk", "source.risk", "parent.type"} {
		assert.False(t, IsKnownField(name), name)
	}
	assert.True(t, IsRelationalField("entity.data"))
	assert.False(t, IsRelationalField("data"))

	rel, field := SplitField("source.type")
	assert.Equal(t, "source", rel)
	assert.Equal(t, "type", field)
}

func TestEventIsRootAndOrder(t *testing.T) {
	assert.True(t, (&Event{SourceEventHash: RootHash}).IsRoot())
	assert.True(t, (&Event{}).IsRoot())
	assert.False(t, (&Event{SourceEventHash: "h"}).IsRoot())

	t0 := time.Now()
	a := &Event{ID: "b", Created: t0}
	b := &Event{ID: "a", Created: t0.Add(time.Second)}
	c := &Event{ID: "a", Created: t0}
	assert.True(t, a.EarlierThan(b))
	assert.True(t, c.EarlierThan(a), "ties broken by id")
	assert.False(t, a.EarlierThan(a))
}

func TestEventClone(t *testing.T) {
	orig := &Event{ID: "e", Sources: []*Event{{ID: "p"}}}
	c := orig.Clone()
	c.Data = "changed"
	c.Sources = append(c.Sources, &Event{ID: "q"})
	c.Sources[0] = &Event{ID: "swapped"}

	assert.Empty(t, orig.Data)
	require.Len(t, orig.Sources, 1)
	assert.Equal(t, "p", orig.Sources[0].ID)
}

func TestNaturalKeyAndID(t *testing.T) {
	a := NaturalKey("r", []string{"S2", "S1"}, "v")
	b := NaturalKey("r", []string{"S1", "S2"}, "v")
	assert.Equal(t, a, b, "scan order does not matter")
	assert.NotEqual(t, a, NaturalKey("r", []string{"S1"}, "v"))
	assert.NotEqual(t, NaturalKey("r", []string{"S1"}, "a,b"), NaturalKey("r,S1", []string{"a"}, "b"))

	assert.Equal(t, "S1,S2", ScanIDsKey([]string{"S2", "S1"}))

	id := CorrelationID(a)
	assert.Equal(t, id, CorrelationID(b))
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())

	rec := &CorrelationRecord{RuleID: "r", ScanIDs: []string{"S1", "S2"}, AggregationValue: "v"}
	assert.Equal(t, a, rec.NaturalKey())
}

func TestScanIDsKeyDoesNotMutate(t *testing.T) {
	ids := []string{"b", "a"}
	_ = ScanIDsKey(ids)
	assert.Equal(t, []string{"b", "a"}, ids)
}
