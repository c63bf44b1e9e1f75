package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/eventsource"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/repository"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func event(id, scanID, typ, data string) *models.Event {
	return &models.Event{
		ID:              id,
		ScanID:          scanID,
		Type:            typ,
		Data:            data,
		Module:          "sfp_test",
		Created:         baseTime,
		Hash:            "h-" + id,
		SourceEventHash: models.RootHash,
	}
}

// eventsN returns n distinct events with the same type and data.
func eventsN(n int) []*models.Event {
	out := make([]*models.Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, event(fmt.Sprintf("e%d", i), "S1", "X", "x"))
	}
	return out
}

func at(e *models.Event, offset time.Duration) *models.Event {
	e.Created = baseTime.Add(offset)
	return e
}

// emailRule collects EMAILADDR events, aggregates on data and requires minimum events.
func emailRule(id string, scope rules.Scope, minimum int) *rules.Rule {
	return &rules.Rule{
		ID: id,
		Meta: rules.Meta{
			Name:        id,
			Description: "test rule",
			Risk:        "MEDIUM",
			Scope:       scope,
			Type:        rules.DefaultType,
		},
		Collections: []rules.CollectionGroup{{
			{Method: "exact", Field: "type", Value: rules.Values{"EMAILADDR"}},
		}},
		Aggregation: &rules.Aggregation{Field: "data"},
		Analysis: []rules.AnalysisStep{{
			Method: "threshold",
			Params: map[string]interface{}{"minimum": minimum},
		}},
		Headline: "Email {data} from {module}",
		Enabled:  true,
	}
}

func loadRules(t *testing.T, docs ...string) []*rules.Rule {
	t.Helper()
	sources := make([]rules.Source, 0, len(docs))
	for i, d := range docs {
		sources = append(sources, rules.Source{Name: fmt.Sprintf("rule%d.yaml", i), Data: []byte(d)})
	}
	loaded, _ := rules.NewLoader(NewMethods()).Load(sources...)
	return loaded
}

func newTestExecutor(events []*models.Event, opts ...Option) (*Executor, *repository.MemoryRepository) {
	repo := repository.NewMemoryRepository()
	return NewExecutor(eventsource.NewMemorySource(events...), repo, opts...), repo
}

// failingSource fails every read.
type failingSource struct{}

func (failingSource) GetEvents(context.Context, []string, *eventsource.Filter) ([]*models.Event, error) {
	return nil, errors.New("event source unavailable")
}

// countingSource counts GetEvents calls and records the filters it received.
type countingSource struct {
	eventsource.Source
	mu      sync.Mutex
	calls   int
	filters []*eventsource.Filter
	scans   [][]string
}

func (s *countingSource) GetEvents(ctx context.Context, scanIDs []string, f *eventsource.Filter) ([]*models.Event, error) {
	s.mu.Lock()
	s.calls++
	s.filters = append(s.filters, f)
	s.scans = append(s.scans, append([]string(nil), scanIDs...))
	s.mu.Unlock()
	return s.Source.GetEvents(ctx, scanIDs, f)
}

// flakyStore fails CreateCorrelation for the listed aggregation values.
type flakyStore struct {
	*repository.MemoryRepository
	failFor map[string]bool
}

func (s *flakyStore) CreateCorrelation(ctx context.Context, rec *models.CorrelationRecord) (string, error) {
	if s.failFor[rec.AggregationValue] {
		return "", errors.New("write failed")
	}
	return s.MemoryRepository.CreateCorrelation(ctx, rec)
}

// staticEnricher attaches fixed parents by event id.
type staticEnricher struct {
	sources map[string][]*models.Event
	calls   int
}

func (s *staticEnricher) Enrich(_ context.Context, events []*models.Event, _ []string) ([]*models.Event, error) {
	s.calls++
	out := make([]*models.Event, len(events))
	for i, e := range events {
		c := e.Clone()
		c.Sources = s.sources[e.ID]
		out[i] = c
	}
	return out, nil
}

func requireResult(t *testing.T, results map[string]Result, id string) Result {
	t.Helper()
	res, ok := results[id]
	require.True(t, ok, "expected result for rule %q", id)
	return res
}
