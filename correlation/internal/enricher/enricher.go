// Package enricher attaches provenance (parents, owning entities, children) to
// matched events for display and for relational rule clauses.
package enricher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/eventsource"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

// DefaultMaxDepth bounds the parent walk used to find entities.
const DefaultMaxDepth = 10

// DefaultEntityTypes are the event types treated as entities.
var DefaultEntityTypes = []string{
	"IP_ADDRESS",
	"IPV6_ADDRESS",
	"INTERNET_NAME",
	"DOMAIN_NAME",
	"EMAILADDR",
	"PHONE_NUMBER",
	"USERNAME",
	"BITCOIN_ADDRESS",
	"NETBLOCK_OWNER",
	"NETBLOCKV6_OWNER",
	"AFFILIATE_INTERNET_NAME",
	"AFFILIATE_DOMAIN_NAME",
	"AFFILIATE_IPADDR",
	"CO_HOSTED_SITE",
	"HUMAN_NAME",
}

// Enricher reads the provenance graph from a ProvenanceSource. Every method returns
// enriched copies; input events are left untouched.
type Enricher struct {
	source      eventsource.ProvenanceSource
	entityTypes map[string]bool
	maxDepth    int
	logger      *slog.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithMaxDepth sets how many parent levels EnrichEntities walks.
func WithMaxDepth(depth int) Option {
	return func(e *Enricher) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithEntityTypes replaces the entity type list.
func WithEntityTypes(types ...string) Option {
	return func(e *Enricher) {
		e.entityTypes = make(map[string]bool, len(types))
		for _, t := range types {
			e.entityTypes[t] = true
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Enricher) { e.logger = logger }
}

// New creates an Enricher over source.
func New(source eventsource.ProvenanceSource, opts ...Option) *Enricher {
	e := &Enricher{
		source:   source,
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default().With(slog.String("component", "enricher")),
	}
	WithEntityTypes(DefaultEntityTypes...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnrichSources populates Sources with each event's direct parents in scanID.
func (e *Enricher) EnrichSources(ctx context.Context, scanID string, events []*models.Event) ([]*models.Event, error) {
	out := cloneAll(events)
	if err := e.fillSources(ctx, scanID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnrichEntities populates Entities with the nearest entity-typed ancestors.
func (e *Enricher) EnrichEntities(ctx context.Context, scanID string, events []*models.Event) ([]*models.Event, error) {
	out := cloneAll(events)
	if err := e.fillEntities(ctx, scanID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnrichChildren populates Children with the events derived from each event.
func (e *Enricher) EnrichChildren(ctx context.Context, scanID string, events []*models.Event) ([]*models.Event, error) {
	out := cloneAll(events)
	if err := e.fillChildren(ctx, scanID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Enrich fills the given relations ("source", "entity", "child") for events that
// may span several scans. The result keeps the input order.
func (e *Enricher) Enrich(ctx context.Context, events []*models.Event, relations []string) ([]*models.Event, error) {
	out := cloneAll(events)

	byScan := make(map[string][]*models.Event)
	var scans []string
	for _, ev := range out {
		if _, ok := byScan[ev.ScanID]; !ok {
			scans = append(scans, ev.ScanID)
		}
		byScan[ev.ScanID] = append(byScan[ev.ScanID], ev)
	}

	for _, relation := range relations {
		for _, scanID := range scans {
			var err error
			switch relation {
			case models.RelationSource:
				err = e.fillSources(ctx, scanID, byScan[scanID])
			case models.RelationEntity:
				err = e.fillEntities(ctx, scanID, byScan[scanID])
			case models.RelationChild:
				err = e.fillChildren(ctx, scanID, byScan[scanID])
			default:
				err = fmt.Errorf("unknown relation %q", relation)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// EnrichAll fills every relation.
func (e *Enricher) EnrichAll(ctx context.Context, events []*models.Event) ([]*models.Event, error) {
	return e.Enrich(ctx, events, []string{models.RelationSource, models.RelationEntity, models.RelationChild})
}

func (e *Enricher) fillSources(ctx context.Context, scanID string, events []*models.Event) error {
	var hashes []string
	for _, ev := range events {
		if !ev.IsRoot() {
			hashes = append(hashes, ev.SourceEventHash)
		}
	}
	parents, err := e.byHash(ctx, scanID, hashes)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.IsRoot() {
			ev.Sources = nil
			continue
		}
		ev.Sources = parents[ev.SourceEventHash]
	}
	return nil
}

func (e *Enricher) fillChildren(ctx context.Context, scanID string, events []*models.Event) error {
	var hashes []string
	for _, ev := range events {
		if ev.Hash != "" {
			hashes = append(hashes, ev.Hash)
		}
	}
	if len(hashes) == 0 {
		return nil
	}
	children, err := e.source.GetChildEvents(ctx, scanID, hashes)
	if err != nil {
		return fmt.Errorf("failed to load child events: %w", err)
	}
	byParent := make(map[string][]*models.Event)
	for _, c := range children {
		byParent[c.SourceEventHash] = append(byParent[c.SourceEventHash], c)
	}
	for _, ev := range events {
		if ev.Hash == "" {
			continue
		}
		ev.Children = byParent[ev.Hash]
	}
	return nil
}

// fillEntities walks up from each event. An entity-typed ancestor is collected and
// ends its branch; other ancestors are walked through until maxDepth.
func (e *Enricher) fillEntities(ctx context.Context, scanID string, events []*models.Event) error {
	cache := make(map[string][]*models.Event)
	lookup := func(hashes []string) error {
		var missing []string
		for _, h := range hashes {
			if _, ok := cache[h]; !ok {
				missing = append(missing, h)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		found, err := e.byHash(ctx, scanID, missing)
		if err != nil {
			return err
		}
		for _, h := range missing {
			cache[h] = found[h]
		}
		return nil
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		visited := map[string]bool{}
		if ev.Hash != "" {
			visited[ev.Hash] = true
		}
		seen := map[string]bool{}
		var entities []*models.Event

		var frontier []string
		if !ev.IsRoot() {
			frontier = []string{ev.SourceEventHash}
		}
		for depth := 0; depth < e.maxDepth && len(frontier) > 0; depth++ {
			if err := lookup(frontier); err != nil {
				return err
			}
			var next []string
			for _, h := range frontier {
				if visited[h] {
					continue
				}
				visited[h] = true
				for _, parent := range cache[h] {
					if e.entityTypes[parent.Type] {
						if !seen[parent.ID] {
							seen[parent.ID] = true
							entities = append(entities, parent)
						}
						continue
					}
					if !parent.IsRoot() {
						next = append(next, parent.SourceEventHash)
					}
				}
			}
			frontier = next
		}
		if len(frontier) > 0 {
			e.logger.DebugContext(ctx, "entity walk stopped at max depth",
				slog.String("event_id", ev.ID), slog.Int("max_depth", e.maxDepth))
		}
		ev.Entities = entities
	}
	return nil
}

func (e *Enricher) byHash(ctx context.Context, scanID string, hashes []string) (map[string][]*models.Event, error) {
	out := make(map[string][]*models.Event)
	if len(hashes) == 0 {
		return out, nil
	}
	found, err := e.source.GetEventsByHash(ctx, scanID, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to load events by hash: %w", err)
	}
	for _, f := range found {
		out[f.Hash] = append(out[f.Hash], f)
	}
	return out, nil
}

func cloneAll(events []*models.Event) []*models.Event {
	out := make([]*models.Event, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}
