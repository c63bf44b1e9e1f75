// Package models holds the data types shared by the correlation service packages.
package models

import (
	"strings"
	"time"
)

// RootHash is the source_event_hash of events that have no parent (the scan target).
const RootHash = "ROOT"

// Event is a scan event as produced by the scan engine. The correlation engine never
// modifies persisted events; Sources, Entities and Children are transient and only
// populated by the enricher.
type Event struct {
	ID              string    `json:"id"`
	ScanID          string    `json:"scan_id"`
	Type            string    `json:"type"`
	Data            string    `json:"data"`
	Module          string    `json:"module"`
	Created         time.Time `json:"created"`
	Hash            string    `json:"hash"`
	SourceEventHash string    `json:"source_event_hash"`

	Sources  []*Event `json:"sources,omitempty"`
	Entities []*Event `json:"entities,omitempty"`
	Children []*Event `json:"children,omitempty"`
}

// Event fields addressable from rules.
const (
	FieldID              = "id"
	FieldScanID          = "scan_id"
	FieldType            = "type"
	FieldData            = "data"
	FieldModule          = "module"
	FieldCreated         = "created"
	FieldHash            = "hash"
	FieldSourceEventHash = "source_event_hash"
)

// Relation prefixes select enriched related events, e.g. "source.type".
const (
	RelationSource = "source"
	RelationEntity = "entity"
	RelationChild  = "child"
)

var baseFields = map[string]bool{
	FieldID:              true,
	FieldScanID:          true,
	FieldType:            true,
	FieldData:            true,
	FieldModule:          true,
	FieldCreated:         true,
	FieldHash:            true,
	FieldSourceEventHash: true,
}

// SplitField splits "source.type" into ("source", "type"). Base fields return an
// empty relation.
func SplitField(name string) (relation, field string) {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// IsKnownField reports whether name can be resolved by Event.Values.
func IsKnownField(name string) bool {
	relation, field := SplitField(name)
	switch relation {
	case "":
		return baseFields[field]
	case RelationSource, RelationEntity, RelationChild:
		return baseFields[field]
	default:
		return false
	}
}

// IsRelationalField reports whether name refers to an enriched related event.
func IsRelationalField(name string) bool {
	relation, _ := SplitField(name)
	return relation != ""
}

// Field returns the value of a base field.
func (e *Event) Field(name string) (string, bool) {
	switch name {
	case FieldID:
		return e.ID, true
	case FieldScanID:
		return e.ScanID, true
	case FieldType:
		return e.Type, true
	case FieldData:
		return e.Data, true
	case FieldModule:
		return e.Module, true
	case FieldCreated:
		if e.Created.IsZero() {
			return "", false
		}
		return e.Created.UTC().Format(time.RFC3339), true
	case FieldHash:
		return e.Hash, e.Hash != ""
	case FieldSourceEventHash:
		return e.SourceEventHash, e.SourceEventHash != ""
	default:
		return "", false
	}
}

// Values resolves a base or relational field. Relational fields yield one value per
// related event and nothing if the event was not enriched.
func (e *Event) Values(name string) []string {
	relation, field := SplitField(name)

	var related []*Event
	switch relation {
	case "":
		if v, ok := e.Field(field); ok {
			return []string{v}
		}
		return nil
	case RelationSource:
		related = e.Sources
	case RelationEntity:
		related = e.Entities
	case RelationChild:
		related = e.Children
	default:
		return nil
	}

	out := make([]string, 0, len(related))
	for _, r := range related {
		if v, ok := r.Field(field); ok {
			out = append(out, v)
		}
	}
	return out
}

// IsRoot reports whether the event hangs directly off the scan target.
func (e *Event) IsRoot() bool {
	return e.SourceEventHash == "" || e.SourceEventHash == RootHash
}

// Clone returns a shallow copy with its own relation slices.
func (e *Event) Clone() *Event {
	c := *e
	c.Sources = append([]*Event(nil), e.Sources...)
	c.Entities = append([]*Event(nil), e.Entities...)
	c.Children = append([]*Event(nil), e.Children...)
	return &c
}

// EarlierThan orders events by creation time, then id.
func (e *Event) EarlierThan(o *Event) bool {
	if !e.Created.Equal(o.Created) {
		return e.Created.Before(o.Created)
	}
	return e.ID < o.ID
}
