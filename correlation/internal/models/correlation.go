package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// correlationNamespace seeds the v5 UUIDs derived from a record's natural key.
var correlationNamespace = uuid.MustParse("6f1c1f0e-4f39-5d8a-9a52-3c1e0d2b7a10")

// CorrelationRecord is one persisted finding, created for each aggregation group that
// passes analysis. Records are append-only.
type CorrelationRecord struct {
	ID               string    `json:"id"`
	RuleID           string    `json:"rule_id"`
	RuleName         string    `json:"rule_name"`
	ScanIDs          []string  `json:"scan_ids"`
	AggregationValue string    `json:"aggregation_value"`
	Headline         string    `json:"headline"`
	Risk             string    `json:"risk"`
	EventIDs         []string  `json:"event_ids"`
	CreatedAt        time.Time `json:"created_at"`
}

// NaturalKey identifies a record independently of its id: (rule, scans, value).
// Scan ids are sorted so the key does not depend on caller ordering.
func (r *CorrelationRecord) NaturalKey() string {
	return NaturalKey(r.RuleID, r.ScanIDs, r.AggregationValue)
}

// NaturalKey builds the dedupe key for a correlation record.
func NaturalKey(ruleID string, scanIDs []string, aggregationValue string) string {
	return ruleID + "\x1f" + ScanIDsKey(scanIDs) + "\x1f" + aggregationValue
}

// ScanIDsKey is the canonical, order-independent representation of a scan id set.
func ScanIDsKey(scanIDs []string) string {
	ids := append([]string(nil), scanIDs...)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// CorrelationID derives the deterministic record id for a natural key, so that
// concurrent or repeated runs address the same row.
func CorrelationID(naturalKey string) string {
	return uuid.NewSHA1(correlationNamespace, []byte(naturalKey)).String()
}
