// Package rollup summarizes per-rule correlation results for reports and run
// summaries.
package rollup

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/engine"
)

var ErrUnknownMethod = errors.New("unknown rollup method")

// Built-in method names.
const (
	MethodCount   = "count"
	MethodMatched = "matched"
	MethodByRisk  = "by_risk"
)

// Method reduces a result set to a single value.
type Method func(results []engine.Result) interface{}

// Aggregator dispatches to named rollup methods.
type Aggregator struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// New returns an Aggregator with count, matched and by_risk registered.
func New() *Aggregator {
	a := &Aggregator{methods: make(map[string]Method)}
	a.methods[MethodCount] = Count
	a.methods[MethodMatched] = Matched
	a.methods[MethodByRisk] = ByRisk
	return a
}

// Register adds or replaces a method.
func (a *Aggregator) Register(name string, m Method) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.methods[name] = m
}

// Aggregate applies method to results.
func (a *Aggregator) Aggregate(results []engine.Result, method string) (interface{}, error) {
	a.mu.RLock()
	m, ok := a.methods[method]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return m(results), nil
}

// Methods lists the registered method names.
func (a *Aggregator) Methods() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.methods))
	for n := range a.methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of results.
func Count(results []engine.Result) interface{} {
	return len(results)
}

// Matched returns how many results matched.
func Matched(results []engine.Result) interface{} {
	n := 0
	for _, r := range results {
		if r.Matched {
			n++
		}
	}
	return n
}

// ByRisk counts matched results per risk level.
func ByRisk(results []engine.Result) interface{} {
	out := make(map[string]int)
	for _, r := range results {
		if r.Matched {
			out[r.Meta.Risk]++
		}
	}
	return out
}

// Values flattens a results map into a slice ordered by rule id.
func Values(results map[string]engine.Result) []engine.Result {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]engine.Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, results[id])
	}
	return out
}
