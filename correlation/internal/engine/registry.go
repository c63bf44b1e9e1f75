package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

var (
	ErrUnknownStrategy = errors.New("unknown rule type")
	ErrStrategyExists  = errors.New("rule type already registered")
)

// Registry maps rule types (meta.type) to strategies. Build one per engine instance
// and pass it to the executor.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns a Registry serving def for the "default" rule type.
func NewRegistry(def Strategy) *Registry {
	return &Registry{strategies: map[string]Strategy{rules.DefaultType: def}}
}

// Register adds a strategy for ruleType.
func (r *Registry) Register(ruleType string, s Strategy) error {
	if ruleType == "" || s == nil {
		return errors.New("strategy needs a rule type and an implementation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[ruleType]; ok {
		return fmt.Errorf("%w: %q", ErrStrategyExists, ruleType)
	}
	r.strategies[ruleType] = s
	return nil
}

// Lookup returns the strategy for ruleType; an empty type means "default".
func (r *Registry) Lookup(ruleType string) (Strategy, error) {
	if ruleType == "" {
		ruleType = rules.DefaultType
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[ruleType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, ruleType)
	}
	return s, nil
}

// Types lists the registered rule types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
