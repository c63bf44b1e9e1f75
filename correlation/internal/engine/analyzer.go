package engine

import (
	"fmt"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

// Analyzer applies a rule's analysis steps to aggregation groups.
type Analyzer struct {
	methods *Methods
}

// NewAnalyzer creates an Analyzer resolving steps against methods.
func NewAnalyzer(methods *Methods) *Analyzer {
	return &Analyzer{methods: methods}
}

// Analyze reports whether group passes every step. A rule without analysis steps
// passes every non-empty group.
func (a *Analyzer) Analyze(group *Group, steps []rules.AnalysisStep, all Groups) (bool, error) {
	if len(group.Events) == 0 {
		return false, nil
	}
	for i, step := range steps {
		method, err := a.methods.analysisMethod(step.Method)
		if err != nil {
			return false, err
		}
		ok, err := method.Passes(step, group, all)
		if err != nil {
			return false, fmt.Errorf("analysis[%d] %s: %w", i, step.Method, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
