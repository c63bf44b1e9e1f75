package engine

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrMethodExists  = errors.New("method already registered")
)

// Matcher reports whether one field value satisfies a collection clause.
type Matcher func(value string) bool

// CollectionMethod turns a clause's values into a Matcher. Compile runs at load time
// for validation and again when a rule is evaluated.
type CollectionMethod interface {
	Compile(values []string) (Matcher, error)
}

// CollectionMethodFunc adapts a function to CollectionMethod.
type CollectionMethodFunc func(values []string) (Matcher, error)

func (f CollectionMethodFunc) Compile(values []string) (Matcher, error) {
	return f(values)
}

// AnalysisMethod decides whether an aggregation group passes one analysis step.
// all holds every group of the same evaluation, for methods that compare groups.
type AnalysisMethod interface {
	Validate(step rules.AnalysisStep, aggregation *rules.Aggregation) error
	Passes(step rules.AnalysisStep, group *Group, all Groups) (bool, error)
}

// BuiltinCollection enumerates the collection methods that ship with the engine.
type BuiltinCollection string

const (
	CollectExact    BuiltinCollection = "exact"
	CollectRegex    BuiltinCollection = "regex"
	CollectContains BuiltinCollection = "contains"
)

// Compile implements CollectionMethod.
func (b BuiltinCollection) Compile(values []string) (Matcher, error) {
	switch b {
	case CollectExact:
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		return func(value string) bool {
			_, ok := set[value]
			return ok
		}, nil
	case CollectRegex:
		patterns := make([]*regexp.Regexp, 0, len(values))
		for _, v := range values {
			re, err := regexp.Compile(v)
			if err != nil {
				return nil, fmt.Errorf("invalid regex %q: %w", v, err)
			}
			patterns = append(patterns, re)
		}
		return func(value string) bool {
			for _, re := range patterns {
				if re.MatchString(value) {
					return true
				}
			}
			return false
		}, nil
	case CollectContains:
		needles := append([]string(nil), values...)
		return func(value string) bool {
			for _, n := range needles {
				if strings.Contains(value, n) {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, string(b))
	}
}

// BuiltinAnalysis enumerates the analysis methods that ship with the engine.
type BuiltinAnalysis string

const (
	AnalyzeThreshold BuiltinAnalysis = "threshold"
	AnalyzeOutlier   BuiltinAnalysis = "outlier"
)

// Validate implements AnalysisMethod.
func (b BuiltinAnalysis) Validate(step rules.AnalysisStep, aggregation *rules.Aggregation) error {
	switch b {
	case AnalyzeThreshold:
		_, err := parseThreshold(step)
		return err
	case AnalyzeOutlier:
		if aggregation == nil {
			return errors.New("outlier requires an aggregation")
		}
		_, err := parseOutlier(step)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, string(b))
	}
}

// Passes implements AnalysisMethod.
func (b BuiltinAnalysis) Passes(step rules.AnalysisStep, group *Group, all Groups) (bool, error) {
	switch b {
	case AnalyzeThreshold:
		t, err := parseThreshold(step)
		if err != nil {
			return false, err
		}
		return t.passes(thresholdCount(step, group)), nil
	case AnalyzeOutlier:
		o, err := parseOutlier(step)
		if err != nil {
			return false, err
		}
		return o.passes(group, all), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownMethod, string(b))
	}
}

// Methods is the table of collection and analysis methods a Loader validates against
// and a strategy evaluates with. Built-ins are registered by NewMethods.
type Methods struct {
	mu         sync.RWMutex
	collection map[string]CollectionMethod
	analysis   map[string]AnalysisMethod
}

var _ rules.MethodCatalog = (*Methods)(nil)

// NewMethods returns a table holding the built-in methods.
func NewMethods() *Methods {
	m := &Methods{
		collection: make(map[string]CollectionMethod),
		analysis:   make(map[string]AnalysisMethod),
	}
	for _, b := range []BuiltinCollection{CollectExact, CollectRegex, CollectContains} {
		m.collection[string(b)] = b
	}
	for _, b := range []BuiltinAnalysis{AnalyzeThreshold, AnalyzeOutlier} {
		m.analysis[string(b)] = b
	}
	return m
}

// RegisterCollection adds a collection method under name.
func (m *Methods) RegisterCollection(name string, method CollectionMethod) error {
	if name == "" || method == nil {
		return errors.New("collection method needs a name and an implementation")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collection[name]; ok {
		return fmt.Errorf("%w: collection %q", ErrMethodExists, name)
	}
	m.collection[name] = method
	return nil
}

// RegisterAnalysis adds an analysis method under name.
func (m *Methods) RegisterAnalysis(name string, method AnalysisMethod) error {
	if name == "" || method == nil {
		return errors.New("analysis method needs a name and an implementation")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analysis[name]; ok {
		return fmt.Errorf("%w: analysis %q", ErrMethodExists, name)
	}
	m.analysis[name] = method
	return nil
}

func (m *Methods) collectionMethod(name string) (CollectionMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cm, ok := m.collection[name]
	if !ok {
		return nil, fmt.Errorf("%w: collection method %q", ErrUnknownMethod, name)
	}
	return cm, nil
}

func (m *Methods) analysisMethod(name string) (AnalysisMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	am, ok := m.analysis[name]
	if !ok {
		return nil, fmt.Errorf("%w: analysis method %q", ErrUnknownMethod, name)
	}
	return am, nil
}

// CompileClause resolves the clause's method and compiles its values.
func (m *Methods) CompileClause(c rules.Clause) (Matcher, error) {
	cm, err := m.collectionMethod(c.Method)
	if err != nil {
		return nil, err
	}
	return cm.Compile(c.Value)
}

// ValidateClause implements rules.MethodCatalog.
func (m *Methods) ValidateClause(c rules.Clause) error {
	_, err := m.CompileClause(c)
	return err
}

// ValidateStep implements rules.MethodCatalog.
func (m *Methods) ValidateStep(s rules.AnalysisStep, aggregation *rules.Aggregation) error {
	am, err := m.analysisMethod(s.Method)
	if err != nil {
		return err
	}
	return am.Validate(s, aggregation)
}

type threshold struct {
	min, max       int
	hasMin, hasMax bool
}

func parseThreshold(step rules.AnalysisStep) (threshold, error) {
	var t threshold
	var err error
	if t.min, t.hasMin, err = intParam(step.Params, "minimum"); err != nil {
		return t, err
	}
	if t.max, t.hasMax, err = intParam(step.Params, "maximum"); err != nil {
		return t, err
	}
	switch {
	case !t.hasMin && !t.hasMax:
		return t, errors.New("threshold requires minimum or maximum")
	case t.hasMin && t.min < 0, t.hasMax && t.max < 0:
		return t, errors.New("threshold bounds must not be negative")
	case t.hasMin && t.hasMax && t.min > t.max:
		return t, fmt.Errorf("threshold minimum %d exceeds maximum %d", t.min, t.max)
	}
	return t, nil
}

func (t threshold) passes(count int) bool {
	if t.hasMin && count < t.min {
		return false
	}
	if t.hasMax && count > t.max {
		return false
	}
	return true
}

// thresholdCount is the number of events in the group, or the number of distinct
// values of step.Field when it differs from the aggregation field.
func thresholdCount(step rules.AnalysisStep, group *Group) int {
	if step.Field == "" || step.Field == group.Field {
		return len(group.Events)
	}
	distinct := make(map[string]struct{})
	for _, e := range group.Events {
		for _, v := range e.Values(step.Field) {
			distinct[v] = struct{}{}
		}
	}
	return len(distinct)
}

type outlier struct {
	maxPercent   float64
	noisyPercent float64
}

func parseOutlier(step rules.AnalysisStep) (outlier, error) {
	o := outlier{noisyPercent: 10}
	maxPct, ok, err := floatParam(step.Params, "maximum_percent")
	if err != nil {
		return o, err
	}
	if !ok {
		return o, errors.New("outlier requires maximum_percent")
	}
	o.maxPercent = maxPct
	if noisy, ok, err := floatParam(step.Params, "noisy_percent"); err != nil {
		return o, err
	} else if ok {
		o.noisyPercent = noisy
	}
	if o.maxPercent <= 0 || o.maxPercent > 100 || o.noisyPercent <= 0 || o.noisyPercent > 100 {
		return o, errors.New("outlier percentages must be within (0, 100]")
	}
	return o, nil
}

// passes keeps groups holding less than maxPercent of all events. When values are so
// spread out that the average group share is below noisyPercent, nothing passes.
func (o outlier) passes(group *Group, all Groups) bool {
	total := all.EventCount()
	if total == 0 || len(all) == 0 {
		return false
	}
	average := 100 / float64(len(all))
	if average < o.noisyPercent {
		return false
	}
	share := 100 * float64(len(group.Events)) / float64(total)
	return share < o.maxPercent
}

func intParam(params map[string]interface{}, name string) (int, bool, error) {
	f, ok, err := floatParam(params, name)
	if err != nil || !ok {
		return 0, ok, err
	}
	if f != math.Trunc(f) {
		return 0, true, fmt.Errorf("%s must be an integer", name)
	}
	return int(f), true, nil
}

func floatParam(params map[string]interface{}, name string) (float64, bool, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case uint64:
		return float64(v), true, nil
	case float64:
		return v, true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, true, fmt.Errorf("%s must be a number, got %q", name, v)
		}
		return f, true, nil
	default:
		return 0, true, fmt.Errorf("%s must be a number", name)
	}
}
