// Package rules defines correlation rule documents and loads them from YAML.
package rules

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

// Scope controls which scans a rule pools events from.
type Scope string

const (
	// ScopeScan evaluates the rule once per scan id.
	ScopeScan Scope = "scan"
	// ScopeWorkspace pools events across every requested scan id.
	ScopeWorkspace Scope = "workspace"
	// ScopeGlobal pools like ScopeWorkspace.
	ScopeGlobal Scope = "global"
)

// IsValid reports whether s is a known scope.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeScan, ScopeWorkspace, ScopeGlobal:
		return true
	}
	return false
}

// Pooled reports whether the scope aggregates across scans.
func (s Scope) Pooled() bool {
	return s == ScopeWorkspace || s == ScopeGlobal
}

// DefaultType is the rule type served by the built-in evaluation strategy.
const DefaultType = "default"

// Risk levels accepted in meta.risk.
var validRisks = map[string]bool{"INFO": true, "LOW": true, "MEDIUM": true, "HIGH": true}

// Meta describes a rule for humans and selects its scope and strategy.
type Meta struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Risk        string `yaml:"risk" json:"risk"`
	Scope       Scope  `yaml:"scope" json:"scope"`
	Type        string `yaml:"type" json:"type"`
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`
	URL         string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Rule is a validated correlation rule. Rules are read-only once loaded.
type Rule struct {
	ID          string            `json:"id"`
	Version     int               `json:"version"`
	Meta        Meta              `json:"meta"`
	Collections []CollectionGroup `json:"collections"`
	Aggregation *Aggregation      `json:"aggregation,omitempty"`
	Analysis    []AnalysisStep    `json:"analysis,omitempty"`
	Headline    string            `json:"headline"`
	Enabled     bool              `json:"enabled"`

	// SourceName is the source unit (file) the rule was loaded from.
	SourceName string `json:"source"`
	// RawSource is the rule's original text, kept for audit and display.
	RawSource string `json:"raw_source"`
}

// AggregationField returns the grouping field, or "" when the rule does not aggregate.
func (r *Rule) AggregationField() string {
	if r.Aggregation == nil {
		return ""
	}
	return r.Aggregation.Field
}

// Relations lists the relation prefixes ("source", "entity", "child") referenced by
// collection clauses, the aggregation field or analysis steps, in first-seen order.
func (r *Rule) Relations() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(field string) {
		relation, _ := models.SplitField(field)
		if relation != "" && !seen[relation] {
			seen[relation] = true
			out = append(out, relation)
		}
	}
	for _, g := range r.Collections {
		for _, c := range g {
			add(c.Field)
		}
	}
	add(r.AggregationField())
	for _, s := range r.Analysis {
		add(s.Field)
	}
	return out
}

// CollectionGroup is a conjunction of clauses. A rule's groups are alternatives.
type CollectionGroup []Clause

// UnmarshalYAML accepts both `- collect: [...]` and a bare clause sequence.
func (g *CollectionGroup) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var wrapper struct {
			Collect []Clause `yaml:"collect"`
		}
		if err := value.Decode(&wrapper); err != nil {
			return err
		}
		*g = wrapper.Collect
		return nil
	case yaml.SequenceNode:
		var clauses []Clause
		if err := value.Decode(&clauses); err != nil {
			return err
		}
		*g = clauses
		return nil
	default:
		return fmt.Errorf("line %d: collection must be a mapping with 'collect' or a list of clauses", value.Line)
	}
}

// Clause selects events whose field matches one of Value using Method.
type Clause struct {
	Method string `yaml:"method" json:"method"`
	Field  string `yaml:"field" json:"field"`
	Value  Values `yaml:"value" json:"value"`
}

func (c Clause) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Method, strings.Join(c.Value, "|"))
}

// Values is a scalar-or-list YAML value.
type Values []string

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (v *Values) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*v = Values{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make(Values, 0, len(value.Content))
		for _, n := range value.Content {
			if n.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: value list entries must be scalars", n.Line)
			}
			out = append(out, n.Value)
		}
		*v = out
		return nil
	default:
		return fmt.Errorf("line %d: value must be a scalar or a list", value.Line)
	}
}

// Aggregation groups collected events by the literal value of Field.
type Aggregation struct {
	Field string `yaml:"field" json:"field"`
}

// AnalysisStep is a pass/fail test applied to each aggregation group. Keys other than
// method and field are kept in Params for the method to interpret.
type AnalysisStep struct {
	Method string                 `json:"method"`
	Field  string                 `json:"field,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// UnmarshalYAML splits method/field from the method parameters.
func (s *AnalysisStep) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: analysis step must be a mapping", value.Line)
	}
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	step := AnalysisStep{Params: make(map[string]interface{})}
	for k, v := range raw {
		switch k {
		case "method":
			step.Method = fmt.Sprint(v)
		case "field":
			step.Field = fmt.Sprint(v)
		default:
			step.Params[k] = v
		}
	}
	*s = step
	return nil
}

// headline accepts `headline: "text"` or `headline: {text: "..."}`.
type headline string

func (h *headline) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*h = headline(value.Value)
		return nil
	case yaml.MappingNode:
		var wrapper struct {
			Text string `yaml:"text"`
		}
		if err := value.Decode(&wrapper); err != nil {
			return err
		}
		*h = headline(wrapper.Text)
		return nil
	default:
		return fmt.Errorf("line %d: headline must be a string", value.Line)
	}
}
