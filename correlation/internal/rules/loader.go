package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

// MethodCatalog validates method names and parameters at load time, so an unknown
// collection or analysis method rejects the rule before it can be evaluated.
type MethodCatalog interface {
	ValidateClause(c Clause) error
	ValidateStep(s AnalysisStep, aggregation *Aggregation) error
}

// Source is one unit of rule text, typically a file.
type Source struct {
	Name string
	Data []byte
}

// LoadError is a non-fatal problem with one source unit.
type LoadError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

func (e LoadError) Error() string {
	return e.Source + ": " + e.Message
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Loader parses and validates rule documents. A Loader is not safe for concurrent
// use; Errors reflects the most recent Load or LoadDir call.
type Loader struct {
	catalog MethodCatalog
	errs    []LoadError
	logger  *slog.Logger
}

// NewLoader creates a Loader that checks methods against catalog.
func NewLoader(catalog MethodCatalog) *Loader {
	return &Loader{
		catalog: catalog,
		logger:  slog.Default().With(slog.String("component", "rule-loader")),
	}
}

// WithLogger replaces the loader's logger.
func (l *Loader) WithLogger(logger *slog.Logger) *Loader {
	l.logger = logger
	return l
}

// Errors returns the problems recorded by the last load, in source order.
func (l *Loader) Errors() []LoadError {
	return append([]LoadError(nil), l.errs...)
}

// LoadDir loads every *.yaml and *.yml file in dir (not recursive), in name order.
// Only a failure to read the directory itself is returned as an error; unreadable or
// invalid files are recorded in Errors.
func (l *Loader) LoadDir(dir string) ([]*Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules directory: %w", err)
	}

	var sources []Source
	var readErrs []LoadError
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			readErrs = append(readErrs, LoadError{Source: entry.Name(), Message: err.Error()})
			continue
		}
		sources = append(sources, Source{Name: entry.Name(), Data: data})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })

	rules, _ := l.Load(sources...)
	if len(readErrs) > 0 {
		l.errs = append(readErrs, l.errs...)
	}
	return rules, nil
}

// Load parses each source and returns the valid rules plus the errors recorded for
// the invalid ones. Loading never stops on a bad rule.
func (l *Loader) Load(sources ...Source) ([]*Rule, []LoadError) {
	l.errs = nil
	seen := make(map[string]string)
	var out []*Rule

	for _, src := range sources {
		units, err := splitDocuments(src)
		if err != nil {
			l.record(src.Name, err.Error())
			continue
		}

		for _, u := range units {
			rule, err := l.build(u)
			if err != nil {
				l.record(u.label(), err.Error())
				continue
			}
			if first, dup := seen[rule.ID]; dup {
				l.record(u.label(), fmt.Sprintf("duplicate rule id %q (first defined in %s)", rule.ID, first))
				continue
			}
			seen[rule.ID] = src.Name
			out = append(out, rule)
		}
	}

	if len(l.errs) > 0 {
		l.logger.Warn("some correlation rules were rejected",
			slog.Int("loaded", len(out)),
			slog.Int("rejected", len(l.errs)))
	}
	return out, l.Errors()
}

func (l *Loader) record(source, msg string) {
	l.errs = append(l.errs, LoadError{Source: source, Message: msg})
	l.logger.Warn("rejected correlation rule", slog.String("source", source), slog.String("error", msg))
}

// unit is one rule mapping inside a source.
type unit struct {
	source string
	index  int // position inside an array document, -1 for a top-level mapping
	node   *yaml.Node
	raw    string
}

func (u unit) label() string {
	if u.index < 0 {
		return u.source
	}
	return fmt.Sprintf("%s[%d]", u.source, u.index)
}

// defaultID derives an id from the source file name.
func (u unit) defaultID() string {
	base := strings.TrimSuffix(filepath.Base(u.source), filepath.Ext(u.source))
	if u.index < 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, u.index)
}

// splitDocuments breaks a source into rule mappings. A source may hold several YAML
// documents, each being one rule or a list of rules.
func splitDocuments(src Source) ([]unit, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src.Data))
	var docs []*yaml.Node
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		if len(doc.Content) == 0 {
			continue
		}
		docs = append(docs, doc.Content[0])
	}
	if len(docs) == 0 {
		return nil, errors.New("no rule documents found")
	}

	var units []unit
	for _, root := range docs {
		switch root.Kind {
		case yaml.MappingNode:
			units = append(units, unit{source: src.Name, index: -1, node: root})
		case yaml.SequenceNode:
			for i, item := range root.Content {
				units = append(units, unit{source: src.Name, index: i, node: item})
			}
		default:
			return nil, fmt.Errorf("line %d: expected a rule mapping or a list of rules", root.Line)
		}
	}

	// A file holding exactly one rule keeps its text verbatim.
	if len(units) == 1 && units[0].index < 0 {
		units[0].raw = string(src.Data)
		return units, nil
	}
	for i := range units {
		out, err := yaml.Marshal(units[i].node)
		if err == nil {
			units[i].raw = string(out)
		}
	}
	return units, nil
}

type rawRule struct {
	ID          string            `yaml:"id"`
	Version     int               `yaml:"version"`
	Enabled     *bool             `yaml:"enabled"`
	Meta        *Meta             `yaml:"meta"`
	Collections []CollectionGroup `yaml:"collections"`
	Aggregation *Aggregation      `yaml:"aggregation"`
	Analysis    []AnalysisStep    `yaml:"analysis"`
	Headline    headline          `yaml:"headline"`
}

func (l *Loader) build(u unit) (*Rule, error) {
	if u.node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: rule must be a mapping", u.node.Line)
	}
	var raw rawRule
	if err := u.node.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}

	rule := &Rule{
		ID:          strings.TrimSpace(raw.ID),
		Version:     raw.Version,
		Collections: raw.Collections,
		Aggregation: raw.Aggregation,
		Analysis:    raw.Analysis,
		Headline:    strings.TrimSpace(string(raw.Headline)),
		Enabled:     raw.Enabled == nil || *raw.Enabled,
		SourceName:  u.source,
		RawSource:   u.raw,
	}
	if rule.ID == "" {
		rule.ID = u.defaultID()
	}
	if raw.Meta != nil {
		rule.Meta = *raw.Meta
	}

	if problems := l.validate(rule, raw.Meta != nil); len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return rule, nil
}

// validate fills defaults and returns every problem found with the rule.
func (l *Loader) validate(r *Rule, hasMeta bool) []string {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !validID.MatchString(r.ID) {
		add("invalid rule id %q", r.ID)
	}

	if !hasMeta {
		add("missing required field: meta")
	} else {
		if strings.TrimSpace(r.Meta.Name) == "" {
			add("missing required field: meta.name")
		}
		if strings.TrimSpace(r.Meta.Description) == "" {
			add("missing required field: meta.description")
		}
		r.Meta.Risk = strings.ToUpper(strings.TrimSpace(r.Meta.Risk))
		switch {
		case r.Meta.Risk == "":
			add("missing required field: meta.risk")
		case !validRisks[r.Meta.Risk]:
			add("invalid meta.risk %q (want INFO, LOW, MEDIUM or HIGH)", r.Meta.Risk)
		}
		if r.Meta.Scope == "" {
			r.Meta.Scope = ScopeScan
		}
		r.Meta.Scope = Scope(strings.ToLower(string(r.Meta.Scope)))
		if !r.Meta.Scope.IsValid() {
			add("invalid meta.scope %q (want scan, workspace or global)", r.Meta.Scope)
		}
		if strings.TrimSpace(r.Meta.Type) == "" {
			r.Meta.Type = DefaultType
		}
	}

	if len(r.Collections) == 0 {
		add("missing required field: collections")
	}
	for gi, group := range r.Collections {
		if len(group) == 0 {
			add("collections[%d]: empty collection", gi)
		}
		for ci, clause := range group {
			where := fmt.Sprintf("collections[%d][%d]", gi, ci)
			switch {
			case clause.Method == "":
				add("%s: missing method", where)
			case clause.Field == "":
				add("%s: missing field", where)
			case !models.IsKnownField(clause.Field):
				add("%s: unknown field %q", where, clause.Field)
			case len(clause.Value) == 0:
				add("%s: missing value", where)
			default:
				if err := l.catalog.ValidateClause(clause); err != nil {
					add("%s: %v", where, err)
				}
			}
		}
	}

	if r.Aggregation != nil {
		switch {
		case r.Aggregation.Field == "":
			add("aggregation: missing field")
		case !models.IsKnownField(r.Aggregation.Field):
			add("aggregation: unknown field %q", r.Aggregation.Field)
		}
	}

	for i, step := range r.Analysis {
		where := fmt.Sprintf("analysis[%d]", i)
		if step.Method == "" {
			add("%s: missing method", where)
			continue
		}
		if step.Field != "" && !models.IsKnownField(step.Field) {
			add("%s: unknown field %q", where, step.Field)
			continue
		}
		if err := l.catalog.ValidateStep(step, r.Aggregation); err != nil {
			add("%s: %v", where, err)
		}
	}

	if r.Headline == "" {
		add("missing required field: headline")
	}
	return problems
}
