package rules_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/engine"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

const validRule = `
id: shared_email
version: 2
meta:
  name: Shared email
  description: Same email seen in several scans
  risk: medium
  scope: workspace
collections:
  - collect:
      - method: exact
        field: type
        value: EMAILADDR
aggregation:
  field: data
analysis:
  - method: threshold
    minimum: 2
headline: "Email {data} seen in several scans"
`

func newLoader() *rules.Loader {
	return rules.NewLoader(engine.NewMethods())
}

func load(t *testing.T, name, data string) ([]*rules.Rule, []rules.LoadError) {
	t.Helper()
	return newLoader().Load(rules.Source{Name: name, Data: []byte(data)})
}

func TestLoad_ValidRule(t *testing.T) {
	loaded, errs := load(t, "shared_email.yaml", validRule)
	require.Empty(t, errs)
	require.Len(t, loaded, 1)

	r := loaded[0]
	assert.Equal(t, "shared_email", r.ID)
	assert.Equal(t, 2, r.Version)
	assert.Equal(t, "MEDIUM", r.Meta.Risk)
	assert.Equal(t, rules.ScopeWorkspace, r.Meta.Scope)
	assert.Equal(t, rules.DefaultType, r.Meta.Type)
	assert.True(t, r.Enabled)
	assert.Equal(t, "data", r.AggregationField())
	require.Len(t, r.Collections, 1)
	require.Len(t, r.Collections[0], 1)
	assert.Equal(t, rules.Values{"EMAILADDR"}, r.Collections[0][0].Value)
	require.Len(t, r.Analysis, 1)
	assert.Equal(t, "threshold", r.Analysis[0].Method)
	assert.Equal(t, 2, r.Analysis[0].Params["minimum"])
	assert.Equal(t, "Email {data} seen in several scans", r.Headline)
	assert.Equal(t, validRule, r.RawSource)
	assert.Equal(t, "shared_email.yaml", r.SourceName)
}

func TestLoad_Defaults(t *testing.T) {
	doc := `
meta:
  name: n
  description: d
  risk: INFO
collections:
  - - method: regex
      field: data
      value: ["^a", "^b"]
headline: h
enabled: false
`
	loaded, errs := load(t, "rules/minimal.yml", doc)
	require.Empty(t, errs)
	require.Len(t, loaded, 1)

	r := loaded[0]
	assert.Equal(t, "minimal", r.ID)
	assert.Equal(t, rules.ScopeScan, r.Meta.Scope)
	assert.False(t, r.Enabled)
	assert.Nil(t, r.Aggregation)
	assert.Equal(t, rules.Values{"^a", "^b"}, r.Collections[0][0].Value)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"only id", `id: bad`, "missing required field: meta"},
		{"no name", strings.Replace(validRule, "  name: Shared email\n", "", 1), "meta.name"},
		{"no description", strings.Replace(validRule, "  description: Same email seen in several scans\n", "", 1), "meta.description"},
		{"no risk", strings.Replace(validRule, "  risk: medium\n", "", 1), "meta.risk"},
		{"no headline", strings.Replace(validRule, `headline: "Email {data} seen in several scans"`, "", 1), "headline"},
		{"no collections", `
meta: {name: n, description: d, risk: LOW}
headline: h
`, "collections"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loaded, errs := load(t, "bad.yaml", tt.doc)
			assert.Empty(t, loaded)
			require.Len(t, errs, 1)
			assert.Equal(t, "bad.yaml", errs[0].Source)
			assert.Contains(t, errs[0].Message, tt.want)
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want string
	}{
		{"risk", "risk: medium", "risk: severe", "invalid meta.risk"},
		{"scope", "scope: workspace", "scope: galaxy", "invalid meta.scope"},
		{"collection method", "method: exact", "method: fuzzy", "unknown method"},
		{"analysis method", "method: threshold", "method: zscore", "unknown method"},
		{"field", "field: type", "field: colour", "unknown field"},
		{"aggregation field", "field: data", "field: payload", "unknown field"},
		{"threshold value", "minimum: 2", "minimum: lots", "must be a number"},
		{"id", "id: shared_email", "id: '-bad id'", "invalid rule id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(validRule, tt.from, tt.to, 1)
			loaded, errs := load(t, "r.yaml", doc)
			assert.Empty(t, loaded)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Message, tt.want)
		})
	}
}

func TestLoad_InvalidRegexRejectedAtLoad(t *testing.T) {
	doc := strings.Replace(validRule, "method: exact", "method: regex", 1)
	doc = strings.Replace(doc, "value: EMAILADDR", `value: "(unclosed"`, 1)
	loaded, errs := load(t, "r.yaml", doc)
	assert.Empty(t, loaded)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "invalid regex")
}

func TestLoad_ArrayDocument(t *testing.T) {
	doc := `
- meta: {name: a, description: d, risk: LOW}
  collections: [[{method: exact, field: type, value: A}]]
  headline: a
- id: bad
- meta: {name: c, description: d, risk: HIGH}
  collections: [[{method: exact, field: type, value: C}]]
  headline: c
`
	loaded, errs := load(t, "batch.yaml", doc)
	require.Len(t, loaded, 2)
	assert.Equal(t, "batch-0", loaded[0].ID)
	assert.Equal(t, "batch-2", loaded[1].ID)
	assert.Contains(t, loaded[0].RawSource, "name: a")

	require.Len(t, errs, 1)
	assert.Equal(t, "batch.yaml[1]", errs[0].Source)
}

func TestLoad_MultiDocumentStream(t *testing.T) {
	second := strings.Replace(validRule, "id: shared_email", "id: shared_email_2", 1)
	loaded, errs := load(t, "multi.yaml", validRule+"\n---\n"+second)
	require.Empty(t, errs)
	require.Len(t, loaded, 2)
	assert.Equal(t, "shared_email_2", loaded[1].ID)
}

func TestLoad_DuplicateIDs(t *testing.T) {
	l := newLoader()
	loaded, errs := l.Load(
		rules.Source{Name: "one.yaml", Data: []byte(validRule)},
		rules.Source{Name: "two.yaml", Data: []byte(validRule)},
	)
	require.Len(t, loaded, 1)
	assert.Equal(t, "one.yaml", loaded[0].SourceName)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "duplicate rule id")
	assert.Equal(t, errs, l.Errors())
}

func TestLoad_ContinuesAfterBadUnit(t *testing.T) {
	l := newLoader()
	loaded, errs := l.Load(
		rules.Source{Name: "broken.yaml", Data: []byte("meta: [unclosed")},
		rules.Source{Name: "scalar.yaml", Data: []byte("just text")},
		rules.Source{Name: "good.yaml", Data: []byte(validRule)},
	)
	require.Len(t, loaded, 1)
	require.Len(t, errs, 2)
	assert.Equal(t, "broken.yaml", errs[0].Source)
	assert.Equal(t, "scalar.yaml", errs[1].Source)
}

func TestLoad_ErrorsResetBetweenLoads(t *testing.T) {
	l := newLoader()
	l.Load(rules.Source{Name: "bad.yaml", Data: []byte("id: bad")})
	require.Len(t, l.Errors(), 1)

	l.Load(rules.Source{Name: "good.yaml", Data: []byte(validRule)})
	assert.Empty(t, l.Errors())
}

func TestLoad_RelationalFields(t *testing.T) {
	doc := `
id: rel
meta: {name: n, description: d, risk: LOW}
collections:
  - collect:
      - {method: exact, field: type, value: EMAILADDR}
      - {method: exact, field: entity.type, value: DOMAIN_NAME}
aggregation:
  field: source.data
headline: h
`
	loaded, errs := load(t, "rel.yaml", doc)
	require.Empty(t, errs)
	require.Len(t, loaded, 1)
	assert.ElementsMatch(t, []string{"entity", "source"}, loaded[0].Relations())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(validRule), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("id: bad"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700))

	l := newLoader()
	loaded, err := l.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "shared_email", loaded[0].ID)

	errs := l.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "a.yml", errs[0].Source)
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := newLoader().LoadDir(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestLoadDir_ShippedRules(t *testing.T) {
	l := newLoader()
	loaded, err := l.LoadDir("../../rules")
	require.NoError(t, err)
	assert.Empty(t, l.Errors())
	assert.NotEmpty(t, loaded)
}

func TestScope(t *testing.T) {
	assert.False(t, rules.ScopeScan.Pooled())
	assert.True(t, rules.ScopeWorkspace.Pooled())
	assert.True(t, rules.ScopeGlobal.Pooled())
	assert.False(t, rules.Scope("other").IsValid())
}
