package engine

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// RenderHeadline substitutes {field} placeholders. The aggregation field renders as
// the group key; other fields come from the group's representative event, with
// multiple related values joined by ", ". Placeholders that resolve to nothing are
// left as written.
func RenderHeadline(template string, g *Group) string {
	rep := g.Representative()
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		field := match[1 : len(match)-1]
		if g.Field != "" && field == g.Field {
			return g.Key
		}
		if rep == nil {
			return match
		}
		values := rep.Values(field)
		if len(values) == 0 {
			return match
		}
		return strings.Join(values, ", ")
	})
}
