// Package failure categorizes recorded task failures by pattern so a run's
// failure profile can be summarized at a glance.
package failure

import (
	"regexp"
	"sort"

	"github.com/lemon07r/patchbench/internal/predictions"
)

// Category is a named class of failure with the patterns that identify it.
type Category struct {
	Name     string
	Patterns []*regexp.Regexp
}

// Categories are checked in order; the first match wins. Infrastructure
// classes come first so an agent timeout is never misread as a test failure
// buried in its error text.
var Categories = []Category{
	{"timeout", compile(
		`(?i)timed out`,
		`(?i)timeout`,
		`(?i)deadline exceeded`,
	)},
	{"no_patch", compile(
		`(?i)no patch`,
		`(?i)produced no patch`,
	)},
	{"provision", compile(
		`(?i)provisioning .*: (clone|fetch|checkout)`,
		`(?i)failed to setup repository`,
		`(?i)could not resolve host`,
		`(?i)fatal: .*git`,
	)},
	{"import_error", compile(
		`ImportError`,
		`ModuleNotFoundError`,
		`(?i)no module named`,
	)},
	{"syntax_error", compile(
		`SyntaxError`,
		`IndentationError`,
		`TabError`,
	)},
	{"type_error", compile(
		`TypeError`,
		`(?i)expected .+ got .+`,
	)},
	{"attribute_error", compile(
		`AttributeError`,
		`(?i)has no attribute`,
	)},
	{"assertion_error", compile(
		`AssertionError`,
		`(?i)assert .+ failed`,
	)},
	{"test_failure", compile(
		`FAILED`,
		`(?i)test.*failed`,
		`failures=\d+`,
	)},
}

// Unknown is the bucket for failures no pattern matches.
const Unknown = "unknown"

func compile(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// Categorize maps one failure message to a category name.
func Categorize(msg string) string {
	for _, cat := range Categories {
		for _, re := range cat.Patterns {
			if re.MatchString(msg) {
				return cat.Name
			}
		}
	}
	return Unknown
}

// Count is a category with its occurrence count and member instance ids.
type Count struct {
	Category  string   `json:"category"`
	Count     int      `json:"count"`
	Instances []string `json:"instances"`
}

// Summarize buckets recorded failures by category, most common first.
// Categories tie-break alphabetically so output is stable.
func Summarize(failures []predictions.Failure) []Count {
	byCat := make(map[string]*Count)
	for _, f := range failures {
		name := Categorize(f.Error)
		c, ok := byCat[name]
		if !ok {
			c = &Count{Category: name}
			byCat[name] = c
		}
		c.Count++
		c.Instances = append(c.Instances, f.InstanceID)
	}

	out := make([]Count, 0, len(byCat))
	for _, c := range byCat {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}
