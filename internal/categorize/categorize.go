// Package categorize assigns categories to transactions by ordered,
// case-insensitive pattern matching on the description. No ML, no state:
// the same description under the same rule set always yields the same
// category.
package categorize

import (
	"fmt"
	"regexp"
	"strings"
)

// Uncategorized is the fallback label when no rule matches and the statement
// carried no category of its own.
const Uncategorized = "Uncategorized"

// Rule maps a category label to a compiled pattern. Rules are evaluated in
// slice order; the first match wins.
type Rule struct {
	Category string
	Pattern  *regexp.Regexp
}

// NewRule compiles a case-insensitive pattern for a category.
func NewRule(category, pattern string) (Rule, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compile pattern for category %q: %w", category, err)
	}
	return Rule{Category: category, Pattern: re}, nil
}

// Categorizer holds an immutable ordered rule set. Construct one per
// configuration; it is safe for concurrent use.
type Categorizer struct {
	rules []Rule
}

func New(rules []Rule) *Categorizer {
	return &Categorizer{rules: rules}
}

// Categorize resolves the category for a description. Rules are tried in
// configured order and the first matching pattern wins; that order is the
// tie-break when a description matches several categories. When nothing
// matches, a non-empty original statement category is kept, otherwise the
// result is Uncategorized. Never returns an empty string.
func (c *Categorizer) Categorize(description, originalCategory string) string {
	for _, r := range c.rules {
		if r.Pattern.MatchString(description) {
			return r.Category
		}
	}
	if oc := strings.TrimSpace(originalCategory); oc != "" {
		return oc
	}
	return Uncategorized
}

// Categories returns the configured labels in rule order, without duplicates.
func (c *Categorizer) Categories() []string {
	seen := make(map[string]bool, len(c.rules))
	out := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}
