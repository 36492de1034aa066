package categorize

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// ruleConfig is one entry in the rules YAML file. Either a raw pattern or a
// keyword list may be given; keywords are matched as literal substrings.
type ruleConfig struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Keywords []string `yaml:"keywords"`
}

type rulesFile struct {
	Categories []ruleConfig `yaml:"categories"`
}

// LoadRules reads an ordered rule set from a YAML file. File order is
// authoritative: it decides precedence between overlapping patterns.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return parseRules(data)
}

func parseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("rules file defines no categories")
	}

	rules := make([]Rule, 0, len(f.Categories))
	for i, rc := range f.Categories {
		if strings.TrimSpace(rc.Name) == "" {
			return nil, fmt.Errorf("rules file entry %d has no name", i)
		}
		pattern := rc.Pattern
		if pattern == "" {
			if len(rc.Keywords) == 0 {
				return nil, fmt.Errorf("category %q has neither pattern nor keywords", rc.Name)
			}
			quoted := make([]string, len(rc.Keywords))
			for j, kw := range rc.Keywords {
				quoted[j] = regexp.QuoteMeta(kw)
			}
			pattern = strings.Join(quoted, "|")
		}
		rule, err := NewRule(rc.Name, pattern)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// DefaultRules is the built-in rule set used when no rules file is
// configured. Order matters: earlier categories win on overlap.
func DefaultRules() []Rule {
	specs := []struct{ category, pattern string }{
		{"Income", `PAYCHECK|SALARY|DEPOSIT.*EMPLOYER|DD\s*-|DIRECT\s*DEPOSIT`},
		{"Food & Dining", `STARBUCKS|SBX|CHIPOTLE|7-ELEVEN|7-11|COFFEE|RESTAURANT`},
		{"Entertainment", `NETFLIX|SPOTIFY|HULU|DISNEY`},
		{"Transportation", `UBER|LYFT|SHELL|FUEL|GAS`},
		{"Groceries", `WHOLE\s*FOODS|WFM|TRADER\s*JOE|COSTCO`},
		{"Bills", `RENT|LANDLORD|UTILITIES|ELECTRIC|WATER`},
		{"Shopping", `AMZN|AMAZON|TARGET|WALMART`},
	}

	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		rule, err := NewRule(s.category, s.pattern)
		if err != nil {
			// Built-in patterns are constants; a compile failure is a bug.
			panic(err)
		}
		rules = append(rules, rule)
	}
	return rules
}
