package categorize

import (
	"os"
	"path/filepath"
	"testing"
)

func mustRules(t *testing.T, specs ...[2]string) []Rule {
	t.Helper()
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := NewRule(s[0], s[1])
		if err != nil {
			t.Fatalf("compile rule %q: %v", s[0], err)
		}
		rules = append(rules, r)
	}
	return rules
}

func TestCategorize_FirstMatchWins(t *testing.T) {
	c := New(mustRules(t,
		[2]string{"Income", "SALARY"},
		[2]string{"Dining", "STARBUCKS"},
	))

	// Matches both rules; the rule listed first must win.
	if got := c.Categorize("SALARY STARBUCKS REFUND", ""); got != "Income" {
		t.Errorf("got %q, want Income", got)
	}

	// Reversed order flips the result.
	rev := New(mustRules(t,
		[2]string{"Dining", "STARBUCKS"},
		[2]string{"Income", "SALARY"},
	))
	if got := rev.Categorize("SALARY STARBUCKS REFUND", ""); got != "Dining" {
		t.Errorf("got %q, want Dining", got)
	}
}

func TestCategorize_CaseInsensitive(t *testing.T) {
	c := New(mustRules(t, [2]string{"Dining", "STARBUCKS"}))
	if got := c.Categorize("starbucks store #42", ""); got != "Dining" {
		t.Errorf("got %q, want Dining", got)
	}
}

func TestCategorize_Fallbacks(t *testing.T) {
	c := New(mustRules(t, [2]string{"Dining", "STARBUCKS"}))

	if got := c.Categorize("UNKNOWN MERCHANT", "Travel"); got != "Travel" {
		t.Errorf("original category fallback: got %q, want Travel", got)
	}
	if got := c.Categorize("UNKNOWN MERCHANT", "   "); got != Uncategorized {
		t.Errorf("blank original category: got %q, want %q", got, Uncategorized)
	}
	if got := c.Categorize("UNKNOWN MERCHANT", ""); got != Uncategorized {
		t.Errorf("no original category: got %q, want %q", got, Uncategorized)
	}
}

func TestCategorize_Deterministic(t *testing.T) {
	c := New(DefaultRules())
	first := c.Categorize("UBER TRIP 12345", "")
	for i := 0; i < 100; i++ {
		if got := c.Categorize("UBER TRIP 12345", ""); got != first {
			t.Fatalf("iteration %d: got %q, want %q", i, got, first)
		}
	}
}

func TestCategories(t *testing.T) {
	c := New(mustRules(t,
		[2]string{"Income", "SALARY"},
		[2]string{"Dining", "STARBUCKS"},
		[2]string{"Dining", "CHIPOTLE"},
		[2]string{"Bills", "UTILITIES"},
	))

	got := c.Categories()
	want := []string{"Income", "Dining", "Bills"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d = %q, want %q (rule order, no duplicates)", i, got[i], want[i])
		}
	}
}

func TestDefaultRules(t *testing.T) {
	c := New(DefaultRules())
	cases := []struct {
		description string
		want        string
	}{
		{"DIRECT DEPOSIT ACME CORP", "Income"},
		{"STARBUCKS STORE #123", "Food & Dining"},
		{"NETFLIX.COM", "Entertainment"},
		{"UBER *TRIP", "Transportation"},
		{"TRADER JOES #55", "Groceries"},
		{"CITY WATER UTILITIES", "Bills"},
		{"AMZN MKTP US", "Shopping"},
		{"SOMETHING ELSE ENTIRELY", Uncategorized},
	}
	for _, tc := range cases {
		if got := c.Categorize(tc.description, ""); got != tc.want {
			t.Errorf("Categorize(%q) = %q, want %q", tc.description, got, tc.want)
		}
	}
}

func TestLoadRules(t *testing.T) {
	content := `categories:
  - name: Income
    keywords: [SALARY, PAYCHECK]
  - name: Dining
    pattern: STARBUCKS|CHIPOTLE
  - name: Shopping
    keywords: ["AMZN MKTP"]
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rules))
	}

	// File order decides precedence.
	c := New(rules)
	if got := c.Categorize("SALARY STARBUCKS REFUND", ""); got != "Income" {
		t.Errorf("got %q, want Income", got)
	}
	// Keywords are literal: the regexp metacharacters are escaped.
	if got := c.Categorize("AMZN MKTP US*RT4", ""); got != "Shopping" {
		t.Errorf("got %q, want Shopping", got)
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"no categories", "categories: []"},
		{"missing name", "categories:\n  - pattern: FOO"},
		{"no pattern or keywords", "categories:\n  - name: Income"},
		{"bad pattern", "categories:\n  - name: Income\n    pattern: '['"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseRules([]byte(tc.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
