package rbac

import (
	"fmt"
	"regexp"
)

// RedactionRule pairs a regular expression with its replacement text, as
// written in the policy file.
type RedactionRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Replace string `yaml:"replace" json:"replace"`
}

// Redactor rewrites sensitive fragments of command output before a result
// is cached or sent to a client. A nil Redactor passes output through, so
// callers can wire one unconditionally.
type Redactor struct {
	rules []redactRule
}

type redactRule struct {
	re   *regexp.Regexp
	repl string
}

// NewRedactor compiles the policy's redaction rules. An empty rule list
// yields nil.
func NewRedactor(rules []RedactionRule) (*Redactor, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	rd := &Redactor{rules: make([]redactRule, 0, len(rules))}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", r.Pattern, err)
		}
		rd.rules = append(rd.rules, redactRule{re: re, repl: r.Replace})
	}
	return rd, nil
}

// Apply runs every rule over s, in policy order.
func (rd *Redactor) Apply(s string) string {
	if rd == nil {
		return s
	}
	for _, r := range rd.rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}
