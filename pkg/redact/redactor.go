// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package redact masks secrets in text before it reaches any log sink.

Redact is a critical security component: the gateway handles provider API
keys, bot tokens, and vault passphrases, and any of those leaking into a
log line is a direct incident. All log output MUST pass through a Redactor
before it is written anywhere — there is no trusted sink, since any sink
may later be shipped to less-trusted storage.

# Design Rationale

Redaction is rule-table driven: a fixed set of regex rules compiled once at
startup from an embedded YAML table (see EmbeddedRules). Adding a rule is a
data change, not a code change. The table is read-only after initialization,
so applying it takes no locks and performs no I/O.

The package also provides a slog.Handler wrapper (see handler.go) so the
rules are enforced structurally: loggers built by pkg/logging cannot emit a
record that has not been redacted, regardless of level or destination.
*/
package redact

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Rule is a single redaction pattern.
//
// # Description
//
// Pairs a compiled regex with the replacement text it substitutes for
// matches. The replacement may reference capture groups ($1, $2) so rules
// can preserve non-sensitive context (a URL's scheme and user, say) while
// masking the secret portion.
type Rule struct {
	// ID is a stable identifier for the rule, used in audit stats.
	ID string `yaml:"id"`

	// Description says what the rule catches. Informational only.
	Description string `yaml:"description"`

	// Regex is the pattern source as written in the rule table.
	Regex string `yaml:"regex"`

	// Replacement is substituted for every match. May use $1, $2 groups.
	Replacement string `yaml:"replacement"`

	compiled *regexp.Regexp
}

// ruleFile mirrors the YAML rule table layout.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Stats reports cumulative redaction activity since process start.
//
// Counts are approximate under heavy concurrency, which is acceptable for
// audit purposes. Secret values themselves are never recorded — only how
// often each rule fired.
type Stats struct {
	// TotalCalls is how many strings have been passed through Apply.
	TotalCalls int64

	// TotalRedactions is how many substitutions were made in total.
	TotalRedactions int64

	// ByRule maps rule ID to the number of times that rule fired.
	ByRule map[string]int64
}

// Redactor applies the rule table to text.
//
// # Thread Safety
//
// Safe for concurrent use. The rule table is immutable after construction;
// the only mutable state is the atomic stat counters.
type Redactor struct {
	rules []Rule

	totalCalls      atomic.Int64
	totalRedactions atomic.Int64
	byRule          []atomic.Int64 // parallel to rules
}

// New builds a Redactor from the embedded rule table.
//
// # Outputs
//
//   - *Redactor: ready for use.
//   - error: non-nil if the embedded YAML is malformed or a regex does not
//     compile. Either means a broken build, so callers should treat this
//     as fatal at startup.
func New() (*Redactor, error) {
	var file ruleFile
	if err := yaml.Unmarshal(EmbeddedRules, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded redaction rules: %w", err)
	}
	return NewFromRules(file.Rules)
}

// NewFromRules builds a Redactor from an explicit rule set.
//
// Used by tests and by callers that extend the embedded table with
// deployment-specific rules.
func NewFromRules(rules []Rule) (*Redactor, error) {
	compiled := make([]Rule, len(rules))
	for i, rule := range rules {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, fmt.Errorf("redaction rule %q: invalid regex: %w", rule.ID, err)
		}
		rule.compiled = re
		compiled[i] = rule
	}
	return &Redactor{
		rules:  compiled,
		byRule: make([]atomic.Int64, len(compiled)),
	}, nil
}

// Apply runs every rule against the input and returns the masked result.
//
// # Description
//
// Rules run in table order: provider-specific shapes first, generic
// fallbacks last, so the most informative placeholder wins. The input is
// never logged by this method, even on internal errors.
//
// # Inputs
//
//   - input: text that may contain secrets. Empty input is returned as is.
//
// # Outputs
//
//   - string: the input with every match replaced by the rule's
//     replacement text.
func (r *Redactor) Apply(input string) string {
	r.totalCalls.Add(1)
	if input == "" {
		return input
	}
	result := input
	for i := range r.rules {
		rule := &r.rules[i]
		matches := int64(len(rule.compiled.FindAllStringIndex(result, -1)))
		if matches == 0 {
			continue
		}
		result = rule.compiled.ReplaceAllString(result, rule.Replacement)
		r.byRule[i].Add(matches)
		r.totalRedactions.Add(matches)
	}
	return result
}

// RuleCount returns the number of rules in the table.
func (r *Redactor) RuleCount() int {
	return len(r.rules)
}

// GetStats returns a snapshot of redaction activity.
func (r *Redactor) GetStats() Stats {
	stats := Stats{
		TotalCalls:      r.totalCalls.Load(),
		TotalRedactions: r.totalRedactions.Load(),
		ByRule:          make(map[string]int64, len(r.rules)),
	}
	for i := range r.rules {
		if n := r.byRule[i].Load(); n > 0 {
			stats.ByRule[r.rules[i].ID] = n
		}
	}
	return stats
}
