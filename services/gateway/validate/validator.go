// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package validate screens inbound messages before they reach the model.

Every message passes three stages in order:

 1. Sanitization: control characters other than newline and tab are
    stripped, so terminal escape sequences and null bytes never reach
    logs or the model.
 2. Size check: messages over the configured byte limit are rejected.
 3. Injection screen: the sanitized text is matched against an embedded,
    case-insensitive pattern table covering five attack families
    (instruction override, identity hijack, directive injection, safety
    bypass, exfiltration). The first match rejects the message.

# Security Context

This is the last line of defense between an unauthenticated-in-spirit
channel user and the model's system prompt. Rejections are generic on the
wire: the caller learns the message was refused, never which pattern
fired. Pattern identifiers go to logs and metrics only.

# Thread Safety

Validator is immutable after construction and safe for concurrent use.
*/
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------
// Reason Codes
// -----------------------------------------------------------------------------

// Reason classifies why a message was rejected.
type Reason string

const (
	// ReasonEmpty means the message was empty after sanitization.
	ReasonEmpty Reason = "empty_message"

	// ReasonTooLong means the message exceeded the byte limit.
	ReasonTooLong Reason = "message_too_long"

	// ReasonInjection means an injection pattern matched.
	ReasonInjection Reason = "prompt_injection_detected"
)

// DefaultMaxMessageBytes caps message text size. Matches the websocket
// text frame limit so the two layers agree.
const DefaultMaxMessageBytes = 32 * 1024

// maxChannelIDLength bounds channel and user identifiers.
const maxChannelIDLength = 256

// -----------------------------------------------------------------------------
// Pattern Table
// -----------------------------------------------------------------------------

// Pattern is one injection detection rule.
type Pattern struct {
	ID          string `yaml:"id"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp
}

type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// -----------------------------------------------------------------------------
// Validator
// -----------------------------------------------------------------------------

// Result is the outcome of validating one message.
type Result struct {
	// Clean is true when the message may proceed.
	Clean bool

	// Sanitized is the control-character-stripped text. Only meaningful
	// when Clean.
	Sanitized string

	// Reason is set when Clean is false.
	Reason Reason

	// PatternID identifies the matched rule for ReasonInjection. For
	// logs and metrics only; never sent back to the user.
	PatternID string

	// Category is the matched rule's attack family for ReasonInjection.
	Category string
}

// Validator screens message text against size limits and the injection
// pattern table.
type Validator struct {
	patterns        []Pattern
	maxMessageBytes int
}

// Option adjusts Validator construction.
type Option func(*Validator)

// WithMaxMessageBytes overrides the message size limit.
func WithMaxMessageBytes(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxMessageBytes = n
		}
	}
}

// New builds a Validator from the embedded pattern table. The only error
// path is a malformed embedded table, which means a broken build.
func New(opts ...Option) (*Validator, error) {
	return NewFromPatterns(EmbeddedPatterns, opts...)
}

// NewFromPatterns builds a Validator from a YAML pattern table.
func NewFromPatterns(raw []byte, opts ...Option) (*Validator, error) {
	var file patternFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse injection patterns: %w", err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("injection pattern table is empty")
	}

	for i := range file.Patterns {
		p := &file.Patterns[i]
		if p.ID == "" || p.Category == "" {
			return nil, fmt.Errorf("pattern %d: id and category are required", i)
		}
		compiled, err := regexp.Compile("(?i)" + p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.ID, err)
		}
		p.compiled = compiled
	}

	v := &Validator{
		patterns:        file.Patterns,
		maxMessageBytes: DefaultMaxMessageBytes,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// PatternCount returns the number of compiled patterns.
func (v *Validator) PatternCount() int {
	return len(v.patterns)
}

// ValidateMessage sanitizes and screens one message.
func (v *Validator) ValidateMessage(input string) Result {
	sanitized := Sanitize(input)

	if strings.TrimSpace(sanitized) == "" {
		return Result{Reason: ReasonEmpty}
	}
	if len(sanitized) > v.maxMessageBytes {
		return Result{Reason: ReasonTooLong}
	}
	for _, p := range v.patterns {
		if p.compiled.MatchString(sanitized) {
			return Result{
				Reason:    ReasonInjection,
				PatternID: p.ID,
				Category:  p.Category,
			}
		}
	}
	return Result{Clean: true, Sanitized: sanitized}
}

// Sanitize strips control characters other than newline and tab. That
// covers the C1 range (U+0080-U+009F) as well as C0 and DEL: a raw CSI
// byte smuggles terminal escape sequences just as well as ESC does.
// Carriage returns are normalized away so injected "\r\nsystem:" lines
// collapse to a form the pattern table still sees.
func Sanitize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// channelIDPattern accepts the identifier charset used by the supported
// channels: alphanumerics plus dot, dash, underscore, and colon.
var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// ValidateChannelID checks a channel or user identifier: non-empty, at
// most 256 bytes, restricted charset.
func ValidateChannelID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier is empty")
	}
	if len(id) > maxChannelIDLength {
		return fmt.Errorf("identifier exceeds %d bytes", maxChannelIDLength)
	}
	if !channelIDPattern.MatchString(id) {
		return fmt.Errorf("identifier contains invalid characters")
	}
	return nil
}
