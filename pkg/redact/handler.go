// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redact

import (
	"context"
	"log/slog"
)

// Handler is a slog.Handler that redacts every record before delegating to
// an inner handler.
//
// # Description
//
// The message and all string-valued attributes (including strings nested in
// groups, and the rendered text of error values) pass through the Redactor.
// Because pkg/logging wraps every sink it constructs in this handler, no
// destination — stderr, file, or anything added later — receives unredacted
// records at any severity level.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no mutable state of its own.
type Handler struct {
	inner    slog.Handler
	redactor *Redactor
}

// NewHandler wraps inner so that every record it handles is redacted first.
func NewHandler(inner slog.Handler, redactor *Redactor) *Handler {
	return &Handler{inner: inner, redactor: redactor}
}

// Enabled reports whether the inner handler is enabled for the level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts the record's message and attributes, then delegates.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, h.redactor.Apply(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

// WithAttrs redacts the pre-bound attributes before handing them to the
// inner handler, so context attached via Logger.With is covered too.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = h.redactAttr(attr)
	}
	return &Handler{inner: h.inner.WithAttrs(clean), redactor: h.redactor}
}

// WithGroup returns a handler that opens a group on the inner handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), redactor: h.redactor}
}

// redactAttr rewrites the sensitive kinds of attribute values.
//
// Strings are redacted directly. Groups recurse. Errors and Stringers
// arriving as KindAny are rendered and redacted as strings, since their
// formatted text is what would reach the sink. Numeric and boolean values
// pass through: they cannot carry a token shape.
func (h *Handler) redactAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redactor.Apply(value.String()))
	case slog.KindGroup:
		group := value.Group()
		clean := make([]any, 0, len(group))
		for _, member := range group {
			clean = append(clean, h.redactAttr(member))
		}
		return slog.Group(attr.Key, clean...)
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			return slog.String(attr.Key, h.redactor.Apply(v.Error()))
		case interface{ String() string }:
			return slog.String(attr.Key, h.redactor.Apply(v.String()))
		}
	}
	return attr
}
