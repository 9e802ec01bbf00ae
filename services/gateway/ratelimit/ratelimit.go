// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit provides the gateway's two rate limiting layers.
//
// OriginLimiter throttles connection attempts per remote address with a
// token bucket, protecting the HTTP/websocket surface before any
// authentication work happens. Window throttles messages per established
// connection with a sliding 60-second window, bounding how much model
// traffic one session can generate.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock supplies the current time. Tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// =============================================================================
// Per-Origin Limiter
// =============================================================================

// Default origin limiter settings: five connection attempts per minute
// with a burst of five per address.
const (
	DefaultOriginRate  = rate.Limit(5.0 / 60.0)
	DefaultOriginBurst = 5

	// originTTL is how long an idle address keeps its bucket before
	// eviction reclaims the memory.
	originTTL = 10 * time.Minute
)

type originEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// OriginLimiter applies a token bucket per remote address.
//
// Buckets for idle addresses are evicted lazily during Allow calls, so a
// scan across many source addresses cannot grow the map without bound.
// OriginLimiter is safe for concurrent use.
type OriginLimiter struct {
	limit rate.Limit
	burst int
	clock Clock

	mu        sync.Mutex
	origins   map[string]*originEntry
	lastSweep time.Time
}

// NewOriginLimiter builds a limiter allowing limit events per second with
// the given burst per address. A nil clock selects the wall clock.
func NewOriginLimiter(limit rate.Limit, burst int, clock Clock) *OriginLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	return &OriginLimiter{
		limit:   limit,
		burst:   burst,
		clock:   clock,
		origins: make(map[string]*originEntry),
	}
}

// Allow reports whether an event from addr may proceed now.
func (l *OriginLimiter) Allow(addr string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	entry, ok := l.origins[addr]
	if !ok {
		entry = &originEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.origins[addr] = entry
	}
	entry.lastSeen = now
	l.sweepLocked(now)
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// sweepLocked evicts idle buckets at most once per TTL. Caller holds l.mu.
func (l *OriginLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < originTTL {
		return
	}
	l.lastSweep = now
	for addr, entry := range l.origins {
		if now.Sub(entry.lastSeen) > originTTL {
			delete(l.origins, addr)
		}
	}
}

// Tracked returns the number of addresses currently holding a bucket.
func (l *OriginLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.origins)
}

// =============================================================================
// Per-Connection Sliding Window
// =============================================================================

// Default per-connection message budget: 30 messages in any 60 seconds.
const (
	DefaultWindowLimit = 30
	DefaultWindowSpan  = 60 * time.Second
)

// Window is a sliding-window message counter for one connection.
//
// Allow admits a message when fewer than limit messages were admitted in
// the trailing span. Rejected messages increment a violations counter the
// session loop uses to decide when a client is abusive enough to
// disconnect. Window is safe for concurrent use, though each connection's
// read loop is its only expected caller.
type Window struct {
	limit int
	span  time.Duration
	clock Clock

	mu         sync.Mutex
	admissions []time.Time
	violations int
}

// NewWindow builds a sliding window admitting limit messages per span.
// A nil clock selects the wall clock.
func NewWindow(limit int, span time.Duration, clock Clock) *Window {
	if clock == nil {
		clock = SystemClock()
	}
	return &Window{
		limit: limit,
		span:  span,
		clock: clock,
	}
}

// Allow reports whether one message may proceed now.
func (w *Window) Allow() bool {
	now := w.clock.Now()
	cutoff := now.Add(-w.span)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Admissions are appended in time order, so everything before the
	// first in-window entry has aged out.
	keep := 0
	for keep < len(w.admissions) && !w.admissions[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.admissions = append(w.admissions[:0], w.admissions[keep:]...)
	}

	if len(w.admissions) >= w.limit {
		w.violations++
		return false
	}
	w.admissions = append(w.admissions, now)
	return true
}

// Violations returns how many messages this window has rejected.
func (w *Window) Violations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.violations
}
