// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencrust-org/opencrust/services/gateway/ratelimit"
)

// SessionState tracks where a connection is in its lifecycle. Transitions
// only move forward; a session never returns to an earlier state.
type SessionState int

const (
	// StateConnecting: TCP accepted, upgrade in progress.
	StateConnecting SessionState = iota

	// StateAuthenticating: upgrade done, token being checked.
	StateAuthenticating

	// StateAuthenticated: token accepted, welcome frame not yet sent.
	StateAuthenticated

	// StateActive: welcome sent, message loop running.
	StateActive

	// StateClosing: close initiated, final frames draining.
	StateClosing

	// StateClosed: connection gone.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is one live websocket connection.
//
// The read loop is the only reader; writes come from both the read loop
// and the heartbeat goroutine, so every write goes through writeMu.
type session struct {
	id     string
	conn   *websocket.Conn
	window *ratelimit.Window

	mu    sync.Mutex
	state SessionState

	writeMu sync.Mutex
}

func (s *session) setState(next SessionState) {
	s.mu.Lock()
	if next > s.state {
		s.state = next
	}
	s.mu.Unlock()
}

func (s *session) currentState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// errSessionClosing is returned for data writes attempted after the
// session has begun closing.
var errSessionClosing = errors.New("session is closing")

// writeJSON sends one frame under the write lock with a bounded deadline.
// Data frames are refused once the session is closing; only the close
// control frame may follow the close decision.
func (s *session) writeJSON(v any) error {
	if s.currentState() >= StateClosing {
		return errSessionClosing
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// writeControl sends a control frame under the write lock.
func (s *session) writeControl(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.conn.WriteControl(messageType, data, time.Now().Add(writeTimeout))
}
