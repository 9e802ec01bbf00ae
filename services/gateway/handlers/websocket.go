// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers carries the websocket session loop and the admin HTTP
// handlers for the gateway.
//
// Every inbound message walks the same pipeline in a fixed order:
//
//  1. per-connection rate limit (sliding window; pairing claims count
//     against the same window as messages, so codes cannot be
//     brute-forced at wire speed)
//  2. allowlist check (unauthorized messages are dropped without a reply,
//     except a well-formed pairing claim)
//  3. input validation (rejections carry a generic code, never the
//     pattern that fired)
//  4. the Responder
//
// A stage that rejects stops the pipeline; later stages never see the
// message. Identifiers and outcomes go to logs and metrics, message
// content does not.
package handlers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opencrust-org/opencrust/pkg/logging"
	"github.com/opencrust-org/opencrust/services/gateway/observability"
	"github.com/opencrust-org/opencrust/services/gateway/pairing"
	"github.com/opencrust-org/opencrust/services/gateway/ratelimit"
	"github.com/opencrust-org/opencrust/services/gateway/validate"
)

// ============================================================================
// Frame limits
// ============================================================================

const (
	// MaxFrameBytes caps a single websocket frame.
	MaxFrameBytes = 64 * 1024

	// MaxMessageBytes caps a full (possibly fragmented) message.
	MaxMessageBytes = 256 * 1024

	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  MaxFrameBytes,
	WriteBufferSize: MaxFrameBytes,
	CheckOrigin: func(r *http.Request) bool {
		// Auth is token based; browser origin carries no trust here.
		return true
	},
}

// ============================================================================
// Wire frames
// ============================================================================

// clientFrame is everything a client may send. Type selects the shape.
type clientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
}

type connectedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type replyFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type errorFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type pairResultFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Error codes sent to clients. Deliberately coarse: the specific
// validation pattern or claim failure stays in the logs.
const (
	codeRateLimited     = "rate_limited"
	codeInvalidMessage  = "invalid_message"
	codeMessageRejected = "message_rejected"
	codeMessageTooLarge = "message_too_large"
	codeInternalError   = "internal_error"
)

const (
	pairStatusAuthorized = "authorized"
	pairStatusRejected   = "rejected"
)

// ============================================================================
// Handler
// ============================================================================

// WSDeps is everything the websocket handler needs. All fields are
// required unless noted.
type WSDeps struct {
	Log       *logging.Logger
	Metrics   *observability.Metrics
	Registry  *pairing.Registry
	Validator *validate.Validator
	Responder Responder

	// Heartbeat is the liveness window: a connection silent for this
	// long is closed. Pings go out at a third of the interval. Zero
	// disables the heartbeat.
	Heartbeat time.Duration

	// Sliding-window limits applied per connection.
	WindowLimit int
	WindowSpan  time.Duration

	// MaxViolations is how many rate-limited messages a connection may
	// send before it is disconnected.
	MaxViolations int

	// Sessions, when non-nil, tracks the live session count for the
	// status endpoint.
	Sessions *atomic.Int64

	// Clock is injectable for tests; nil means the system clock.
	Clock ratelimit.Clock
}

// HandleWebSocket upgrades the connection and runs the session loop.
// Token auth happens in middleware before this handler runs.
func HandleWebSocket(deps WSDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		clock := deps.Clock
		if clock == nil {
			clock = ratelimit.SystemClock()
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Log.Warn("websocket upgrade failed",
				"remote_addr", c.ClientIP(),
				"error", err)
			return
		}

		s := &session{
			id:     uuid.New().String(),
			conn:   conn,
			window: ratelimit.NewWindow(deps.WindowLimit, deps.WindowSpan, clock),
			state:  StateAuthenticated,
		}
		defer func() {
			s.setState(StateClosed)
			conn.Close()
			deps.Metrics.ConnectionsActive.Dec()
			if deps.Sessions != nil {
				deps.Sessions.Add(-1)
			}
			deps.Log.Info("session closed", "session_id", s.id)
		}()

		deps.Metrics.ConnectionsActive.Inc()
		deps.Metrics.ConnectionsTotal.Inc()
		if deps.Sessions != nil {
			deps.Sessions.Add(1)
		}
		deps.Log.Info("session opened",
			"session_id", s.id,
			"remote_addr", c.ClientIP())

		conn.SetReadLimit(MaxMessageBytes)

		if err := s.writeJSON(connectedFrame{Type: "connected", SessionID: s.id}); err != nil {
			deps.Log.Warn("failed to send welcome frame",
				"session_id", s.id,
				"error", err)
			return
		}
		s.setState(StateActive)

		stopHeartbeat := startHeartbeat(s, deps)
		defer stopHeartbeat()

		readLoop(c.Request.Context(), s, deps)
	}
}

// startHeartbeat pings several times per liveness window and enforces
// the read deadline through the pong handler. Returns a stop function.
//
// The deadline is exactly Heartbeat: a connection silent for one full
// interval is closed. Pinging at a third of the interval means a single
// lost pong does not kill a healthy connection.
func startHeartbeat(s *session, deps WSDeps) func() {
	if deps.Heartbeat <= 0 {
		return func() {}
	}

	s.conn.SetReadDeadline(time.Now().Add(deps.Heartbeat))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(deps.Heartbeat))
	})

	interval := deps.Heartbeat / 3
	if interval <= 0 {
		interval = deps.Heartbeat
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.writeControl(websocket.PingMessage, nil); err != nil {
					deps.Log.Debug("heartbeat ping failed",
						"session_id", s.id,
						"error", err)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func readLoop(ctx context.Context, s *session, deps WSDeps) {
	for {
		var frame clientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				deps.Log.Debug("websocket read ended",
					"session_id", s.id,
					"error", err)
			}
			break
		}

		switch frame.Type {
		case "message":
			if !handleMessage(ctx, s, deps, frame) {
				return
			}
		case "pair":
			if !handlePairClaim(s, deps, frame) {
				return
			}
		default:
			deps.Log.Debug("unknown frame type",
				"session_id", s.id,
				"frame_type", frame.Type)
			s.writeJSON(errorFrame{Type: "error", Code: codeInvalidMessage})
		}
	}
}

// handleMessage runs one message through the pipeline. The false return
// means the connection must be torn down.
func handleMessage(ctx context.Context, s *session, deps WSDeps, frame clientFrame) bool {
	if err := validate.ValidateChannelID(frame.Channel); err != nil {
		deps.Metrics.MessagesTotal.WithLabelValues("unknown", "invalid").Inc()
		s.writeJSON(errorFrame{Type: "error", Code: codeInvalidMessage})
		return true
	}

	// Stage 1: per-connection rate limit.
	allowed, keep := checkWindow(s, deps, frame.Channel)
	if !allowed {
		return keep
	}

	// Stage 2: allowlist. Unauthorized senders get silence, not a
	// frame that confirms the gateway is listening.
	if !deps.Registry.IsAuthorized(frame.Channel, frame.UserID) {
		deps.Metrics.MessagesTotal.WithLabelValues(frame.Channel, "unauthorized").Inc()
		deps.Log.Info("dropped message from unauthorized sender",
			"session_id", s.id,
			"channel", frame.Channel,
			"user_id", frame.UserID)
		return true
	}

	// Stage 3: validation.
	result := deps.Validator.ValidateMessage(frame.Text)
	if !result.Clean {
		deps.Metrics.MessagesTotal.WithLabelValues(frame.Channel, "rejected").Inc()
		if result.Category != "" {
			deps.Metrics.ValidationRejections.WithLabelValues(result.Category).Inc()
		}
		deps.Log.Warn("message rejected by validator",
			"session_id", s.id,
			"channel", frame.Channel,
			"user_id", frame.UserID,
			"reason", string(result.Reason),
			"pattern_id", result.PatternID)

		// Size is not a security oracle, so it gets its own code;
		// everything else stays generic.
		code := codeMessageRejected
		if result.Reason == validate.ReasonTooLong {
			code = codeMessageTooLarge
		}
		s.writeJSON(errorFrame{Type: "error", Code: code})
		return true
	}

	// Stage 4: respond.
	reply, err := deps.Responder.Respond(ctx, frame.Channel, frame.UserID, result.Sanitized)
	if err != nil {
		deps.Metrics.MessagesTotal.WithLabelValues(frame.Channel, "error").Inc()
		deps.Log.Error("responder failed",
			"session_id", s.id,
			"channel", frame.Channel,
			"error", err)
		s.writeJSON(errorFrame{Type: "error", Code: codeInternalError})
		return true
	}

	deps.Metrics.MessagesTotal.WithLabelValues(frame.Channel, "ok").Inc()
	s.writeJSON(replyFrame{Type: "reply", SessionID: s.id, Text: reply})
	return true
}

// checkWindow applies the per-connection sliding window to one frame.
// allowed reports whether the frame may proceed; keep is false when the
// violation budget is exhausted and the connection must be torn down.
func checkWindow(s *session, deps WSDeps, channel string) (allowed, keep bool) {
	if s.window.Allow() {
		return true, true
	}
	deps.Metrics.MessagesTotal.WithLabelValues(channel, "rate_limited").Inc()
	deps.Metrics.RateLimited.WithLabelValues("connection").Inc()

	violations := s.window.Violations()
	if deps.MaxViolations > 0 && violations >= deps.MaxViolations {
		deps.Log.Warn("disconnecting for repeated rate limit violations",
			"session_id", s.id,
			"channel", channel,
			"violations", violations)
		s.setState(StateClosing)
		s.writeControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"))
		return false, false
	}

	s.writeJSON(errorFrame{Type: "error", Code: codeRateLimited})
	return false, true
}

// handlePairClaim lets an unauthorized sender redeem a pairing code.
// The client only learns authorized or rejected; the precise failure
// goes to logs and metrics. Claims draw on the same window as messages,
// so the code space cannot be enumerated faster than the message
// budget allows. The false return means the connection must be torn
// down.
func handlePairClaim(s *session, deps WSDeps, frame clientFrame) bool {
	if err := validate.ValidateChannelID(frame.Channel); err != nil || frame.UserID == "" {
		s.writeJSON(errorFrame{Type: "error", Code: codeInvalidMessage})
		return true
	}

	allowed, keep := checkWindow(s, deps, frame.Channel)
	if !allowed {
		return keep
	}

	claim, err := deps.Registry.ClaimPairing(frame.Channel, frame.UserID, frame.Code)
	if err != nil {
		deps.Log.Error("pairing claim failed to persist",
			"session_id", s.id,
			"channel", frame.Channel,
			"error", err)
	}
	deps.Metrics.PairingClaims.WithLabelValues(string(claim)).Inc()

	status := pairStatusRejected
	if claim == pairing.ClaimAuthorized {
		status = pairStatusAuthorized
		deps.Log.Info("pairing claim authorized",
			"session_id", s.id,
			"channel", frame.Channel,
			"user_id", frame.UserID)
	} else {
		deps.Log.Info("pairing claim rejected",
			"session_id", s.id,
			"channel", frame.Channel,
			"user_id", frame.UserID,
			"result", string(claim))
	}
	s.writeJSON(pairResultFrame{Type: "pair_result", Status: status})
	return true
}
