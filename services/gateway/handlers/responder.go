// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
)

// Responder produces the reply for a message that has cleared every
// security stage. The gateway owns authentication, authorization,
// rate limiting, and validation; the responder only ever sees text
// that survived all of them.
type Responder interface {
	// Respond returns the reply text for a validated message.
	// text has already been sanitized; channel and userID identify
	// the authorized sender.
	Respond(ctx context.Context, channel, userID, text string) (string, error)
}

// EchoResponder answers every message with an acknowledgment that
// quotes the sanitized text back. It is the default responder when no
// agent backend is wired in, and the responder the tests use.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, _, _ string, text string) (string, error) {
	return fmt.Sprintf("received: %s", text), nil
}
