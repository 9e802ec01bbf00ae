// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime rule table. The Go embed
package bakes redaction_patterns.yaml directly into the compiled binary, so
the redaction rules are immutable at runtime and travel with the executable.
*/

package redact

import (
	_ "embed"
)

// EmbeddedRules holds the raw byte content of 'redaction_patterns.yaml'.
//
// Populated at compile time via the embed directive. Baking the YAML into
// the binary guarantees the rule table cannot be weakened on the host
// filesystem without recompiling the gateway.
//
//go:embed redaction_patterns.yaml
var EmbeddedRules []byte
