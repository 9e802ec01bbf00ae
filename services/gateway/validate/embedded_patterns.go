// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validate

import _ "embed"

// EmbeddedPatterns is the injection pattern table compiled into the
// binary. Keeping the table in the binary rather than on disk means a
// gateway cannot run with a missing or tampered pattern file.
//
//go:embed injection_patterns.yaml
var EmbeddedPatterns []byte
