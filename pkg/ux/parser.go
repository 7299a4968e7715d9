// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// SSE Parser
// =============================================================================

// SSEParser parses Server-Sent Events lines into ChatEvents.
//
// # Description
//
// The server writes each event as a single "data: <json>" line followed by a
// blank line. Blank lines, comment lines (":" prefix), other SSE fields
// ("event:", "id:", "retry:") and the "[DONE]" sentinel yield a nil event.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SSEParser interface {
	// ParseLine parses a single SSE line.
	//
	// # Outputs
	//
	//   - *ChatEvent: The parsed event, or nil when the line carries none.
	//   - error: Non-nil when a data line does not hold a valid event.
	ParseLine(line string) (*ChatEvent, error)

	// ParseRawJSON parses an event payload without the "data:" prefix.
	ParseRawJSON(jsonData []byte) (*ChatEvent, error)
}

// sseParser is stateless and safe for concurrent use.
type sseParser struct{}

// NewSSEParser creates a new SSE parser.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine parses a single SSE line.
func (p *sseParser) ParseLine(line string) (*ChatEvent, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
		return nil, nil
	}

	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return nil, nil
	}
	data = strings.TrimSpace(data)
	if data == "" || data == "[DONE]" {
		return nil, nil
	}
	return p.ParseRawJSON([]byte(data))
}

// ParseRawJSON parses an event payload without the "data:" prefix.
func (p *sseParser) ParseRawJSON(jsonData []byte) (*ChatEvent, error) {
	var event ChatEvent
	if err := json.Unmarshal(jsonData, &event); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("parse event: missing event type")
	}
	return &event, nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEParser = (*sseParser)(nil)
