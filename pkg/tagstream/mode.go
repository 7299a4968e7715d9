// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tagstream

import "github.com/AleutianAI/AleutianArchitect/pkg/marker"

// Mode is the parser state: Idle or InSpan. At most one span is open at a
// time.
type Mode interface {
	isMode()
}

// Idle means no span is open.
type Idle struct{}

// InSpan means a span of Kind is open on Handle. Accumulated holds the span
// content seen so far, which may end with part of the closer.
type InSpan struct {
	Kind        marker.Kind
	Handle      Handle
	Accumulated string
}

func (Idle) isMode()    {}
func (*InSpan) isMode() {}
