// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingID is reported for an element without an id attribute.
	ErrMissingID = errors.New("element has no id")

	// ErrUnknownElement is reported for an element that is not a known
	// category or question kind.
	ErrUnknownElement = errors.New("unknown element")

	// ErrUnterminated is reported for an element whose closing tag is missing.
	ErrUnterminated = errors.New("element is not terminated")

	// ErrNotObject is returned by ParseLiteral when the literal is valid data
	// but not an object.
	ErrNotObject = errors.New("payload literal is not an object")
)

// ElementError describes a problem with one element of a span.
type ElementError struct {
	Element string
	ID      string
	Err     error
}

func (e *ElementError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("<%s id=%q>: %v", e.Element, e.ID, e.Err)
	}
	return fmt.Sprintf("<%s>: %v", e.Element, e.Err)
}

func (e *ElementError) Unwrap() error {
	return e.Err
}

// LiteralError is returned when a payload literal cannot be parsed.
type LiteralError struct {
	Text string
	Err  error
}

func (e *LiteralError) Error() string {
	return fmt.Sprintf("invalid payload literal %q: %v", truncate(e.Text, 60), e.Err)
}

func (e *LiteralError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
