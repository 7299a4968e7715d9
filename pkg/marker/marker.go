// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package marker defines the span markers the architect model embeds in its
// streamed answers.
//
// Three kinds exist. Markers never carry attributes and never nest:
//
//	<Aside>...</Aside>              reasoning shown live while it streams
//	<Patch>...</Patch>              design document mutations
//	<ConfirmForm>...</ConfirmForm>  open questions for the user
package marker

import "fmt"

// Kind identifies a marker.
type Kind int

const (
	// KindAside wraps reasoning text.
	KindAside Kind = iota
	// KindPatch wraps category elements describing mutations.
	KindPatch
	// KindConfirmForm wraps Select and Input elements.
	KindConfirmForm
)

// Holdback is the number of trailing characters an idle parser keeps back so
// that an opener split across two chunks is still detected.
const Holdback = 50

// Element names used inside a ConfirmForm span.
const (
	SelectElement = "Select"
	InputElement  = "Input"
)

var names = [...]string{
	KindAside:       "Aside",
	KindPatch:       "Patch",
	KindConfirmForm: "ConfirmForm",
}

// Kinds returns every kind in detection priority order.
func Kinds() []Kind {
	return []Kind{KindAside, KindPatch, KindConfirmForm}
}

// String returns the element name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(names) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return names[k]
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindAside && k <= KindConfirmForm
}

// Open returns the literal opener, e.g. "<Aside>".
func (k Kind) Open() string {
	return "<" + k.String() + ">"
}

// Close returns the literal closer, e.g. "</Aside>".
func (k Kind) Close() string {
	return "</" + k.String() + ">"
}

// RootOnly reports whether the kind may only open when no other span is open.
// Aside is checked first and at any level; Patch and ConfirmForm are root only.
func (k Kind) RootOnly() bool {
	return k == KindPatch || k == KindConfirmForm
}

// LiveUpdates reports whether partial content of an open span of this kind is
// shown before the span closes. Patch and ConfirmForm bodies are structured and
// are only rendered once complete.
func (k Kind) LiveUpdates() bool {
	return k == KindAside
}

// MaxOpenerLen returns the length of the longest opener.
func MaxOpenerLen() int {
	n := 0
	for _, k := range Kinds() {
		if l := len(k.Open()); l > n {
			n = l
		}
	}
	return n
}

// ParseKind resolves an element name to a kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}
