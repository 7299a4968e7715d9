// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package techdoc

import "fmt"

// ChangeLine is a one-line description of a mutation.
type ChangeLine struct {
	Category Category
	ID       string
	Type     MutationType
	Version  int
	Title    string
}

// String renders the line as "Update HttpEndpoint order/create v3 (Create order)".
func (l ChangeLine) String() string {
	s := fmt.Sprintf("%s %s %s", l.Type, l.Category, l.ID)
	if l.Type != MutationDelete && l.Version > 0 {
		s += fmt.Sprintf(" v%d", l.Version)
	}
	if l.Title != "" {
		s += " (" + l.Title + ")"
	}
	return s
}

// Summarize lists the mutations of set in canonical category order and
// lexical id order.
func Summarize(set MutationSet) []ChangeLine {
	lines := make([]ChangeLine, 0, set.Len())
	for _, c := range set.Categories() {
		for _, id := range set.IDs(c) {
			m := set[c][id]
			lines = append(lines, ChangeLine{
				Category: c,
				ID:       id,
				Type:     m.Type,
				Version:  m.Data.Version,
				Title:    Title(m.Data.Payload),
			})
		}
	}
	return lines
}

// Title returns the display title of a payload: its "title" field, falling
// back to "name".
func Title(p Payload) string {
	for _, key := range []string{"title", "name"} {
		if s, ok := p[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
