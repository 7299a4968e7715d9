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

import (
	"fmt"
	"sort"
)

// MutationType is the operation a mutation performs on an item.
type MutationType string

const (
	MutationCreate MutationType = "Create"
	MutationUpdate MutationType = "Update"
	MutationDelete MutationType = "Delete"
)

// Valid reports whether t is Create, Update or Delete.
func (t MutationType) Valid() bool {
	switch t {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// ParseMutationType validates a mutationType attribute value.
func ParseMutationType(s string) (MutationType, error) {
	t := MutationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown mutation type %q", s)
	}
	return t, nil
}

// MutationItem is one typed operation on an item. Data carries the payload
// and, for mutations produced by DiffSnapshots, the resulting version.
type MutationItem struct {
	Type MutationType `json:"mutationType"`
	Data Item         `json:"data"`
}

// MutationSet maps category and item id to a mutation. At most one mutation
// exists per (category, id).
type MutationSet map[Category]map[string]MutationItem

// Put records m for (c, id), replacing any earlier mutation for the same key.
func (s MutationSet) Put(c Category, id string, m MutationItem) {
	byID, ok := s[c]
	if !ok {
		byID = map[string]MutationItem{}
		s[c] = byID
	}
	byID[id] = m
}

// Get returns the mutation recorded for (c, id).
func (s MutationSet) Get(c Category, id string) (MutationItem, bool) {
	m, ok := s[c][id]
	return m, ok
}

// Len returns the number of mutations across all categories.
func (s MutationSet) Len() int {
	n := 0
	for _, byID := range s {
		n += len(byID)
	}
	return n
}

// IsEmpty reports whether the set holds no mutations.
func (s MutationSet) IsEmpty() bool {
	return s.Len() == 0
}

// Categories returns the categories with at least one mutation, in canonical
// order.
func (s MutationSet) Categories() []Category {
	out := make([]Category, 0, len(s))
	for c, byID := range s {
		if len(byID) > 0 {
			out = append(out, c)
		}
	}
	sortCategories(out)
	return out
}

// IDs returns the ids mutated in c in lexical order.
func (s MutationSet) IDs(c Category) []string {
	ids := make([]string, 0, len(s[c]))
	for id := range s[c] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CountByType tallies mutations per type.
func (s MutationSet) CountByType() map[MutationType]int {
	out := map[MutationType]int{}
	for _, byID := range s {
		for _, m := range byID {
			out[m.Type]++
		}
	}
	return out
}

// Without returns a copy of s minus every mutation of the given types, plus
// the removed mutations as a separate set.
func (s MutationSet) Without(types ...MutationType) (kept, removed MutationSet) {
	drop := make(map[MutationType]bool, len(types))
	for _, t := range types {
		drop[t] = true
	}
	kept, removed = MutationSet{}, MutationSet{}
	for c, byID := range s {
		for id, m := range byID {
			if drop[m.Type] {
				removed.Put(c, id, m)
			} else {
				kept.Put(c, id, m)
			}
		}
	}
	return kept, removed
}

// ConfirmType distinguishes the two kinds of confirmation questions.
type ConfirmType string

const (
	ConfirmSelect ConfirmType = "select"
	ConfirmInput  ConfirmType = "input"
)

// ConfirmOption is one choice of a select question.
type ConfirmOption struct {
	Value string `json:"value"`
	Title string `json:"title"`
}

// ConfirmItem is a question the model asks the user to resolve.
type ConfirmItem struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Type    ConfirmType     `json:"type"`
	Options []ConfirmOption `json:"options"`
}
