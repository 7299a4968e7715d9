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
	"encoding/json"
	"fmt"
	"sort"
)

// Snapshot is an immutable copy of the whole design document.
//
// The zero value is a valid snapshot with no categories. Use EmptySnapshot
// for a document with every category present and empty.
type Snapshot struct {
	items map[Category]map[string]Item
}

// EmptySnapshot returns a document with every category present and empty.
func EmptySnapshot() Snapshot {
	items := make(map[Category]map[string]Item, len(allCategories))
	for _, c := range allCategories {
		items[c] = map[string]Item{}
	}
	return Snapshot{items: items}
}

// NewSnapshot builds a snapshot from raw items. Every category is present in
// the result. The input is deep-copied.
func NewSnapshot(items map[Category]map[string]Item) (Snapshot, error) {
	s := EmptySnapshot()
	for c, byID := range items {
		if !c.Valid() {
			return Snapshot{}, fmt.Errorf("unknown category %q", c)
		}
		for id, it := range byID {
			if id == "" {
				return Snapshot{}, fmt.Errorf("empty item id in %s", c)
			}
			s.items[c][id] = it.Clone()
		}
	}
	return s, nil
}

// Get returns a copy of the item stored under (c, id).
func (s Snapshot) Get(c Category, id string) (Item, bool) {
	it, ok := s.items[c][id]
	if !ok {
		return Item{}, false
	}
	return it.Clone(), true
}

// Has reports whether (c, id) exists.
func (s Snapshot) Has(c Category, id string) bool {
	_, ok := s.items[c][id]
	return ok
}

// IDs returns the item ids of c in lexical order.
func (s Snapshot) IDs(c Category) []string {
	byID := s.items[c]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Categories returns the categories present in s in canonical order.
func (s Snapshot) Categories() []Category {
	out := make([]Category, 0, len(s.items))
	for c := range s.items {
		out = append(out, c)
	}
	sortCategories(out)
	return out
}

// Len returns the total number of items across all categories.
func (s Snapshot) Len() int {
	n := 0
	for _, byID := range s.items {
		n += len(byID)
	}
	return n
}

// CategoryLen returns the number of items in c.
func (s Snapshot) CategoryLen(c Category) int {
	return len(s.items[c])
}

// Range calls fn for every item in canonical category order and lexical id
// order. It stops when fn returns false. Items passed to fn are copies.
func (s Snapshot) Range(fn func(c Category, id string, it Item) bool) {
	for _, c := range s.Categories() {
		for _, id := range s.IDs(c) {
			if !fn(c, id, s.items[c][id].Clone()) {
				return
			}
		}
	}
}

// Equal reports whether both snapshots hold the same items with the same
// versions and content.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.Len() != other.Len() {
		return false
	}
	for c, byID := range s.items {
		for id, it := range byID {
			o, ok := other.items[c][id]
			if !ok || o.Version != it.Version || !it.Payload.EqualContent(o.Payload) {
				return false
			}
		}
	}
	return true
}

// MarshalJSON encodes the snapshot as {category: {id: item}}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[Category]map[string]Item, len(s.items))
	for c, byID := range s.items {
		out[c] = byID
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes {category: {id: item}}. Unknown categories are
// rejected; missing ones are added empty.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[Category]map[string]Item
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	decoded, err := NewSnapshot(raw)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	*s = decoded
	return nil
}

// snapshotBuilder produces a new snapshot from a base without touching it.
// Category maps are copied on first write; untouched items are shared, which
// is safe because items are never mutated once stored.
type snapshotBuilder struct {
	items  map[Category]map[string]Item
	copied map[Category]bool
}

func newSnapshotBuilder(base Snapshot) *snapshotBuilder {
	items := make(map[Category]map[string]Item, len(base.items))
	for c, byID := range base.items {
		items[c] = byID
	}
	return &snapshotBuilder{items: items, copied: map[Category]bool{}}
}

func (b *snapshotBuilder) category(c Category) map[string]Item {
	if !b.copied[c] {
		src := b.items[c]
		dst := make(map[string]Item, len(src)+1)
		for id, it := range src {
			dst[id] = it
		}
		b.items[c] = dst
		b.copied[c] = true
	}
	return b.items[c]
}

func (b *snapshotBuilder) get(c Category, id string) (Item, bool) {
	it, ok := b.items[c][id]
	return it, ok
}

func (b *snapshotBuilder) put(c Category, id string, it Item) {
	b.category(c)[id] = it
}

func (b *snapshotBuilder) remove(c Category, id string) {
	if _, ok := b.items[c][id]; !ok {
		return
	}
	delete(b.category(c), id)
}

func (b *snapshotBuilder) build() Snapshot {
	return Snapshot{items: b.items}
}
