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
)

// versionKey is the field that carries an item's version on the wire.
const versionKey = "version"

// Payload is the structured body of a design item. Values are plain JSON
// values: map[string]any, []any, string, float64, bool or nil.
type Payload map[string]any

// Clone returns a deep copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// withoutVersion returns a deep copy of p minus any version field.
func (p Payload) withoutVersion() Payload {
	out := p.Clone()
	if out == nil {
		return Payload{}
	}
	delete(out, versionKey)
	return out
}

// Canonical returns the payload as JSON with sorted keys and without the
// version field. Two payloads are equal when their canonical forms are.
func (p Payload) Canonical() ([]byte, error) {
	if p == nil {
		p = Payload{}
	}
	stripped := make(map[string]any, len(p))
	for k, v := range p {
		if k != versionKey {
			stripped[k] = v
		}
	}
	return json.Marshal(stripped)
}

// EqualContent reports whether p and other hold the same content, ignoring
// versions.
func (p Payload) EqualContent(other Payload) bool {
	a, errA := p.Canonical()
	b, errB := other.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Payload:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// Item is one versioned entry of a category.
//
// On the wire the version is a field of the payload object, so an item reads
// as {"title": "...", "version": 3}.
type Item struct {
	Version int
	Payload Payload
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	return Item{Version: it.Version, Payload: it.Payload.Clone()}
}

// MarshalJSON flattens the version into the payload object.
func (it Item) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(it.Payload)+1)
	for k, v := range it.Payload {
		m[k] = v
	}
	m[versionKey] = it.Version
	return json.Marshal(m)
}

// UnmarshalJSON reads a payload object and lifts its version field out.
// A missing or null version reads as 0.
func (it *Item) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode item: %w", err)
	}
	it.Version = 0
	if raw, ok := m[versionKey]; ok {
		switch v := raw.(type) {
		case float64:
			it.Version = int(v)
		case nil:
		default:
			return fmt.Errorf("decode item: version must be a number, got %T", raw)
		}
		delete(m, versionKey)
	}
	if m == nil {
		m = map[string]any{}
	}
	it.Payload = m
	return nil
}
