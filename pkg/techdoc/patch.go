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

// ApplyPatch applies set to base and returns the resulting snapshot. base is
// not modified.
//
// Create stores the payload at version 1, replacing any existing item.
// Update stores the payload at the existing version plus one, or 1 when the
// item does not exist; the bump happens even when the payload is unchanged.
// Delete removes the item; deleting a missing item does nothing. Categories
// the set does not mention pass through unchanged.
func ApplyPatch(base Snapshot, set MutationSet) Snapshot {
	b := newSnapshotBuilder(base)
	for _, c := range set.Categories() {
		for _, id := range set.IDs(c) {
			m := set[c][id]
			switch m.Type {
			case MutationCreate:
				b.put(c, id, Item{Version: 1, Payload: m.Data.Payload.withoutVersion()})
			case MutationUpdate:
				version := 0
				if existing, ok := b.get(c, id); ok {
					version = existing.Version
				}
				b.put(c, id, Item{Version: version + 1, Payload: m.Data.Payload.withoutVersion()})
			case MutationDelete:
				b.remove(c, id)
			}
		}
	}
	return b.build()
}
