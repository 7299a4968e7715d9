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

// DiffSnapshots returns the mutations that turn before into after.
//
// Ids only in after become Create at version 1. Ids only in before become
// Delete carrying the before item. Ids in both become Update only when their
// payloads differ, ignoring versions; the Update is numbered from the before
// version plus one, where a stored version of 0 counts as 1. Categories with
// no changes are omitted, so DiffSnapshots(s, s) is empty.
func DiffSnapshots(before, after Snapshot) MutationSet {
	out := MutationSet{}
	for _, c := range allCategories {
		beforeItems := before.items[c]
		afterItems := after.items[c]

		for id, a := range afterItems {
			b, existed := beforeItems[id]
			if !existed {
				out.Put(c, id, MutationItem{
					Type: MutationCreate,
					Data: Item{Version: 1, Payload: a.Payload.withoutVersion()},
				})
				continue
			}
			if b.Payload.EqualContent(a.Payload) {
				continue
			}
			oldVersion := b.Version
			if oldVersion == 0 {
				oldVersion = 1
			}
			out.Put(c, id, MutationItem{
				Type: MutationUpdate,
				Data: Item{Version: oldVersion + 1, Payload: a.Payload.withoutVersion()},
			})
		}

		for id, b := range beforeItems {
			if _, kept := afterItems[id]; !kept {
				out.Put(c, id, MutationItem{Type: MutationDelete, Data: b.Clone()})
			}
		}
	}
	return out
}
