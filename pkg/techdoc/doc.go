// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package techdoc holds the technical design document model and the two pure
// engines that operate on it.
//
// A design document is a Snapshot: for every Category, a map from item id to
// a versioned Item. Snapshots are values; nothing in this package mutates one
// in place.
//
// ApplyPatch applies a MutationSet extracted from a model answer and produces
// the next authoritative snapshot. DiffSnapshots explains the difference
// between two snapshots as a MutationSet for display.
//
// # Version semantics
//
// The two engines number versions differently and callers must not compare
// them. ApplyPatch bumps the version of every Update it applies, even when the
// payload is unchanged. DiffSnapshots reports an Update only when the payload
// changed, and numbers it from the before snapshot.
package techdoc
