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

import "sort"

// ModuleView is every item that belongs to one module, keyed by the module
// prefix of the item ids.
type ModuleView struct {
	Name string
	// Module is the item of the Module category named Name, when present.
	Module    Item
	HasModule bool
	Members   map[Category][]string
}

// GroupByModule groups the items of s by ModuleOf(id). Views are ordered by
// module name; member ids are in lexical order.
func GroupByModule(s Snapshot) []ModuleView {
	views := map[string]*ModuleView{}
	view := func(name string) *ModuleView {
		v, ok := views[name]
		if !ok {
			v = &ModuleView{Name: name, Members: map[Category][]string{}}
			views[name] = v
		}
		return v
	}

	s.Range(func(c Category, id string, it Item) bool {
		v := view(ModuleOf(id))
		if c == CategoryModule && id == v.Name {
			v.Module = it
			v.HasModule = true
			return true
		}
		v.Members[c] = append(v.Members[c], id)
		return true
	})

	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ModuleView, 0, len(names))
	for _, name := range names {
		out = append(out, *views[name])
	}
	return out
}
