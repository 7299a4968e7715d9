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
	"slices"
	"strings"
)

// Category is one section of the design document.
type Category string

// Categories in canonical document order.
const (
	CategoryModule                Category = "Module"
	CategoryModuleRelationDiagram Category = "ModuleRelationDiagram"
	CategoryEnum                  Category = "Enum"
	CategoryEntity                Category = "Entity"
	CategoryEntityRelationDiagram Category = "EntityRelationDiagram"
	CategoryHttpEndpoint          Category = "HttpEndpoint"
	CategoryKafkaConsumer         Category = "KafkaConsumer"
	CategoryPublicProcedure       Category = "PublicProcedure"
	CategoryPrivateProcedure      Category = "PrivateProcedure"
	CategoryStateMachine          Category = "StateMachine"
	CategoryBackendCache          Category = "BackendCache"
	CategoryViewComponent         Category = "ViewComponent"
	CategoryPage                  Category = "Page"
)

var allCategories = []Category{
	CategoryModule,
	CategoryModuleRelationDiagram,
	CategoryEnum,
	CategoryEntity,
	CategoryEntityRelationDiagram,
	CategoryHttpEndpoint,
	CategoryKafkaConsumer,
	CategoryPublicProcedure,
	CategoryPrivateProcedure,
	CategoryStateMachine,
	CategoryBackendCache,
	CategoryViewComponent,
	CategoryPage,
}

var categoryIndex = func() map[Category]int {
	m := make(map[Category]int, len(allCategories))
	for i, c := range allCategories {
		m[c] = i
	}
	return m
}()

// Categories returns every category in canonical order. The slice is a copy.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryIndex[c]
	return ok
}

// ParseCategory resolves an element name to a category.
func ParseCategory(name string) (Category, error) {
	c := Category(strings.TrimSpace(name))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", name)
	}
	return c, nil
}

// ModuleOf returns the module prefix of an item id: everything before the
// first "/". Ids without a slash name a module themselves.
func ModuleOf(id string) string {
	if i := strings.IndexByte(id, '/'); i >= 0 {
		return id[:i]
	}
	return id
}

// sortCategories orders cs canonically in place.
func sortCategories(cs []Category) {
	slices.SortFunc(cs, func(a, b Category) int {
		return categoryIndex[a] - categoryIndex[b]
	})
}
