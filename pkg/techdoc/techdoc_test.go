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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSnapshot(t *testing.T, items map[Category]map[string]Item) Snapshot {
	t.Helper()
	s, err := NewSnapshot(items)
	require.NoError(t, err)
	return s
}

func TestCategories_CanonicalOrder(t *testing.T) {
	cats := Categories()
	require.Len(t, cats, 13)
	assert.Equal(t, CategoryModule, cats[0])
	assert.Equal(t, CategoryPage, cats[len(cats)-1])

	cats[0] = "Mutated"
	assert.Equal(t, CategoryModule, Categories()[0], "Categories must return a copy")
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" HttpEndpoint ")
	require.NoError(t, err)
	assert.Equal(t, CategoryHttpEndpoint, c)

	_, err = ParseCategory("BusinessFlow")
	assert.Error(t, err)
}

func TestModuleOf(t *testing.T) {
	assert.Equal(t, "order", ModuleOf("order/createOrder"))
	assert.Equal(t, "order", ModuleOf("order"))
	assert.Equal(t, "", ModuleOf("/x"))
}

func TestEmptySnapshot_AllCategoriesPresent(t *testing.T) {
	s := EmptySnapshot()
	assert.Equal(t, Categories(), s.Categories())
	assert.Equal(t, 0, s.Len())

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 13)
	assert.Empty(t, decoded["Module"])
}

func TestItem_JSONFlattensVersion(t *testing.T) {
	it := Item{Version: 3, Payload: Payload{"title": "Orders"}}
	data, err := json.Marshal(it)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Orders","version":3}`, string(data))

	var back Item
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 3, back.Version)
	assert.Equal(t, Payload{"title": "Orders"}, back.Payload)

	require.NoError(t, json.Unmarshal([]byte(`{"title":"x","version":null}`), &back))
	assert.Equal(t, 0, back.Version)

	assert.Error(t, json.Unmarshal([]byte(`{"version":"two"}`), &back))
}

func TestSnapshot_UnmarshalRejectsUnknownCategory(t *testing.T) {
	var s Snapshot
	err := json.Unmarshal([]byte(`{"Nope":{"a":{"version":1}}}`), &s)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"Module":{"m1":{"title":"x","version":2}}}`), &s))
	it, ok := s.Get(CategoryModule, "m1")
	require.True(t, ok)
	assert.Equal(t, 2, it.Version)
	assert.Equal(t, 13, len(s.Categories()))
}

func TestSnapshot_GetReturnsCopy(t *testing.T) {
	s := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule: {"m1": {Version: 1, Payload: Payload{"tags": []any{"a"}}}},
	})
	it, _ := s.Get(CategoryModule, "m1")
	it.Payload["tags"].([]any)[0] = "changed"
	it.Payload["title"] = "changed"

	again, _ := s.Get(CategoryModule, "m1")
	assert.Equal(t, Payload{"tags": []any{"a"}}, again.Payload)
}

func TestApplyPatch_CreateUpdateDelete(t *testing.T) {
	base := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule: {
			"order": {Version: 2, Payload: Payload{"title": "Order"}},
			"user":  {Version: 1, Payload: Payload{"title": "User"}},
		},
		CategoryEnum: {"order/status": {Version: 1, Payload: Payload{"values": []any{"NEW"}}}},
	})

	set := MutationSet{}
	set.Put(CategoryModule, "order", MutationItem{Type: MutationUpdate, Data: Item{Payload: Payload{"title": "Orders"}}})
	set.Put(CategoryModule, "user", MutationItem{Type: MutationDelete})
	set.Put(CategoryModule, "pay", MutationItem{Type: MutationCreate, Data: Item{Version: 9, Payload: Payload{"title": "Pay", "version": 7.0}}})
	set.Put(CategoryHttpEndpoint, "pay/charge", MutationItem{Type: MutationUpdate, Data: Item{Payload: Payload{"path": "/charge"}}})
	set.Put(CategoryEntity, "ghost", MutationItem{Type: MutationDelete})

	next := ApplyPatch(base, set)

	order, ok := next.Get(CategoryModule, "order")
	require.True(t, ok)
	assert.Equal(t, 3, order.Version)
	assert.Equal(t, Payload{"title": "Orders"}, order.Payload)

	assert.False(t, next.Has(CategoryModule, "user"))

	pay, ok := next.Get(CategoryModule, "pay")
	require.True(t, ok)
	assert.Equal(t, 1, pay.Version)
	assert.Equal(t, Payload{"title": "Pay"}, pay.Payload)

	charge, ok := next.Get(CategoryHttpEndpoint, "pay/charge")
	require.True(t, ok)
	assert.Equal(t, 1, charge.Version, "update of a missing item starts from 0")

	enum, ok := next.Get(CategoryEnum, "order/status")
	require.True(t, ok)
	assert.Equal(t, 1, enum.Version)

	// base untouched
	baseOrder, _ := base.Get(CategoryModule, "order")
	assert.Equal(t, 2, baseOrder.Version)
	assert.True(t, base.Has(CategoryModule, "user"))
	assert.False(t, base.Has(CategoryModule, "pay"))
}

func TestApplyPatch_UpdateAlwaysBumpsVersion(t *testing.T) {
	base := mustSnapshot(t, map[Category]map[string]Item{
		CategoryEntity: {"order/Order": {Version: 1, Payload: Payload{"title": "Order"}}},
	})
	set := MutationSet{}
	set.Put(CategoryEntity, "order/Order", MutationItem{Type: MutationUpdate, Data: Item{Payload: Payload{"title": "Order"}}})

	once := ApplyPatch(base, set)
	twice := ApplyPatch(once, set)

	it, _ := once.Get(CategoryEntity, "order/Order")
	assert.Equal(t, 2, it.Version)
	it, _ = twice.Get(CategoryEntity, "order/Order")
	assert.Equal(t, 3, it.Version)
}

func TestDiffSnapshots_IdenticalIsEmpty(t *testing.T) {
	s := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule: {"order": {Version: 4, Payload: Payload{"title": "Order", "deps": []any{"user"}}}},
		CategoryPage:   {"order/list": {Version: 1, Payload: Payload{"route": "/orders"}}},
	})
	assert.True(t, DiffSnapshots(s, s).IsEmpty())
	assert.True(t, DiffSnapshots(EmptySnapshot(), EmptySnapshot()).IsEmpty())
}

func TestDiffSnapshots_IgnoresVersionOnlyChanges(t *testing.T) {
	before := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule: {"order": {Version: 1, Payload: Payload{"title": "Order"}}},
	})
	after := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule: {"order": {Version: 5, Payload: Payload{"title": "Order"}}},
	})
	assert.True(t, DiffSnapshots(before, after).IsEmpty())
}

func TestDiffSnapshots_Kinds(t *testing.T) {
	before := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule: {
			"order":  {Version: 2, Payload: Payload{"title": "Order"}},
			"user":   {Version: 1, Payload: Payload{"title": "User"}},
			"legacy": {Version: 0, Payload: Payload{"title": "Legacy"}},
		},
	})
	after := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule: {
			"order":  {Version: 7, Payload: Payload{"title": "Orders"}},
			"legacy": {Version: 0, Payload: Payload{"title": "Legacy v2"}},
			"pay":    {Version: 3, Payload: Payload{"title": "Pay"}},
		},
	})

	diff := DiffSnapshots(before, after)
	assert.Equal(t, []Category{CategoryModule}, diff.Categories())
	assert.Equal(t, 4, diff.Len())

	m, _ := diff.Get(CategoryModule, "order")
	assert.Equal(t, MutationUpdate, m.Type)
	assert.Equal(t, 3, m.Data.Version)

	m, _ = diff.Get(CategoryModule, "legacy")
	assert.Equal(t, MutationUpdate, m.Type)
	assert.Equal(t, 2, m.Data.Version, "stored version 0 counts as 1")

	m, _ = diff.Get(CategoryModule, "pay")
	assert.Equal(t, MutationCreate, m.Type)
	assert.Equal(t, 1, m.Data.Version)

	m, _ = diff.Get(CategoryModule, "user")
	assert.Equal(t, MutationDelete, m.Type)
	assert.Equal(t, Payload{"title": "User"}, m.Data.Payload)
	assert.Equal(t, 1, m.Data.Version)
}

func TestApplyPatch_DiffRoundTrip(t *testing.T) {
	before := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule:       {"order": {Version: 2, Payload: Payload{"title": "Order"}}, "user": {Version: 1, Payload: Payload{"title": "User"}}},
		CategoryHttpEndpoint: {"order/create": {Version: 1, Payload: Payload{"method": "POST", "path": "/orders"}}},
	})
	after := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule:       {"order": {Version: 3, Payload: Payload{"title": "Orders"}}},
		CategoryHttpEndpoint: {"order/create": {Version: 1, Payload: Payload{"method": "POST", "path": "/orders"}}},
		CategoryPage:         {"order/list": {Version: 1, Payload: Payload{"route": "/orders", "widgets": []any{"table", 2.0}}}},
	})

	got := ApplyPatch(before, DiffSnapshots(before, after))

	for _, c := range Categories() {
		assert.Equal(t, after.IDs(c), got.IDs(c), "ids of %s", c)
		for _, id := range after.IDs(c) {
			want, _ := after.Get(c, id)
			have, _ := got.Get(c, id)
			assert.True(t, want.Payload.EqualContent(have.Payload), "%s/%s", c, id)
		}
	}
}

func TestMutationSet_WithoutAndCounts(t *testing.T) {
	set := MutationSet{}
	set.Put(CategoryModule, "a", MutationItem{Type: MutationCreate})
	set.Put(CategoryModule, "b", MutationItem{Type: MutationDelete})
	set.Put(CategoryEnum, "a/e", MutationItem{Type: MutationUpdate})

	assert.Equal(t, map[MutationType]int{MutationCreate: 1, MutationDelete: 1, MutationUpdate: 1}, set.CountByType())

	kept, removed := set.Without(MutationDelete)
	assert.Equal(t, 2, kept.Len())
	assert.Equal(t, 1, removed.Len())
	_, ok := removed.Get(CategoryModule, "b")
	assert.True(t, ok)
	assert.Equal(t, 3, set.Len(), "original set unchanged")
}

func TestMutationItem_JSON(t *testing.T) {
	m := MutationItem{Type: MutationUpdate, Data: Item{Version: 2, Payload: Payload{"title": "x"}}}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mutationType":"Update","data":{"title":"x","version":2}}`, string(data))
}

func TestGroupByModule(t *testing.T) {
	s := mustSnapshot(t, map[Category]map[string]Item{
		CategoryModule:          {"order": {Version: 1, Payload: Payload{"title": "Order"}}},
		CategoryPublicProcedure: {"order/create": {Version: 1}, "order/cancel": {Version: 1}, "user/login": {Version: 1}},
	})

	views := GroupByModule(s)
	require.Len(t, views, 2)

	assert.Equal(t, "order", views[0].Name)
	assert.True(t, views[0].HasModule)
	assert.Equal(t, "Order", Title(views[0].Module.Payload))
	assert.Equal(t, []string{"order/cancel", "order/create"}, views[0].Members[CategoryPublicProcedure])

	assert.Equal(t, "user", views[1].Name)
	assert.False(t, views[1].HasModule)
	assert.Equal(t, []string{"user/login"}, views[1].Members[CategoryPublicProcedure])
}

func TestSummarize(t *testing.T) {
	set := MutationSet{}
	set.Put(CategoryPage, "order/list", MutationItem{Type: MutationCreate, Data: Item{Version: 1, Payload: Payload{"name": "Order list"}}})
	set.Put(CategoryModule, "order", MutationItem{Type: MutationDelete, Data: Item{Version: 4}})

	lines := Summarize(set)
	require.Len(t, lines, 2)
	assert.Equal(t, "Delete Module order", lines[0].String())
	assert.Equal(t, "Create Page order/list v1 (Order list)", lines[1].String())
}
