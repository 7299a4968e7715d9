// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"testing"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleQuestions = []techdoc.ConfirmItem{
	{
		ID:    "db",
		Title: "Which database?",
		Type:  techdoc.ConfirmSelect,
		Options: []techdoc.ConfirmOption{
			{Value: "pg", Title: "Postgres"},
			{Value: "mysql", Title: "mysql"},
		},
	},
	{ID: "name", Title: "Service name?", Type: techdoc.ConfirmInput, Options: []techdoc.ConfirmOption{}},
	{ID: "ttl", Title: "Cache TTL?", Type: techdoc.ConfirmInput, Options: []techdoc.ConfirmOption{}},
}

func TestConfirmAnswers_FollowUp(t *testing.T) {
	a := NewConfirmAnswers(sampleQuestions)
	require.NoError(t, a.Set("db", "pg"))
	require.NoError(t, a.Set("name", "  order-service "))

	assert.Equal(t,
		"Answers to your questions:\n- Which database?: Postgres (pg)\n- Service name?: order-service",
		a.FollowUp())
	assert.Equal(t, "pg", a.Get("db"))
	assert.Empty(t, a.Get("ttl"))
}

func TestConfirmAnswers_OptionTitleSameAsValue(t *testing.T) {
	a := NewConfirmAnswers(sampleQuestions)
	require.NoError(t, a.Set("db", "mysql"))
	assert.Equal(t, "Answers to your questions:\n- Which database?: mysql", a.FollowUp())
}

func TestConfirmAnswers_NoAnswers(t *testing.T) {
	a := NewConfirmAnswers(sampleQuestions)
	assert.Empty(t, a.FollowUp())
	assert.Error(t, a.Set("missing", "x"))
}

func TestBuildConfirmForm_BindsAnswers(t *testing.T) {
	form, answers := BuildConfirmForm(sampleQuestions)
	require.NotNil(t, form)

	// Fields write through to the answers they were bound to.
	answers.values[0] = "pg"
	assert.Equal(t, "pg", answers.Get("db"))
	assert.Len(t, answers.values, len(sampleQuestions))
}
