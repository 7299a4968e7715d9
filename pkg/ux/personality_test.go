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

	"github.com/stretchr/testify/assert"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := map[string]PersonalityLevel{
		"full":     PersonalityFull,
		"F":        PersonalityFull,
		"std":      PersonalityStandard,
		" minimal": PersonalityMinimal,
		"machine":  PersonalityMachine,
		"quiet":    PersonalityMachine,
		"bogus":    PersonalityStandard,
		"":         PersonalityStandard,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParsePersonalityLevel(in), "input %q", in)
	}
}

func TestSetPersonalityLevel_TogglesAsides(t *testing.T) {
	orig := GetPersonality()
	t.Cleanup(func() { SetPersonality(orig) })

	SetPersonalityLevel(PersonalityFull)
	assert.True(t, GetPersonality().ShowAsides)
	assert.True(t, ShouldShowProgress())

	SetPersonalityLevel(PersonalityMachine)
	assert.False(t, GetPersonality().ShowAsides)
	assert.False(t, ShouldShowProgress())
	assert.False(t, IsInteractive())
}

func TestInitPersonality_FromEnv(t *testing.T) {
	orig := GetPersonality()
	t.Cleanup(func() { SetPersonality(orig) })

	t.Setenv("ARCHITECT_PERSONALITY", "minimal")
	InitPersonality()
	assert.Equal(t, PersonalityMinimal, GetPersonality().Level)
}
