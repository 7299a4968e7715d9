// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tagstream

import (
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianArchitect/pkg/marker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(chunks ...string) *Recorder {
	rec := NewRecorder()
	p := New(rec)
	for _, c := range chunks {
		p.Feed(c)
	}
	p.Finish()
	return rec
}

func TestParser_NewlineNormalization(t *testing.T) {
	rec := feedAll("A\n\n\n<Aside>x</Aside>\n\n\nB")

	want := []Call{
		{Kind: CallPlain, Content: "A\n"},
		{Kind: CallBegin, Span: marker.KindAside, Handle: 1},
		{Kind: CallComplete, Span: marker.KindAside, Handle: 1, Content: "x"},
		{Kind: CallPlain, Content: "\n"},
		{Kind: CallPlain, Content: "B"},
	}
	assert.Equal(t, want, rec.Calls())
}

func TestParser_ChunkBoundaryInvariance(t *testing.T) {
	inputs := []string{
		"A\n\n\n<Aside>x</Aside>\n\n\nB",
		"intro text\n<Aside>thinking about <Patch> literally</Aside>\n\nthen\n\n\n<Patch><Module id=\"m1\" mutationType=\"Create\">{\"title\":\"x\"}</Module></Patch>\n\n<ConfirmForm><Select id=\"q1\">{\"title\":\"?\"}</Select></ConfirmForm>done",
		strings.Repeat("long prose without markers ", 6) + "<Aside>" + strings.Repeat("reason ", 40) + "</Aside>" + strings.Repeat("z", 70),
		"héllo wörld → 世界 " + strings.Repeat("ü", 40) + "\n\n\n\n<Aside>思考</Aside>\n\n尾",
		"unterminated <Patch><Module id=\"m1\" mutationType=\"Create\">{\"title\":\"x\"}",
		"<ConfirmForm>a</ConfirmForm><Aside>b</Aside><Patch>c</Patch>",
	}

	for n, input := range inputs {
		want := feedAll(input).Normalized()
		require.NotEmpty(t, want)

		for i := 1; i < len(input); i++ {
			got := feedAll(input[:i], input[i:]).Normalized()
			require.Equal(t, want, got, "input %d split at %d", n, i)
		}

		bytes := make([]string, len(input))
		for i := range input {
			bytes[i] = input[i : i+1]
		}
		assert.Equal(t, want, feedAll(bytes...).Normalized(), "input %d fed byte by byte", n)
	}
}

func TestParser_RootLevelExclusivity(t *testing.T) {
	rec := feedAll("<Aside>think <Patch>x</Patch> more</Aside>tail")

	var begins int
	for _, c := range rec.Calls() {
		if c.Kind == CallBegin {
			begins++
		}
	}
	assert.Equal(t, 1, begins)

	completed := rec.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, marker.KindAside, completed[0].Span)
	assert.Equal(t, "think <Patch>x</Patch> more", completed[0].Content)
	assert.Equal(t, "tail", rec.PlainText())
}

func TestParser_ForcedClosure(t *testing.T) {
	rec := NewRecorder()
	p := New(rec)
	p.Feed(`<Patch><Module id="m1" mutationType="Create">{"title":"x"}`)
	p.Finish()

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, CallBegin, calls[0].Kind)
	assert.Equal(t, marker.KindPatch, calls[0].Span)
	assert.Equal(t, CallForce, calls[1].Kind)
	assert.True(t, calls[1].Warning)
	assert.Equal(t, `<Module id="m1" mutationType="Create">{"title":"x"}`, calls[1].Content)
	assert.True(t, rec.Forced())
	assert.True(t, p.Closed())
}

func TestParser_CancelEmitsNothing(t *testing.T) {
	rec := NewRecorder()
	p := New(rec)
	p.Feed("<Aside>partial")
	before := len(rec.Calls())

	p.Cancel()
	p.Feed("more</Aside>")
	p.Finish()

	assert.Len(t, rec.Calls(), before)
	assert.False(t, rec.Forced())
	assert.IsType(t, Idle{}, p.Mode())
}

func TestParser_SplitOpener(t *testing.T) {
	rec := feedAll("hello <As", "ide>x</Aside>")
	calls := rec.Normalized()
	require.Len(t, calls, 3)
	assert.Equal(t, Call{Kind: CallPlain, Content: "hello "}, calls[0])
	assert.Equal(t, CallBegin, calls[1].Kind)
	assert.Equal(t, "x", calls[2].Content)
}

func TestParser_HoldbackWithholdsTail(t *testing.T) {
	rec := NewRecorder()
	p := New(rec)
	p.Feed(strings.Repeat("a", 100))

	assert.Equal(t, strings.Repeat("a", 100-marker.Holdback), rec.PlainText())

	p.Finish()
	assert.Equal(t, strings.Repeat("a", 100), rec.PlainText())
}

func TestParser_HoldbackKeepsNewlineRunTogether(t *testing.T) {
	rec := NewRecorder()
	p := New(rec)
	p.Feed("abc" + strings.Repeat("\n", 63))
	assert.Equal(t, "abc", rec.PlainText())

	p.Feed("<Aside>x</Aside>")
	p.Finish()
	assert.Equal(t, "abc\n", rec.PlainText())
}

func TestParser_NoLiveUpdatesForStructuredKinds(t *testing.T) {
	rec := feedAll("<Patch>", "abc", "def", "</Patch>", "<ConfirmForm>", "q", "</ConfirmForm>")
	for _, c := range rec.Calls() {
		assert.NotEqual(t, CallUpdate, c.Kind)
	}
	completed := rec.Completed()
	require.Len(t, completed, 2)
	assert.Equal(t, "abcdef", completed[0].Content)
	assert.Equal(t, "q", completed[1].Content)
}

func TestParser_AsideLiveUpdatesAndScrollHints(t *testing.T) {
	rec := NewRecorder()
	hints := 0
	p := New(rec, WithScrollHint(func() { hints++ }))

	p.Feed("<Aside>")
	for i := 0; i < 25; i++ {
		p.Feed(strings.Repeat("a", 10))
	}
	p.Feed("</Aside>")
	p.Finish()

	var updates []string
	for _, c := range rec.Calls() {
		if c.Kind == CallUpdate {
			updates = append(updates, c.Content)
		}
	}
	require.Len(t, updates, 25)
	assert.Equal(t, strings.Repeat("a", 250), updates[24])
	assert.Equal(t, 3, hints, "two growth hints plus one on close")
}

func TestParser_EarliestOpenerWins(t *testing.T) {
	rec := feedAll("<ConfirmForm>q</ConfirmForm><Aside>a</Aside>")
	completed := rec.Completed()
	require.Len(t, completed, 2)
	assert.Equal(t, marker.KindConfirmForm, completed[0].Span)
	assert.Equal(t, marker.KindAside, completed[1].Span)
}

func TestParser_ModeReflectsOpenSpan(t *testing.T) {
	p := New(NewRecorder())
	assert.IsType(t, Idle{}, p.Mode())

	p.Feed("<Patch>abc")
	m, ok := p.Mode().(*InSpan)
	require.True(t, ok)
	assert.Equal(t, marker.KindPatch, m.Kind)
	assert.Equal(t, "abc", m.Accumulated)
	assert.Equal(t, 1, m.Handle)
}

func TestParser_CloserSplitAcrossChunks(t *testing.T) {
	rec := feedAll("<Aside>abc</As", "ide>", "\n", "\n", "next")
	assert.Equal(t, []Call{
		{Kind: CallBegin, Span: marker.KindAside, Handle: 1},
		{Kind: CallComplete, Span: marker.KindAside, Handle: 1, Content: "abc"},
		{Kind: CallPlain, Content: "\nnext"},
	}, rec.Normalized())
}
