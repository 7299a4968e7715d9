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
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianArchitect/pkg/tagstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseBody(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: ")
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestStreamReader_ReadAll(t *testing.T) {
	body := sseBody(
		`{"event":"start","conversationId":"c1","messageId":"2"}`,
		`{"event":"message","conversationId":"c1","messageId":"2","content":"Hello "}`,
		`{"event":"ping","conversationId":"c1","messageId":"2"}`,
		`{"event":"message","conversationId":"c1","messageId":"2","content":"world"}`,
		`{"event":"result","conversationId":"c1","messageId":"2","data":{"answerMutation":{},"conversationMutation":{},"newState":{},"suggestion":[]}}`,
		`{"event":"done","conversationId":"c1","messageId":"2","content":"[DONE]"}`,
		`{"event":"message","conversationId":"c1","messageId":"2","content":"after done"}`,
	)

	tr, err := NewSSEStreamReader(NewSSEParser()).ReadAll(context.Background(), strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, "c1", tr.ConversationID)
	assert.Equal(t, "2", tr.MessageID)
	assert.Equal(t, "Hello world", tr.Answer)
	assert.Equal(t, 1, tr.KeepAlives)
	assert.Equal(t, 6, tr.TotalEvents)
	require.NotNil(t, tr.Result)
	assert.False(t, tr.HasError())
	assert.NotEmpty(t, tr.ID)
}

func TestStreamReader_ErrorEventCaptured(t *testing.T) {
	body := sseBody(
		`{"event":"start","conversationId":"c1","messageId":"2"}`,
		`{"event":"error","conversationId":"c1","messageId":"2","content":"model unavailable"}`,
	)

	tr, err := NewSSEStreamReader(NewSSEParser()).ReadAll(context.Background(), strings.NewReader(body))
	require.NoError(t, err)
	assert.True(t, tr.HasError())
	assert.Equal(t, "model unavailable", tr.Error)
	assert.Nil(t, tr.Result)
}

func TestStreamReader_CallbackErrorStops(t *testing.T) {
	body := sseBody(
		`{"event":"message","conversationId":"c1","messageId":"1","content":"a"}`,
		`{"event":"message","conversationId":"c1","messageId":"1","content":"b"}`,
	)
	stop := errors.New("stop")
	seen := 0

	err := NewSSEStreamReader(NewSSEParser()).Read(context.Background(), strings.NewReader(body), func(ChatEvent) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestStreamReader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := sseBody(`{"event":"message","conversationId":"c1","messageId":"1","content":"a"}`)
	err := NewSSEStreamReader(NewSSEParser()).Read(ctx, strings.NewReader(body), func(ChatEvent) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFeedParser_DrivesRenderer(t *testing.T) {
	rec := tagstream.NewRecorder()
	p := tagstream.New(rec)

	body := sseBody(
		`{"event":"start","conversationId":"c1","messageId":"1"}`,
		`{"event":"message","conversationId":"c1","messageId":"1","content":"Plan:\n<Asi"}`,
		`{"event":"message","conversationId":"c1","messageId":"1","content":"de>think</Aside>ok"}`,
		`{"event":"done","conversationId":"c1","messageId":"1","content":"[DONE]"}`,
	)

	var events []EventType
	err := NewSSEStreamReader(NewSSEParser()).Read(context.Background(), strings.NewReader(body),
		FeedParser(p, func(e ChatEvent) error {
			events = append(events, e.Event)
			return nil
		}))
	require.NoError(t, err)

	assert.True(t, p.Closed())
	assert.Equal(t, []EventType{EventStart, EventMessage, EventMessage, EventDone}, events)
	assert.Equal(t, "Plan:\nok", rec.PlainText())
	completed := rec.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, "think", completed[0].Content)
}

func TestFeedParser_ErrorCancelsOpenSpan(t *testing.T) {
	rec := tagstream.NewRecorder()
	p := tagstream.New(rec)

	body := sseBody(
		`{"event":"message","conversationId":"c1","messageId":"1","content":"<Patch><Entity"}`,
		`{"event":"error","conversationId":"c1","messageId":"1","content":"upstream closed"}`,
	)

	err := NewSSEStreamReader(NewSSEParser()).Read(context.Background(), strings.NewReader(body), FeedParser(p, nil))
	require.ErrorIs(t, err, ErrStreamFailed)
	assert.Contains(t, err.Error(), "upstream closed")
	assert.True(t, p.Closed())
	assert.False(t, rec.Forced())
	assert.Empty(t, rec.Completed())
}
