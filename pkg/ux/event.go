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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
)

// =============================================================================
// Chat Event Types
// =============================================================================

// EventType identifies a chat stream event.
type EventType string

const (
	// EventStart opens a turn and carries the conversation and message ids.
	EventStart EventType = "start"

	// EventMessage carries one chunk of model text in Content.
	EventMessage EventType = "message"

	// EventResult carries the TurnResult in Data.
	EventResult EventType = "result"

	// EventPing is a keep-alive with no payload.
	EventPing EventType = "ping"

	// EventDone ends a successful turn. Content is "[DONE]".
	EventDone EventType = "done"

	// EventError ends a failed turn. Content is the error text.
	EventError EventType = "error"
)

// IsTerminal returns true for events after which the server sends nothing.
func (t EventType) IsTerminal() bool {
	return t == EventDone || t == EventError
}

// ChatEvent is one event of a design turn stream as the server sends it.
type ChatEvent struct {
	Event          EventType       `json:"event"`
	ConversationID string          `json:"conversationId"`
	MessageID      string          `json:"messageId"`
	Content        string          `json:"content,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// TurnResult is the payload of a result event.
type TurnResult struct {
	// AnswerMutation is what this answer changed.
	AnswerMutation techdoc.MutationSet `json:"answerMutation"`

	// ConversationMutation is the whole conversation's change relative to its
	// base snapshot.
	ConversationMutation techdoc.MutationSet `json:"conversationMutation"`

	// NewState is the document after the answer was applied.
	NewState techdoc.Snapshot `json:"newState"`

	// Suggestion holds the questions from the answer's ConfirmForm.
	Suggestion []techdoc.ConfirmItem `json:"suggestion"`
}

// DecodeResult decodes the Data of a result event.
func (e ChatEvent) DecodeResult() (*TurnResult, error) {
	if e.Event != EventResult {
		return nil, fmt.Errorf("event %q carries no result", e.Event)
	}
	var r TurnResult
	if err := json.Unmarshal(e.Data, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}
