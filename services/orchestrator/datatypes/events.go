// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
)

// =============================================================================
// Chat Stream Events
// =============================================================================

// ChatEventType identifies one event of a design turn stream.
type ChatEventType string

const (
	ChatEventStart   ChatEventType = "start"
	ChatEventMessage ChatEventType = "message"
	ChatEventResult  ChatEventType = "result"
	ChatEventPing    ChatEventType = "ping"
	ChatEventDone    ChatEventType = "done"
	ChatEventError   ChatEventType = "error"
)

// DoneContent is the content of every done event.
const DoneContent = "[DONE]"

// ChatEvent is one event of a design turn, sent as an SSE data line and
// pushed to the project's WebSocket subscribers.
//
// # Fields
//
//   - Event: The event type.
//   - ConversationID: The conversation the turn belongs to. Empty only on
//     errors raised before a conversation exists.
//   - MessageID: The id of the assistant message being produced, as a
//     decimal string.
//   - Content: Model text for message events, "[DONE]" for done, the error
//     text for error.
//   - Data: The TurnResultData of a result event.
type ChatEvent struct {
	Event          ChatEventType   `json:"event"`
	ConversationID string          `json:"conversationId"`
	MessageID      string          `json:"messageId"`
	Content        string          `json:"content,omitempty"`
	Data           *TurnResultData `json:"data,omitempty"`
}

// TurnResultData is the payload of a result event.
type TurnResultData struct {
	AnswerMutation       techdoc.MutationSet   `json:"answerMutation"`
	ConversationMutation techdoc.MutationSet   `json:"conversationMutation"`
	NewState             techdoc.Snapshot      `json:"newState"`
	Suggestion           []techdoc.ConfirmItem `json:"suggestion"`
}

// PushMessage is what a project's WebSocket subscribers receive.
type PushMessage struct {
	Event          string          `json:"event"`
	Content        string          `json:"content,omitempty"`
	Data           *TurnResultData `json:"data,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	MessageID      string          `json:"messageId,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewPushMessage wraps a chat event for the push channel.
func NewPushMessage(ev ChatEvent, at time.Time) PushMessage {
	return PushMessage{
		Event:          string(ev.Event),
		Content:        ev.Content,
		Data:           ev.Data,
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		Timestamp:      at,
	}
}
