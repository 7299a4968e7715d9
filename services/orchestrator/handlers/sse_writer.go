// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ChatEventWriter writes the events of one design turn as Server-Sent Events.
//
// # Description
//
// Every event is a single "data: <json>\n\n" frame carrying a
// datatypes.ChatEvent. The writer stamps the conversation and message ids
// given to WriteStart on every later event, so callers only pass payloads.
// A turn emits start, zero or more message and ping events, then either
// result followed by done, or error.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The keep-alive ticker
// writes from its own goroutine while tokens stream.
type ChatEventWriter interface {
	// WriteStart opens the turn and fixes its ids.
	WriteStart(conversationID, messageID string) error

	// WriteMessage writes one chunk of model text.
	WriteMessage(content string) error

	// WriteResult writes what the turn changed.
	WriteResult(result *datatypes.TurnResultData) error

	// WriteDone ends a successful turn with the "[DONE]" content.
	WriteDone() error

	// WriteError ends a failed turn. errMsg must already be sanitized.
	WriteError(errMsg string) error

	// WriteKeepAlive writes a ping event so idle proxies keep the
	// connection open while the model thinks.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// chatEventWriter implements ChatEventWriter on an http.ResponseWriter.
//
// # Fields
//
//   - writer, flusher: The response and its flusher.
//   - publish: Optional. Receives every event after it is written, for
//     the project's push channel. Keep-alives are not published.
//   - conversationID, messageID: Set by WriteStart.
//   - mu: Serializes frames.
type chatEventWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	publish func(datatypes.ChatEvent)

	conversationID string
	messageID      string
	mu             sync.Mutex
}

var _ ChatEventWriter = (*chatEventWriter)(nil)

// =============================================================================
// Constructor
// =============================================================================

// NewChatEventWriter creates a ChatEventWriter for w.
//
// # Inputs
//
//   - w: The response. Must implement http.Flusher.
//   - publish: Optional fan-out for every non-ping event. May be nil.
//
// # Outputs
//
//   - ChatEventWriter: Ready to write. Headers must already be set.
//   - error: Non-nil if w cannot flush.
func NewChatEventWriter(w http.ResponseWriter, publish func(datatypes.ChatEvent)) (ChatEventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &chatEventWriter{writer: w, flusher: flusher, publish: publish}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *chatEventWriter) WriteStart(conversationID, messageID string) error {
	w.mu.Lock()
	w.conversationID = conversationID
	w.messageID = messageID
	w.mu.Unlock()
	return w.write(datatypes.ChatEvent{Event: datatypes.ChatEventStart})
}

func (w *chatEventWriter) WriteMessage(content string) error {
	return w.write(datatypes.ChatEvent{Event: datatypes.ChatEventMessage, Content: content})
}

func (w *chatEventWriter) WriteResult(result *datatypes.TurnResultData) error {
	return w.write(datatypes.ChatEvent{Event: datatypes.ChatEventResult, Data: result})
}

func (w *chatEventWriter) WriteDone() error {
	return w.write(datatypes.ChatEvent{Event: datatypes.ChatEventDone, Content: datatypes.DoneContent})
}

func (w *chatEventWriter) WriteError(errMsg string) error {
	return w.write(datatypes.ChatEvent{Event: datatypes.ChatEventError, Content: errMsg})
}

func (w *chatEventWriter) WriteKeepAlive() error {
	return w.write(datatypes.ChatEvent{Event: datatypes.ChatEventPing})
}

// write stamps ids on ev, writes one frame and flushes. The publish hook
// runs outside the lock.
func (w *chatEventWriter) write(ev datatypes.ChatEvent) error {
	w.mu.Lock()
	ev.ConversationID = w.conversationID
	ev.MessageID = w.messageID

	data, err := json.Marshal(ev)
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err = fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to write event: %w", err)
	}
	w.flusher.Flush()
	w.mu.Unlock()

	if w.publish != nil && ev.Event != datatypes.ChatEventPing {
		w.publish(ev)
	}
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders sets the headers of an event stream response. Call before
// the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
