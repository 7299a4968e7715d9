// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the stream reader that consumes a design turn's SSE body
// and emits parsed ChatEvents via callbacks.
//
// Readers handle I/O and event sequencing. They use parsers to convert bytes
// to events, but do not render output.
package ux

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/tagstream"
	"github.com/google/uuid"
)

// maxEventLine bounds a single SSE line. Result events carry the full
// document and can be large.
const maxEventLine = 16 << 20

// StreamCallback is invoked for each parsed event. Returning an error stops
// the read.
type StreamCallback func(event ChatEvent) error

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamReader reads design turn streams and invokes callbacks.
//
// Thread Safety:
//
//	A single Read/ReadAll operation should not be called concurrently on the
//	same reader instance.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser())
//	err := reader.Read(ctx, resp.Body, func(event ChatEvent) error {
//	    if event.Event == EventMessage {
//	        fmt.Print(event.Content)
//	    }
//	    return nil
//	})
type StreamReader interface {
	// Read processes a stream, invoking callback for each event.
	//
	// The stream is considered complete when EOF is reached, a terminal
	// event (done/error) is received, the context is cancelled, or the
	// callback returns an error.
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll reads the entire stream and returns the aggregated transcript.
	//
	// If the stream ends with an error event, the error text is captured in
	// Transcript.Error and ReadAll returns a nil error.
	ReadAll(ctx context.Context, r io.Reader) (*Transcript, error)
}

// Transcript aggregates one design turn as seen by the client.
type Transcript struct {
	ID             string
	ConversationID string
	MessageID      string
	Answer         string
	Result         *TurnResult
	Error          string
	TotalEvents    int
	KeepAlives     int
	StartedAt      int64
	CompletedAt    int64
}

// HasError returns true if the turn ended with an error event.
func (t *Transcript) HasError() bool {
	return t.Error != ""
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

// sseStreamReader implements StreamReader for Server-Sent Events.
type sseStreamReader struct {
	parser SSEParser
}

// NewSSEStreamReader creates a new SSE stream reader.
func NewSSEStreamReader(parser SSEParser) StreamReader {
	return &sseStreamReader{
		parser: parser,
	}
}

// Read processes an SSE stream, invoking callback for each event.
func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := r.parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}

		if err := callback(*event); err != nil {
			return err
		}
		if event.Event.IsTerminal() {
			return nil
		}
	}
	return scanner.Err()
}

// ReadAll reads the entire stream and returns the aggregated transcript.
func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) (*Transcript, error) {
	t := &Transcript{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UnixMilli(),
	}

	var answer strings.Builder
	err := r.Read(ctx, reader, func(event ChatEvent) error {
		t.TotalEvents++
		if t.ConversationID == "" {
			t.ConversationID = event.ConversationID
		}
		if t.MessageID == "" {
			t.MessageID = event.MessageID
		}

		switch event.Event {
		case EventMessage:
			answer.WriteString(event.Content)
		case EventPing:
			t.KeepAlives++
		case EventResult:
			res, err := event.DecodeResult()
			if err != nil {
				return err
			}
			t.Result = res
		case EventError:
			t.Error = event.Content
		}
		return nil
	})

	t.Answer = answer.String()
	t.CompletedAt = time.Now().UnixMilli()
	return t, err
}

// =============================================================================
// Parser Bridge
// =============================================================================

// ErrStreamFailed is returned by FeedParser's callback when the server ends
// the turn with an error event.
var ErrStreamFailed = errors.New("design stream failed")

// FeedParser returns a callback that drives p with the message events of a
// stream. The parser is finished on done and cancelled on error, so a turn
// that fails mid-span leaves no forced closure behind.
func FeedParser(p *tagstream.Parser, next StreamCallback) StreamCallback {
	return func(event ChatEvent) error {
		switch event.Event {
		case EventMessage:
			p.Feed(event.Content)
		case EventResult, EventDone:
			p.Finish()
		case EventError:
			p.Cancel()
		}
		if next != nil {
			if err := next(event); err != nil {
				return err
			}
		}
		if event.Event == EventError {
			return errors.Join(ErrStreamFailed, errors.New(event.Content))
		}
		return nil
	}
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamReader = (*sseStreamReader)(nil)
