// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
)

// ScriptedClient replays a fixed answer in fixed-size chunks. It backs
// offline demos and tests.
type ScriptedClient struct {
	Answer    string
	ChunkSize int

	// FailAfter, when positive, makes ChatStream return Err after that many
	// chunks.
	FailAfter int
	Err       error

	mu       sync.Mutex
	requests [][]datatypes.Message
}

// NewScriptedClient returns a client that streams answer in chunks of
// chunkSize bytes, never splitting a UTF-8 sequence.
func NewScriptedClient(answer string, chunkSize int) *ScriptedClient {
	if chunkSize <= 0 {
		chunkSize = 16
	}
	return &ScriptedClient{Answer: answer, ChunkSize: chunkSize}
}

// Chat implements ChatClient.
func (s *ScriptedClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	var b strings.Builder
	err := s.ChatStream(ctx, messages, params, func(ev StreamEvent) error {
		b.WriteString(ev.Content)
		return nil
	})
	return b.String(), err
}

// ChatStream implements ChatClient.
func (s *ScriptedClient) ChatStream(ctx context.Context, messages []datatypes.Message, _ GenerationParams, callback StreamCallback) error {
	s.mu.Lock()
	s.requests = append(s.requests, messages)
	s.mu.Unlock()

	for i, chunk := range chunkString(s.Answer, s.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.FailAfter > 0 && i >= s.FailAfter {
			return s.Err
		}
		if err := callback(StreamEvent{Type: StreamEventToken, Content: chunk}); err != nil {
			return err
		}
	}
	return callback(StreamEvent{Type: StreamEventDone})
}

// Requests returns the messages of every call so far.
func (s *ScriptedClient) Requests() [][]datatypes.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]datatypes.Message, len(s.requests))
	copy(out, s.requests)
	return out
}

func chunkString(s string, size int) []string {
	var out []string
	for len(s) > 0 {
		n := min(size, len(s))
		for n < len(s) && n > 0 && !isRuneStart(s[n]) {
			n--
		}
		if n == 0 {
			n = min(size, len(s))
			for n < len(s) && !isRuneStart(s[n]) {
				n++
			}
		}
		out = append(out, s[:n])
		s = s[n:]
	}
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

var _ ChatClient = (*ScriptedClient)(nil)
