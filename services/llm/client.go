// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the chat backends the architect agent streams from.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType identifies a streaming callback event.
type StreamEventType string

const (
	// StreamEventToken carries one chunk of generated text.
	StreamEventToken StreamEventType = "token"

	// StreamEventDone is sent once after the last token.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is passed to a StreamCallback.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives streaming events in order. Returning an error
// aborts the stream and ChatStream returns that error.
type StreamCallback func(event StreamEvent) error

// ChatClient is a chat completion backend.
type ChatClient interface {
	// Chat returns the complete answer to messages.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream streams the answer to messages through callback.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}

// Backend names accepted by NewChatClient.
const (
	BackendOpenAI   = "openai"
	BackendScripted = "scripted"
)

// Config selects and configures a chat backend.
type Config struct {
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	// APIKey is normally left empty and read from OPENAI_API_KEY or
	// APIKeyFile.
	APIKey     string `yaml:"-"`
	APIKeyFile string `yaml:"api_key_file"`
	// Script is the canned answer of the scripted backend.
	Script string `yaml:"script"`
}

// DefaultSecretPath is where a container secret with the API key is mounted.
const DefaultSecretPath = "/run/secrets/openai_api_key"

// NewChatClient builds the backend named by cfg.Backend.
func NewChatClient(cfg Config) (ChatClient, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendOpenAI:
		return NewOpenAIClient(cfg)
	case BackendScripted:
		return NewScriptedClient(cfg.Script, 16), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}

// resolveAPIKey returns cfg.APIKey, then OPENAI_API_KEY, then the contents of
// the key file.
func resolveAPIKey(cfg Config) (string, error) {
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key, nil
	}
	path := cfg.APIKeyFile
	if path == "" {
		path = DefaultSecretPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("OPENAI_API_KEY not set and no key at %s", path)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", fmt.Errorf("key file %s is empty", path)
	}
	return key, nil
}
