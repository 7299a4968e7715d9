// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/ux"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
)

// defaultServerURL is where `architect serve` listens by default.
const defaultServerURL = "http://localhost:12310"

// ErrServer is wrapped by every non-2xx response from the orchestrator.
var ErrServer = errors.New("architect server error")

// =============================================================================
// Client
// =============================================================================

// architectClient talks to the orchestrator's /v1 API.
//
// # Description
//
// Plain JSON calls share one http.Client with a timeout. Streaming calls use
// a second client without one, since a design turn runs as long as the model
// keeps producing text; they are bounded by the caller's context instead.
type architectClient struct {
	baseURL    string
	httpClient *http.Client
	streamer   *http.Client
}

// newArchitectClient creates a client for baseURL. A nil httpClient uses a
// 30 second timeout for non-streaming calls.
func newArchitectClient(baseURL string, httpClient *http.Client) *architectClient {
	if baseURL == "" {
		baseURL = defaultServerURL
	}
	streamer := httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
		streamer = &http.Client{}
	}
	return &architectClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		streamer:   streamer,
	}
}

// DesignStream runs one design turn and hands every event to callback.
//
// # Description
//
// POSTs req to /v1/design/stream and reads the SSE response until a terminal
// event. The returned transcript aggregates the turn; a turn that ended with
// an error event has Transcript.Error set and a nil error, unless callback
// itself failed.
//
// # Inputs
//
//   - ctx: Cancels the stream. The server aborts the turn when the
//     connection drops.
//   - req: The turn request.
//   - callback: Optional. Called for each event in order.
//
// # Outputs
//
//   - *ux.Transcript: The aggregated turn.
//   - error: Transport failures, non-2xx responses, or a callback error.
func (c *architectClient) DesignStream(ctx context.Context, req datatypes.DesignTurnRequest, callback ux.StreamCallback) (*ux.Transcript, error) {
	return c.stream(ctx, "/v1/design/stream", req, callback)
}

// InitModules asks the server to split the project's PRD into modules. The
// turn is accepted by the server when it completes.
func (c *architectClient) InitModules(ctx context.Context, projectKey string, req datatypes.InitModulesRequest, callback ux.StreamCallback) (*ux.Transcript, error) {
	return c.stream(ctx, "/v1/projects/"+url.PathEscape(projectKey)+"/init", req, callback)
}

// UpsertProject creates or updates a project.
func (c *architectClient) UpsertProject(ctx context.Context, req datatypes.UpsertProjectRequest) (*datatypes.ProjectResponse, error) {
	var out datatypes.ProjectResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/projects", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Project fetches a project with its current document.
func (c *architectClient) Project(ctx context.Context, projectKey string) (*datatypes.ProjectResponse, error) {
	var out datatypes.ProjectResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(projectKey), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversation fetches a conversation with its messages.
func (c *architectClient) Conversation(ctx context.Context, conversationID string) (*datatypes.ConversationResponse, error) {
	var out datatypes.ConversationResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(conversationID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Accept promotes a conversation's latest snapshot to its project.
func (c *architectClient) Accept(ctx context.Context, conversationID string) (*datatypes.AcceptResponse, error) {
	var out datatypes.AcceptResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/accept", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Transport Helpers
// =============================================================================

func (c *architectClient) stream(ctx context.Context, path string, body any, callback ux.StreamCallback) (*ux.Transcript, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamer.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	transcript := &ux.Transcript{}
	reader := ux.NewSSEStreamReader(ux.NewSSEParser())
	err = reader.Read(ctx, resp.Body, func(event ux.ChatEvent) error {
		collect(transcript, event)
		if callback != nil {
			return callback(event)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ux.ErrStreamFailed) {
		return transcript, err
	}
	return transcript, nil
}

// collect folds event into t the way ux.StreamReader.ReadAll does, so a
// callback-driven read still yields a transcript.
func collect(t *ux.Transcript, event ux.ChatEvent) {
	t.TotalEvents++
	if event.ConversationID != "" {
		t.ConversationID = event.ConversationID
	}
	if event.MessageID != "" {
		t.MessageID = event.MessageID
	}
	switch event.Event {
	case ux.EventMessage:
		t.Answer += event.Content
	case ux.EventPing:
		t.KeepAlives++
	case ux.EventResult:
		if r, err := event.DecodeResult(); err == nil {
			t.Result = r
		}
	case ux.EventError:
		t.Error = event.Content
	}
}

func (c *architectClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *architectClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// checkResponse turns a non-2xx response into an error carrying the server's
// message.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr datatypes.ErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("%w: %d %s", ErrServer, resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("%w: %d %s", ErrServer, resp.StatusCode, strings.TrimSpace(string(data)))
}
