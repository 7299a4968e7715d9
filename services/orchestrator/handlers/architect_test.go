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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/services/llm"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/lineage"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianArchitect/services/storage/badger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const designAnswer = `Adding the order entity.
<Patch>
<Entity id="orders/Order" mutationType="Create">{"title": "Order"}</Entity>
</Patch>
<ConfirmForm>
<Select id="q1">{"title": "Which database?", "options": ["pg", "mysql"]}</Select>
</ConfirmForm>`

const initAnswer = `Two modules.
<Patch>
<Module id="orders" mutationType="Create">{"title": "Orders"}</Module>
<Module id="billing" mutationType="Create">{"title": "Billing"}</Module>
</Patch>`

type testEnv struct {
	manager *lineage.Manager
	client  *llm.ScriptedClient
	hub     *PushHub
	metrics *observability.ArchitectMetrics
	router  *gin.Engine
}

func newTestEnv(t *testing.T, answer string) *testEnv {
	t.Helper()
	store, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		manager: lineage.NewManager(store),
		client:  llm.NewScriptedClient(answer, 8),
		hub:     NewPushHub(nil),
		metrics: observability.NewArchitectMetrics(prometheus.NewRegistry()),
	}
	h := NewArchitectHandler(env.manager, agent.New(env.client), env.hub,
		WithHandlerMetrics(env.metrics))

	r := gin.New()
	r.GET("/health", h.HandleHealth)
	v1 := r.Group("/v1")
	v1.POST("/projects", h.HandleUpsertProject)
	v1.GET("/projects/:projectKey", h.HandleProjectDetail)
	v1.POST("/projects/:projectKey/init", h.HandleInitModules)
	v1.PUT("/projects/:projectKey/document", h.HandleReplaceDocument)
	v1.GET("/projects/:projectKey/ws", env.hub.HandlePush)
	v1.GET("/projects/:projectKey/ws/stats", h.HandlePushStats)
	v1.POST("/design/stream", h.HandleDesignStream)
	v1.POST("/conversations/:conversationId/accept", h.HandleAccept)
	v1.GET("/conversations/:conversationId", h.HandleConversationDetail)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upsert(t *testing.T, key string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/projects", datatypes.UpsertProjectRequest{
		ProjectKey: key,
		SourcePRD:  "A shop that sells things.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// parseEvents decodes every data line of an event stream body.
func parseEvents(t *testing.T, body string) []datatypes.ChatEvent {
	t.Helper()
	var events []datatypes.ChatEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev datatypes.ChatEvent
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func eventTypes(events []datatypes.ChatEvent) []datatypes.ChatEventType {
	out := make([]datatypes.ChatEventType, 0, len(events))
	for _, ev := range events {
		if ev.Event == datatypes.ChatEventMessage {
			if len(out) > 0 && out[len(out)-1] == datatypes.ChatEventMessage {
				continue
			}
		}
		out = append(out, ev.Event)
	}
	return out
}

func messageText(events []datatypes.ChatEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Event == datatypes.ChatEventMessage {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

// =============================================================================
// Design Stream Tests
// =============================================================================

func TestHandleDesignStream_StreamsAndCommits(t *testing.T) {
	env := newTestEnv(t, designAnswer)
	env.upsert(t, "shop")

	w := env.do(t, http.MethodPost, "/v1/design/stream", datatypes.DesignTurnRequest{
		ProjectKey: "shop",
		Command:    "add an order entity",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseEvents(t, w.Body.String())
	assert.Equal(t, []datatypes.ChatEventType{
		datatypes.ChatEventStart,
		datatypes.ChatEventMessage,
		datatypes.ChatEventResult,
		datatypes.ChatEventDone,
	}, eventTypes(events))
	assert.Equal(t, designAnswer, messageText(events))

	start := events[0]
	require.NotEmpty(t, start.ConversationID)
	require.NotEmpty(t, start.MessageID)
	for _, ev := range events {
		assert.Equal(t, start.ConversationID, ev.ConversationID)
		assert.Equal(t, start.MessageID, ev.MessageID)
	}
	assert.Equal(t, datatypes.DoneContent, events[len(events)-1].Content)

	result := events[len(events)-2].Data
	require.NotNil(t, result)
	assert.True(t, result.NewState.Has(techdoc.CategoryEntity, "orders/Order"))
	_, ok := result.AnswerMutation.Get(techdoc.CategoryEntity, "orders/Order")
	assert.True(t, ok)
	_, ok = result.ConversationMutation.Get(techdoc.CategoryEntity, "orders/Order")
	assert.True(t, ok)
	require.Len(t, result.Suggestion, 1)
	assert.Equal(t, "q1", result.Suggestion[0].ID)

	// The conversation moved; the project did not.
	w = env.do(t, http.MethodGet, "/v1/conversations/"+start.ConversationID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var conv datatypes.ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.True(t, conv.Latest.Has(techdoc.CategoryEntity, "orders/Order"))
	assert.Equal(t, 0, conv.Base.Len())
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "add an order entity", conv.Messages[0].Content)
	assert.Equal(t, designAnswer, conv.Messages[1].Content)
	assert.Equal(t, start.MessageID, jsonID(conv.Messages[1].ID))

	w = env.do(t, http.MethodGet, "/v1/projects/shop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var project datatypes.ProjectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))
	assert.Equal(t, 0, project.Document.Len())
	assert.Equal(t, string(lineage.StatusModuleInitialized), project.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.TurnsTotal.WithLabelValues("design_stream", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.ActiveStreams.WithLabelValues("design_stream")))
}

func TestHandleDesignStream_SecondTurnSeesHistory(t *testing.T) {
	env := newTestEnv(t, designAnswer)
	env.upsert(t, "shop")

	first := parseEvents(t, env.do(t, http.MethodPost, "/v1/design/stream", datatypes.DesignTurnRequest{
		ProjectKey: "shop",
		Command:    "add an order entity",
	}).Body.String())
	convID := first[0].ConversationID

	second := parseEvents(t, env.do(t, http.MethodPost, "/v1/design/stream", datatypes.DesignTurnRequest{
		ProjectKey:     "shop",
		ConversationID: convID,
		Command:        "again",
	}).Body.String())
	assert.Equal(t, convID, second[0].ConversationID)
	assert.NotEqual(t, first[0].MessageID, second[0].MessageID)

	requests := env.client.Requests()
	require.Len(t, requests, 2)
	var found bool
	for _, m := range requests[1] {
		if m.Role == datatypes.RoleAssistant && m.Content == designAnswer {
			found = true
		}
	}
	assert.True(t, found, "second request should carry the first answer as history")
}

func TestHandleDesignStream_RejectsBeforeStreaming(t *testing.T) {
	env := newTestEnv(t, designAnswer)
	env.upsert(t, "shop")

	tests := []struct {
		name string
		body any
		code int
	}{
		{"bad json", "not an object", http.StatusBadRequest},
		{"missing command", datatypes.DesignTurnRequest{ProjectKey: "shop"}, http.StatusBadRequest},
		{"bad project key", datatypes.DesignTurnRequest{ProjectKey: "../etc", Command: "x"}, http.StatusBadRequest},
		{"bad mode", datatypes.DesignTurnRequest{ProjectKey: "shop", Command: "x", Mode: "freestyle"}, http.StatusBadRequest},
		{"unknown project", datatypes.DesignTurnRequest{ProjectKey: "nope", Command: "x"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/design/stream", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
		})
	}
	assert.Empty(t, env.client.Requests())
}

func TestHandleDesignStream_ConflictWhileTurnRuns(t *testing.T) {
	env := newTestEnv(t, designAnswer)
	env.upsert(t, "shop")
	ctx := context.Background()

	turn, err := env.manager.BeginTurn(ctx, "shop", "", "hold the lock")
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/v1/design/stream", datatypes.DesignTurnRequest{
		ProjectKey:     "shop",
		ConversationID: turn.Conversation.ID,
		Command:        "x",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	turn.Abort()
	w = env.do(t, http.MethodPost, "/v1/design/stream", datatypes.DesignTurnRequest{
		ProjectKey:     "shop",
		ConversationID: turn.Conversation.ID,
		Command:        "x",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleDesignStream_ModelFailureAbortsTurn(t *testing.T) {
	env := newTestEnv(t, designAnswer)
	env.client.FailAfter = 2
	env.client.Err = errors.New("upstream reset")
	env.upsert(t, "shop")

	w := env.do(t, http.MethodPost, "/v1/design/stream", datatypes.DesignTurnRequest{
		ProjectKey: "shop",
		Command:    "add an order entity",
	})
	require.Equal(t, http.StatusOK, w.Code)
	events := parseEvents(t, w.Body.String())
	assert.Equal(t, []datatypes.ChatEventType{
		datatypes.ChatEventStart,
		datatypes.ChatEventMessage,
		datatypes.ChatEventError,
	}, eventTypes(events))
	last := events[len(events)-1]
	assert.Equal(t, "the model failed to produce an answer", last.Content)
	assert.NotContains(t, last.Content, "upstream reset")

	view, err := env.manager.ConversationDetail(context.Background(), events[0].ConversationID)
	require.NoError(t, err)
	assert.Equal(t, view.Conversation.BaseSnapshotID, view.Conversation.LatestSnapshotID)
	assert.Equal(t, 0, view.Latest.Len())
	assert.Equal(t, 0, env.manager.ActiveTurns())

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ErrorsTotal.WithLabelValues("design_stream", "llm_error")))
}

// =============================================================================
// Init Tests
// =============================================================================

func TestHandleInitModules_AcceptsIntoProject(t *testing.T) {
	env := newTestEnv(t, initAnswer)

	w := env.do(t, http.MethodPost, "/v1/projects/shop/init", datatypes.InitModulesRequest{
		PRD:             "Orders and billing.",
		TechConstraints: "Go",
	})
	require.Equal(t, http.StatusOK, w.Code)
	events := parseEvents(t, w.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, datatypes.ChatEventDone, events[len(events)-1].Event)

	w = env.do(t, http.MethodGet, "/v1/projects/shop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var project datatypes.ProjectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))
	assert.Equal(t, string(lineage.StatusModuleInitialized), project.Status)
	assert.Equal(t, "Orders and billing.", project.SourcePRD)
	assert.Equal(t, "Go", project.TechConstraints)
	assert.True(t, project.Document.Has(techdoc.CategoryModule, "orders"))
	require.Len(t, project.Modules, 2)
	assert.Equal(t, "billing", project.Modules[0].Name)
	assert.Equal(t, "Billing", project.Modules[0].Title)

	view, err := env.manager.ConversationDetail(context.Background(), events[0].ConversationID)
	require.NoError(t, err)
	assert.Equal(t, view.Conversation.LatestSnapshotID, view.Conversation.BaseSnapshotID)
	assert.Equal(t, project.SnapshotID, string(view.Conversation.LatestSnapshotID))
	assert.Equal(t, initCommand, view.Messages[0].Content)

	requests := env.client.Requests()
	require.Len(t, requests, 1)
	var prdSent bool
	for _, m := range requests[0] {
		prdSent = prdSent || strings.Contains(m.Content, "Orders and billing.")
	}
	assert.True(t, prdSent)
}

func TestHandleInitModules_RequiresPRD(t *testing.T) {
	env := newTestEnv(t, initAnswer)

	w := env.do(t, http.MethodPost, "/v1/projects/shop/init", datatypes.InitModulesRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.client.Requests())

	// A stored PRD is used when the request has none.
	env.upsert(t, "stored")
	w = env.do(t, http.MethodPost, "/v1/projects/stored/init", datatypes.InitModulesRequest{})
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.client.Requests(), 1)
}

// =============================================================================
// REST Tests
// =============================================================================

func TestHandleAccept_MovesProjectSnapshot(t *testing.T) {
	env := newTestEnv(t, designAnswer)
	env.upsert(t, "shop")

	events := parseEvents(t, env.do(t, http.MethodPost, "/v1/design/stream", datatypes.DesignTurnRequest{
		ProjectKey: "shop",
		Command:    "add an order entity",
	}).Body.String())
	convID := events[0].ConversationID

	w := env.do(t, http.MethodPost, "/v1/conversations/"+convID+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp datatypes.AcceptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "shop", resp.ProjectKey)

	w = env.do(t, http.MethodGet, "/v1/projects/shop", nil)
	var project datatypes.ProjectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))
	assert.Equal(t, resp.SnapshotID, project.SnapshotID)
	assert.True(t, project.Document.Has(techdoc.CategoryEntity, "orders/Order"))

	w = env.do(t, http.MethodGet, "/v1/conversations/"+convID, nil)
	var conv datatypes.ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.True(t, conv.ConversationMutation.IsEmpty())

	w = env.do(t, http.MethodPost, "/v1/conversations/not-a-uuid/accept", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/v1/conversations/00000000-0000-4000-8000-000000000000/accept", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleReplaceDocument(t *testing.T) {
	env := newTestEnv(t, designAnswer)
	env.upsert(t, "shop")

	doc := json.RawMessage(`{"Module": {"orders": {"title": "Orders", "version": 1}}}`)
	w := env.do(t, http.MethodPut, "/v1/projects/shop/document", map[string]any{"document": doc})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp datatypes.ReplaceDocumentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "project", resp.Target)

	w = env.do(t, http.MethodGet, "/v1/projects/shop", nil)
	var project datatypes.ProjectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))
	assert.Equal(t, resp.SnapshotID, project.SnapshotID)
	assert.True(t, project.Document.Has(techdoc.CategoryModule, "orders"))

	w = env.do(t, http.MethodPut, "/v1/projects/shop/document", map[string]any{
		"document": json.RawMessage(`{"Bogus": {}}`),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/v1/projects/nope/document", map[string]any{"document": doc})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, designAnswer)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","activeTurns":0}`, w.Body.String())
}

// =============================================================================
// Heartbeat Tests
// =============================================================================

type recordingEventWriter struct {
	mu    sync.Mutex
	pings int
}

func (r *recordingEventWriter) WriteStart(string, string) error             { return nil }
func (r *recordingEventWriter) WriteMessage(string) error                   { return nil }
func (r *recordingEventWriter) WriteResult(*datatypes.TurnResultData) error { return nil }
func (r *recordingEventWriter) WriteDone() error                            { return nil }
func (r *recordingEventWriter) WriteError(string) error                     { return nil }

func (r *recordingEventWriter) WriteKeepAlive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pings++
	return nil
}

func (r *recordingEventWriter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pings
}

func TestRunHeartbeat_PingsUntilStopped(t *testing.T) {
	metrics := observability.NewArchitectMetrics(prometheus.NewRegistry())
	h := &ArchitectHandler{metrics: metrics, keepAlive: 5 * time.Millisecond}
	w := &recordingEventWriter{}

	stop := h.runHeartbeat(context.Background(), w, observability.EndpointDesignStream)
	require.Eventually(t, func() bool { return w.count() >= 2 }, time.Second, time.Millisecond)
	stop()
	stop()

	n := w.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, w.count(), "no pings after stop returns")
	assert.Equal(t, float64(n), testutil.ToFloat64(metrics.KeepAlivesTotal.WithLabelValues("design_stream")))
}

// =============================================================================
// Event Writer Tests
// =============================================================================

func TestChatEventWriter_StampsIDsAndPublishes(t *testing.T) {
	rec := httptest.NewRecorder()
	var published []datatypes.ChatEvent
	w, err := NewChatEventWriter(rec, func(ev datatypes.ChatEvent) { published = append(published, ev) })
	require.NoError(t, err)

	require.NoError(t, w.WriteStart("conv-1", "7"))
	require.NoError(t, w.WriteMessage("hello"))
	require.NoError(t, w.WriteKeepAlive())
	require.NoError(t, w.WriteDone())

	assert.Equal(t,
		"data: {\"event\":\"start\",\"conversationId\":\"conv-1\",\"messageId\":\"7\"}\n\n"+
			"data: {\"event\":\"message\",\"conversationId\":\"conv-1\",\"messageId\":\"7\",\"content\":\"hello\"}\n\n"+
			"data: {\"event\":\"ping\",\"conversationId\":\"conv-1\",\"messageId\":\"7\"}\n\n"+
			"data: {\"event\":\"done\",\"conversationId\":\"conv-1\",\"messageId\":\"7\",\"content\":\"[DONE]\"}\n\n",
		rec.Body.String())

	require.Len(t, published, 3, "pings are not published")
	assert.Equal(t, datatypes.ChatEventDone, published[2].Event)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
