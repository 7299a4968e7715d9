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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/lineage"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// keepAliveInterval is how often a ping event is sent while a turn
	// streams. Load balancers commonly drop connections idle for 60s.
	keepAliveInterval = 15 * time.Second

	// initCommand is the user message recorded for a PRD conversion turn.
	initCommand = "convert PRD"
)

// =============================================================================
// Handler
// =============================================================================

// ArchitectHandler serves the design endpoints.
//
// # Description
//
// Streaming endpoints run one design turn each: the lineage manager opens
// the turn, the agent streams the model answer as message events, and the
// extracted mutation set is committed as the conversation's new latest
// snapshot. Every event is also published to the project's push hub.
//
// # Thread Safety
//
// Safe for concurrent use. Turns on the same conversation are serialized by
// the lineage manager, which rejects the second with 409.
type ArchitectHandler struct {
	manager   *lineage.Manager
	agent     *agent.Agent
	hub       *PushHub
	metrics   *observability.ArchitectMetrics
	logger    *slog.Logger
	tracer    trace.Tracer
	keepAlive time.Duration
}

// HandlerOption configures an ArchitectHandler.
type HandlerOption func(*ArchitectHandler)

// WithHandlerLogger sets the logger. Defaults to slog.Default.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *ArchitectHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHandlerMetrics sets the metrics. Defaults to observability.DefaultMetrics.
func WithHandlerMetrics(m *observability.ArchitectMetrics) HandlerOption {
	return func(h *ArchitectHandler) { h.metrics = m }
}

// WithKeepAliveInterval overrides the ping interval of streaming turns.
func WithKeepAliveInterval(d time.Duration) HandlerOption {
	return func(h *ArchitectHandler) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// NewArchitectHandler creates the handler. hub may be nil to disable push.
func NewArchitectHandler(manager *lineage.Manager, a *agent.Agent, hub *PushHub, opts ...HandlerOption) *ArchitectHandler {
	h := &ArchitectHandler{
		manager:   manager,
		agent:     a,
		hub:       hub,
		metrics:   observability.DefaultMetrics,
		logger:    slog.Default(),
		tracer:    otel.Tracer("aleutian.architect.handlers"),
		keepAlive: keepAliveInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// Streaming Endpoints
// =============================================================================

// HandleDesignStream runs one module-design turn.
//
// # Description
//
// POST /v1/design/stream. Validation, project lookup and the conversation
// lock happen before any event is written, so those failures are plain
// JSON responses (400, 404, 409). Once streaming starts every failure is an
// error event. A model or transport failure aborts the turn with nothing
// persisted except the user command; a store failure leaves the
// conversation's latest snapshot where it was.
//
// # Inputs
//
//   - c: Gin context with a datatypes.DesignTurnRequest body.
//
// # Outputs
//
// An event stream: start, message*, result, done; or start, message*, error.
//
// # Limitations
//
//   - The answer is committed only after the whole stream arrived.
func (h *ArchitectHandler) HandleDesignStream(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "ArchitectHandler.HandleDesignStream")
	defer span.End()
	endpoint := observability.EndpointDesignStream

	var req datatypes.DesignTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectRequest(c, span, endpoint, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.rejectRequest(c, span, endpoint, http.StatusBadRequest, err.Error(), err)
		return
	}
	req.EnsureDefaults()
	mode, err := agent.ParseMode(req.Mode)
	if err != nil {
		h.rejectRequest(c, span, endpoint, http.StatusBadRequest, err.Error(), err)
		return
	}
	span.SetAttributes(
		attribute.String("project_key", req.ProjectKey),
		attribute.String("conversation_id", req.ConversationID),
		attribute.String("mode", string(mode)))

	turn, err := h.manager.BeginTurn(ctx, req.ProjectKey, req.ConversationID, req.Command)
	if err != nil {
		h.rejectTurn(c, span, endpoint, err)
		return
	}

	p := turn.Project
	h.streamTurn(ctx, c, span, endpoint, turn, agent.Request{
		Mode:            mode,
		Command:         req.Command,
		PRD:             projectPRD(p),
		TechConstraints: p.TechConstraints,
		History:         historyMessages(turn.History),
		Current:         turn.Current,
	}, false)
}

// HandleInitModules converts a PRD into the project's first module split.
//
// # Description
//
// POST /v1/projects/:projectKey/init. The project is created if needed and
// its requirements are stored (status PRDTransformed). A new conversation
// is always opened with the command "convert PRD". The agent runs in
// init-modules mode with no history, and the resulting document is accepted
// into the project at once, so the conversation's base, its latest and the
// project's snapshot all end on the new document.
//
// # Inputs
//
//   - c: Gin context with the projectKey path parameter and a
//     datatypes.InitModulesRequest body. An empty PRD falls back to the
//     project's stored PRD.
//
// # Outputs
//
// The same event stream as HandleDesignStream.
func (h *ArchitectHandler) HandleInitModules(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "ArchitectHandler.HandleInitModules")
	defer span.End()
	endpoint := observability.EndpointInitModules

	projectKey := c.Param("projectKey")
	if err := datatypes.ValidateProjectKey(projectKey); err != nil {
		h.rejectRequest(c, span, endpoint, http.StatusBadRequest, "invalid project key", err)
		return
	}
	var req datatypes.InitModulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectRequest(c, span, endpoint, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.rejectRequest(c, span, endpoint, http.StatusBadRequest, err.Error(), err)
		return
	}
	span.SetAttributes(attribute.String("project_key", projectKey))

	p, err := h.manager.UpsertProject(ctx, projectKey)
	if err != nil {
		h.rejectTurn(c, span, endpoint, err)
		return
	}
	prd := req.PRD
	if prd == "" {
		prd = projectPRD(p)
	}
	if prd == "" {
		h.rejectRequest(c, span, endpoint, http.StatusBadRequest, "prd is empty and the project has none stored", nil)
		return
	}
	constraints := req.TechConstraints
	if constraints == "" {
		constraints = p.TechConstraints
	}
	source := p.SourcePRD
	if req.PRD != "" || source == "" {
		source = prd
	}
	if _, err := h.manager.SetProjectContent(ctx, projectKey, lineage.ProjectContent{
		SourcePRD:       source,
		TransformedPRD:  prd,
		TechConstraints: constraints,
	}); err != nil {
		h.rejectTurn(c, span, endpoint, err)
		return
	}

	turn, err := h.manager.BeginTurn(ctx, projectKey, "", initCommand)
	if err != nil {
		h.rejectTurn(c, span, endpoint, err)
		return
	}
	h.streamTurn(ctx, c, span, endpoint, turn, agent.Request{
		Mode:            agent.ModeInitModules,
		PRD:             prd,
		TechConstraints: constraints,
		Current:         turn.Current,
	}, true)
}

// streamTurn streams an open turn to the client and commits it.
//
// # Description
//
// Owns turn from here on: every path ends in Complete or Abort. With
// autoAccept the committed document also becomes the project's snapshot.
func (h *ArchitectHandler) streamTurn(
	ctx context.Context,
	c *gin.Context,
	span trace.Span,
	endpoint observability.Endpoint,
	turn *lineage.Turn,
	req agent.Request,
	autoAccept bool,
) {
	logger := h.logger.With(
		"project_key", turn.Project.Key,
		"conversation_id", turn.Conversation.ID,
		"message_id", turn.MessageRef())
	startTime := time.Now()

	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	writer, err := NewChatEventWriter(c.Writer, h.hub.Publisher(turn.Project.Key))
	if err != nil {
		turn.Abort()
		logger.Error("streaming not supported", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		span.SetStatus(codes.Error, "streaming not supported")
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	if err := writer.WriteStart(turn.Conversation.ID, turn.MessageRef()); err != nil {
		turn.Abort()
		h.failTurn(span, logger, endpoint, startTime, observability.ErrorCodeClientDisconnect, err)
		return
	}

	stopHeartbeat := h.runHeartbeat(ctx, writer, endpoint)
	firstChunk := true
	answer, err := h.agent.Run(ctx, req, func(token string) error {
		if firstChunk {
			h.metrics.RecordTimeToFirstChunk(endpoint, time.Since(startTime).Seconds())
			firstChunk = false
		}
		h.metrics.RecordChunk(endpoint)
		return writer.WriteMessage(token)
	})
	stopHeartbeat()

	if err != nil {
		turn.Abort()
		code := observability.ErrorCodeLLMError
		if ctx.Err() != nil {
			code = observability.ErrorCodeClientDisconnect
		}
		h.failTurn(span, logger, endpoint, startTime, code, err)
		_ = writer.WriteError(classifyError(err).Message)
		return
	}

	result, err := turn.Complete(ctx, answer.Content, answer.Mutation)
	if err != nil {
		apiErr := classifyError(err)
		h.failTurn(span, logger, endpoint, startTime, apiErr.Code, err)
		_ = writer.WriteError(apiErr.Message)
		return
	}

	if autoAccept {
		if _, err := h.manager.Accept(ctx, turn.Project.Key, turn.Conversation.ID); err != nil {
			apiErr := classifyError(err)
			h.failTurn(span, logger, endpoint, startTime, apiErr.Code, err)
			_ = writer.WriteError(apiErr.Message)
			return
		}
	}

	suggestion := answer.ConfirmItems
	if suggestion == nil {
		suggestion = []techdoc.ConfirmItem{}
	}
	if err := writer.WriteResult(&datatypes.TurnResultData{
		AnswerMutation:       result.AnswerMutation,
		ConversationMutation: result.ConversationMutation,
		NewState:             result.NewState,
		Suggestion:           suggestion,
	}); err != nil {
		// The turn is already committed; the client can reload it.
		logger.Warn("client gone before result", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
		return
	}
	_ = writer.WriteDone()

	h.metrics.RecordTurn(endpoint, time.Since(startTime).Seconds(), true)
	span.SetAttributes(
		attribute.Int("mutations", result.AnswerMutation.Len()),
		attribute.String("snapshot_id", string(result.SnapshotID)))
	span.SetStatus(codes.Ok, "")
	logger.Info("design turn completed",
		"mode", string(req.Mode),
		"mutations", result.AnswerMutation.Len(),
		"confirm_items", len(answer.ConfirmItems),
		"snapshot_id", result.SnapshotID,
		"accepted", autoAccept,
		"duration_ms", time.Since(startTime).Milliseconds())
}

// runHeartbeat writes a ping event every keepAlive until the returned stop
// function is called. stop waits for the goroutine to exit, so no ping is
// written after it returns.
func (h *ArchitectHandler) runHeartbeat(ctx context.Context, writer ChatEventWriter, endpoint observability.Endpoint) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
				h.metrics.RecordKeepAlive(endpoint)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// =============================================================================
// Failure Helpers
// =============================================================================

// rejectRequest answers a request that never started a turn.
func (h *ArchitectHandler) rejectRequest(c *gin.Context, span trace.Span, endpoint observability.Endpoint, status int, msg string, err error) {
	h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, msg)
	h.logger.Warn("design request rejected", "endpoint", string(endpoint), "reason", msg)
	c.JSON(status, datatypes.ErrorResponse{Error: msg})
}

// rejectTurn answers a request whose turn could not be opened.
func (h *ArchitectHandler) rejectTurn(c *gin.Context, span trace.Span, endpoint observability.Endpoint, err error) {
	apiErr := classifyError(err)
	h.metrics.RecordError(endpoint, apiErr.Code)
	span.RecordError(err)
	span.SetStatus(codes.Error, apiErr.Message)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.Error("failed to open design turn", "endpoint", string(endpoint), "error", err)
	} else {
		h.logger.Info("design turn refused", "endpoint", string(endpoint), "reason", apiErr.Message)
	}
	c.JSON(apiErr.Status, datatypes.ErrorResponse{Error: apiErr.Message})
}

// failTurn records a turn that failed after streaming began.
func (h *ArchitectHandler) failTurn(span trace.Span, logger *slog.Logger, endpoint observability.Endpoint, start time.Time, code observability.ErrorCode, err error) {
	h.metrics.RecordError(endpoint, code)
	h.metrics.RecordTurn(endpoint, time.Since(start).Seconds(), false)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	if errors.Is(err, context.Canceled) {
		logger.Info("design turn cancelled by client", "error", err)
		return
	}
	logger.Error("design turn failed", "code", string(code), "error", err)
}

// =============================================================================
// Helper Functions
// =============================================================================

// projectPRD prefers the transformed requirements over the source text.
func projectPRD(p *lineage.Project) string {
	if p.TransformedPRD != "" {
		return p.TransformedPRD
	}
	return p.SourcePRD
}

func historyMessages(msgs []*lineage.Message) []datatypes.Message {
	out := make([]datatypes.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, datatypes.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
