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
	"net/http"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/lineage"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Project Endpoints
// =============================================================================

// HandleUpsertProject creates a project or updates its requirements.
//
// # Description
//
// POST /v1/projects. Creating is idempotent. When any document field is
// set the project's requirements are replaced and its status becomes
// PRDTransformed.
func (h *ArchitectHandler) HandleUpsertProject(c *gin.Context) {
	ctx := c.Request.Context()

	var req datatypes.UpsertProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		return
	}

	if _, err := h.manager.UpsertProject(ctx, req.ProjectKey); err != nil {
		h.writeError(c, "upsert project", err)
		return
	}
	if req.SourcePRD != "" || req.TransformedPRD != "" || req.TechConstraints != "" {
		transformed := req.TransformedPRD
		if transformed == "" {
			transformed = req.SourcePRD
		}
		if _, err := h.manager.SetProjectContent(ctx, req.ProjectKey, lineage.ProjectContent{
			SourcePRD:       req.SourcePRD,
			TransformedPRD:  transformed,
			TechConstraints: req.TechConstraints,
		}); err != nil {
			h.writeError(c, "set project content", err)
			return
		}
	}

	view, err := h.manager.ProjectDetail(ctx, req.ProjectKey)
	if err != nil {
		h.writeError(c, "load project", err)
		return
	}
	c.JSON(http.StatusOK, projectResponse(view))
}

// HandleProjectDetail returns a project and its accepted document.
func (h *ArchitectHandler) HandleProjectDetail(c *gin.Context) {
	key := c.Param("projectKey")
	if err := datatypes.ValidateProjectKey(key); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid project key"})
		return
	}
	view, err := h.manager.ProjectDetail(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, "load project", err)
		return
	}
	c.JSON(http.StatusOK, projectResponse(view))
}

// HandleReplaceDocument stores a document edited outside the model.
//
// # Description
//
// PUT /v1/projects/:projectKey/document. With a conversationId in the body
// the conversation's latest snapshot moves and its cumulative mutation is
// recomputed; otherwise the project's accepted snapshot moves. Refused with
// 409 while a turn runs on that conversation.
func (h *ArchitectHandler) HandleReplaceDocument(c *gin.Context) {
	key := c.Param("projectKey")
	if err := datatypes.ValidateProjectKey(key); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid project key"})
		return
	}
	var req datatypes.ReplaceDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		return
	}

	id, err := h.manager.ReplaceDocument(c.Request.Context(), key, req.ConversationID, req.Document)
	if err != nil {
		h.writeError(c, "replace document", err)
		return
	}
	target := "project"
	if req.ConversationID != "" {
		target = "conversation"
	}
	h.logger.Info("document replaced", "project_key", key, "target", target, "snapshot_id", id)
	c.JSON(http.StatusOK, datatypes.ReplaceDocumentResponse{SnapshotID: string(id), Target: target})
}

// HandlePushStats reports the push subscribers of a project.
func (h *ArchitectHandler) HandlePushStats(c *gin.Context) {
	key := c.Param("projectKey")
	if err := datatypes.ValidateProjectKey(key); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid project key"})
		return
	}
	if h.hub == nil {
		c.JSON(http.StatusOK, PushProjectStats{ProjectKey: key, Connections: []PushConnectionStats{}})
		return
	}
	c.JSON(http.StatusOK, h.hub.Stats(key))
}

// =============================================================================
// Conversation Endpoints
// =============================================================================

// HandleAccept makes a conversation's latest document the project's
// accepted document.
func (h *ArchitectHandler) HandleAccept(c *gin.Context) {
	id := c.Param("conversationId")
	if err := datatypes.ValidateConversationID(id); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid conversation id"})
		return
	}
	p, err := h.manager.Accept(c.Request.Context(), "", id)
	if err != nil {
		h.writeError(c, "accept changes", err)
		return
	}
	c.JSON(http.StatusOK, datatypes.AcceptResponse{
		ProjectKey:     p.Key,
		ConversationID: id,
		SnapshotID:     string(p.SnapshotID),
	})
}

// HandleConversationDetail returns a conversation, its messages and the
// documents at both ends of its lineage.
func (h *ArchitectHandler) HandleConversationDetail(c *gin.Context) {
	id := c.Param("conversationId")
	if err := datatypes.ValidateConversationID(id); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid conversation id"})
		return
	}
	view, err := h.manager.ConversationDetail(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "load conversation", err)
		return
	}
	c.JSON(http.StatusOK, conversationResponse(view))
}

// HandleHealth reports liveness and the number of turns in flight.
func (h *ArchitectHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"activeTurns": h.manager.ActiveTurns(),
	})
}

// =============================================================================
// Helper Functions
// =============================================================================

func (h *ArchitectHandler) writeError(c *gin.Context, op string, err error) {
	apiErr := classifyError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "path", c.FullPath(), "error", err)
	}
	c.JSON(apiErr.Status, datatypes.ErrorResponse{Error: apiErr.Message})
}

func projectResponse(v *lineage.ProjectView) datatypes.ProjectResponse {
	p := v.Project
	return datatypes.ProjectResponse{
		ProjectKey:      p.Key,
		Status:          string(p.Status),
		SnapshotID:      string(p.SnapshotID),
		SourcePRD:       p.SourcePRD,
		TransformedPRD:  p.TransformedPRD,
		TechConstraints: p.TechConstraints,
		Document:        v.Document,
		Modules:         moduleSummaries(v.Document),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func moduleSummaries(doc techdoc.Snapshot) []datatypes.ModuleSummary {
	views := techdoc.GroupByModule(doc)
	out := make([]datatypes.ModuleSummary, 0, len(views))
	for _, v := range views {
		s := datatypes.ModuleSummary{
			Name:      v.Name,
			HasModule: v.HasModule,
			Items:     make(map[string]int, len(v.Members)),
		}
		if v.HasModule {
			s.Title = techdoc.Title(v.Module.Payload)
		}
		for c, ids := range v.Members {
			s.Items[string(c)] = len(ids)
		}
		out = append(out, s)
	}
	return out
}

func conversationResponse(v *lineage.ConversationView) datatypes.ConversationResponse {
	c := v.Conversation
	msgs := make([]datatypes.MessageResponse, 0, len(v.Messages))
	for _, m := range v.Messages {
		msgs = append(msgs, datatypes.MessageResponse{
			ID:               m.ID,
			Role:             string(m.Role),
			Content:          m.Content,
			BeforeSnapshotID: string(m.BeforeSnapshotID),
			AfterSnapshotID:  string(m.AfterSnapshotID),
			Mutation:         m.Mutation,
			CreatedAt:        m.CreatedAt,
		})
	}
	mutation := c.FinalMutation
	if mutation == nil {
		mutation = techdoc.MutationSet{}
	}
	return datatypes.ConversationResponse{
		ConversationID:       c.ID,
		ProjectKey:           c.ProjectKey,
		BaseSnapshotID:       string(c.BaseSnapshotID),
		LatestSnapshotID:     string(c.LatestSnapshotID),
		Base:                 v.Base,
		Latest:               v.Latest,
		ConversationMutation: mutation,
		Messages:             msgs,
		CreatedAt:            c.CreatedAt,
	}
}
