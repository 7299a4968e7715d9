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
// Request Types
// =============================================================================

// UpsertProjectRequest creates a project or updates its source documents.
//
// # Fields
//
//   - ProjectKey: Required. Path-safe key, at most 128 characters.
//   - SourcePRD: Optional. The requirements document as written.
//   - TransformedPRD: Optional. The requirements after pre-processing.
//   - TechConstraints: Optional. Technology constraints for the design.
type UpsertProjectRequest struct {
	ProjectKey      string `json:"projectKey" validate:"required,projectkey"`
	SourcePRD       string `json:"sourcePrd" validate:"docbytes"`
	TransformedPRD  string `json:"transformedPrd" validate:"docbytes"`
	TechConstraints string `json:"techConstraints" validate:"docbytes"`
}

// Validate validates the request fields.
func (r *UpsertProjectRequest) Validate() error {
	return validate.Struct(r)
}

// InitModulesRequest asks the architect to split a PRD into modules.
//
// When PRD is empty the project's stored PRD is used.
type InitModulesRequest struct {
	ConversationID  string `json:"conversationId" validate:"omitempty,uuid"`
	PRD             string `json:"prd" validate:"docbytes"`
	TechConstraints string `json:"techConstraints" validate:"docbytes"`
}

// Validate validates the request fields.
func (r *InitModulesRequest) Validate() error {
	return validate.Struct(r)
}

// Design turn modes.
const (
	DesignModeModule         = "module_design"
	DesignModeUpdateModified = "update_modified"
)

// DesignTurnRequest runs one design turn.
//
// # Fields
//
//   - ProjectKey: Required. The project to design.
//   - ConversationID: Optional. Continues a conversation; a new one is
//     created when empty.
//   - Command: Required. The user's instruction, at most 32KB.
//   - Mode: Optional. module_design (default) or update_modified. The
//     latter never deletes items.
type DesignTurnRequest struct {
	ProjectKey     string `json:"projectKey" validate:"required,projectkey"`
	ConversationID string `json:"conversationId" validate:"omitempty,uuid"`
	Command        string `json:"command" validate:"required,maxbytes"`
	Mode           string `json:"mode" validate:"omitempty,oneof=module_design update_modified"`
}

// Validate validates the request fields.
func (r *DesignTurnRequest) Validate() error {
	return validate.Struct(r)
}

// EnsureDefaults fills optional fields.
func (r *DesignTurnRequest) EnsureDefaults() {
	if r.Mode == "" {
		r.Mode = DesignModeModule
	}
}

// ReplaceDocumentRequest stores a user-edited document. With a conversation
// id the conversation's latest snapshot moves; otherwise the project's.
type ReplaceDocumentRequest struct {
	ConversationID string           `json:"conversationId" validate:"omitempty,uuid"`
	Document       techdoc.Snapshot `json:"document"`
}

// Validate validates the request fields.
func (r *ReplaceDocumentRequest) Validate() error {
	return validate.Struct(r)
}

// =============================================================================
// Response Types
// =============================================================================

// ProjectResponse describes a project and its reference document.
type ProjectResponse struct {
	ProjectKey      string           `json:"projectKey"`
	Status          string           `json:"status"`
	SnapshotID      string           `json:"snapshotId"`
	SourcePRD       string           `json:"sourcePrd,omitempty"`
	TransformedPRD  string           `json:"transformedPrd,omitempty"`
	TechConstraints string           `json:"techConstraints,omitempty"`
	Document        techdoc.Snapshot `json:"document"`
	Modules         []ModuleSummary  `json:"modules"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// ModuleSummary counts the items grouped under one module.
type ModuleSummary struct {
	Name      string         `json:"name"`
	Title     string         `json:"title,omitempty"`
	HasModule bool           `json:"hasModule"`
	Items     map[string]int `json:"items"`
}

// MessageResponse is one stored conversation message.
type MessageResponse struct {
	ID               int64               `json:"id"`
	Role             string              `json:"role"`
	Content          string              `json:"content"`
	BeforeSnapshotID string              `json:"beforeSnapshotId"`
	AfterSnapshotID  string              `json:"afterSnapshotId"`
	Mutation         techdoc.MutationSet `json:"mutation,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// ConversationResponse describes a conversation with its messages and the
// documents at its base and latest pointers.
type ConversationResponse struct {
	ConversationID       string              `json:"conversationId"`
	ProjectKey           string              `json:"projectKey"`
	BaseSnapshotID       string              `json:"baseSnapshotId"`
	LatestSnapshotID     string              `json:"latestSnapshotId"`
	Base                 techdoc.Snapshot    `json:"base"`
	Latest               techdoc.Snapshot    `json:"latest"`
	ConversationMutation techdoc.MutationSet `json:"conversationMutation"`
	Messages             []MessageResponse   `json:"messages"`
	CreatedAt            time.Time           `json:"createdAt"`
}

// AcceptResponse reports the new project reference after an accept.
type AcceptResponse struct {
	ProjectKey     string `json:"projectKey"`
	ConversationID string `json:"conversationId"`
	SnapshotID     string `json:"snapshotId"`
}

// ReplaceDocumentResponse reports where a replaced document was stored.
type ReplaceDocumentResponse struct {
	SnapshotID string `json:"snapshotId"`
	Target     string `json:"target"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
