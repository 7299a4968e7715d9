// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lineage tracks which design document each project, conversation and
// message points at.
//
// Three references are kept. A project points at its accepted snapshot. A
// conversation points at the snapshot it started from (base) and at the
// snapshot its most recent turn produced (latest). A message records the
// snapshot immediately before and after its turn. Snapshots are immutable and
// addressed by SnapshotID; every change saves a new one and moves pointers.
//
// # Concurrency
//
// At most one turn runs per conversation. BeginTurn rejects a second turn on
// the same conversation with ErrTurnInProgress until the first one completes
// or aborts. Project pointer updates are serialized inside the Manager; the
// last write wins across conversations.
package lineage

import (
	"errors"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrProjectNotFound is returned when the project key is unknown.
	ErrProjectNotFound = errors.New("project not found")

	// ErrConversationNotFound is returned when the conversation id is unknown
	// or belongs to another project.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrTurnInProgress is returned when a conversation already has a turn
	// in flight.
	ErrTurnInProgress = errors.New("a turn is already in progress for this conversation")

	// ErrTurnClosed is returned when Complete is called on a finished turn.
	ErrTurnClosed = errors.New("turn already completed or aborted")

	// ErrStoreFailure wraps persistence errors that end a turn.
	ErrStoreFailure = errors.New("snapshot store failure")
)

// =============================================================================
// Records
// =============================================================================

// SnapshotID addresses one saved snapshot.
type SnapshotID string

// ProjectStatus is the lifecycle stage of a project.
type ProjectStatus string

const (
	// StatusInit is a project with no requirements yet.
	StatusInit ProjectStatus = "Init"

	// StatusPRDTransformed is a project whose requirements were stored.
	StatusPRDTransformed ProjectStatus = "PRDTransformed"

	// StatusModuleInitialized is a project with at least one completed turn.
	StatusModuleInitialized ProjectStatus = "ModuleInitialized"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Project is the unit of design work.
type Project struct {
	Key             string        `json:"projectKey"`
	Status          ProjectStatus `json:"status"`
	SnapshotID      SnapshotID    `json:"snapshotId"`
	SourcePRD       string        `json:"sourcePrd,omitempty"`
	TransformedPRD  string        `json:"transformedPrd,omitempty"`
	TechConstraints string        `json:"techConstraints,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Conversation is a sequence of turns against one project.
type Conversation struct {
	ID               string              `json:"conversationId"`
	ProjectKey       string              `json:"projectKey"`
	BaseSnapshotID   SnapshotID          `json:"baseSnapshotId"`
	LatestSnapshotID SnapshotID          `json:"latestSnapshotId"`
	FinalMutation    techdoc.MutationSet `json:"finalMutation,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// Message is one user command or assistant answer.
type Message struct {
	ID               int64               `json:"id"`
	ConversationID   string              `json:"conversationId"`
	Role             Role                `json:"role"`
	Content          string              `json:"content"`
	BeforeSnapshotID SnapshotID          `json:"beforeSnapshotId"`
	AfterSnapshotID  SnapshotID          `json:"afterSnapshotId"`
	Mutation         techdoc.MutationSet `json:"mutation,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// ProjectContent carries the documents stored on a project.
type ProjectContent struct {
	SourcePRD       string
	TransformedPRD  string
	TechConstraints string
}
