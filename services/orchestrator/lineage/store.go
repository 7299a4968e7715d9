// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineage

import (
	"context"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
)

// =============================================================================
// Store Interfaces
// =============================================================================

// SnapshotStore persists immutable snapshots.
//
// # Description
//
// SaveSnapshot always creates a new record and returns its id. LoadSnapshot
// returns ErrNotFound for an unknown id.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, projectKey string, s techdoc.Snapshot) (SnapshotID, error)
	LoadSnapshot(ctx context.Context, id SnapshotID) (techdoc.Snapshot, error)
}

// ProjectStore persists project records. GetProject returns ErrNotFound for
// an unknown key.
type ProjectStore interface {
	GetProject(ctx context.Context, key string) (*Project, error)
	PutProject(ctx context.Context, p *Project) error
}

// ConversationStore persists conversations and their messages.
//
// # Description
//
// AppendMessage assigns m.ID. Ids increase monotonically across the store so
// that ListMessages can return messages in creation order. UpdateMessage
// replaces an existing message and returns ErrNotFound if it does not exist.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	PutConversation(ctx context.Context, c *Conversation) error
	ListConversations(ctx context.Context, projectKey string) ([]*Conversation, error)
	AppendMessage(ctx context.Context, m *Message) error
	UpdateMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
}

// Store is everything the Manager persists.
type Store interface {
	SnapshotStore
	ProjectStore
	ConversationStore
	Close() error
}
