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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "aleutian.architect.lineage"

// =============================================================================
// Manager
// =============================================================================

// Manager moves project, conversation and message pointers between
// snapshots.
//
// # Thread Safety
//
// Safe for concurrent use. Turns are exclusive per conversation.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	// projectMu serializes read-modify-write of project records.
	projectMu sync.Mutex

	turnsMu sync.Mutex
	turns   map[string]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator replaces the conversation id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		turns:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// Projects
// =============================================================================

// UpsertProject returns the project for key, creating it with an empty
// document when it does not exist. Calling it again returns the existing
// project unchanged.
func (m *Manager) UpsertProject(ctx context.Context, key string) (*Project, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "lineage.UpsertProject",
		attribute.String("project_key", key))
	defer span.End()

	m.projectMu.Lock()
	defer m.projectMu.Unlock()

	p, err := m.store.GetProject(ctx, key)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: get project: %w", ErrStoreFailure, err)
	}

	id, err := m.store.SaveSnapshot(ctx, key, techdoc.EmptySnapshot())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: save empty snapshot: %w", ErrStoreFailure, err)
	}
	now := m.now()
	p = &Project{
		Key:        key,
		Status:     StatusInit,
		SnapshotID: id,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.PutProject(ctx, p); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: put project: %w", ErrStoreFailure, err)
	}
	m.logger.Info("project created", "project_key", key, "snapshot_id", id)
	return p, nil
}

// SetProjectContent stores the requirements documents on a project and marks
// it PRDTransformed.
func (m *Manager) SetProjectContent(ctx context.Context, key string, content ProjectContent) (*Project, error) {
	return m.updateProject(ctx, key, func(p *Project) {
		p.Status = StatusPRDTransformed
		p.SourcePRD = content.SourcePRD
		p.TransformedPRD = content.TransformedPRD
		p.TechConstraints = content.TechConstraints
	})
}

// updateProject applies fn to the stored project under projectMu.
func (m *Manager) updateProject(ctx context.Context, key string, fn func(p *Project)) (*Project, error) {
	m.projectMu.Lock()
	defer m.projectMu.Unlock()

	p, err := m.getProject(ctx, key)
	if err != nil {
		return nil, err
	}
	fn(p)
	p.UpdatedAt = m.now()
	if err := m.store.PutProject(ctx, p); err != nil {
		return nil, fmt.Errorf("%w: put project: %w", ErrStoreFailure, err)
	}
	return p, nil
}

func (m *Manager) getProject(ctx context.Context, key string) (*Project, error) {
	p, err := m.store.GetProject(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get project: %w", ErrStoreFailure, err)
	}
	return p, nil
}

// getConversation loads a conversation and checks that it belongs to
// projectKey. An empty projectKey skips the check.
func (m *Manager) getConversation(ctx context.Context, projectKey, id string) (*Conversation, error) {
	c, err := m.store.GetConversation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get conversation: %w", ErrStoreFailure, err)
	}
	if projectKey != "" && c.ProjectKey != projectKey {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

// loadSnapshot resolves id to a document. An empty or missing id yields the
// empty document.
func (m *Manager) loadSnapshot(ctx context.Context, id SnapshotID) (techdoc.Snapshot, error) {
	if id == "" {
		return techdoc.EmptySnapshot(), nil
	}
	s, err := m.store.LoadSnapshot(ctx, id)
	if errors.Is(err, ErrNotFound) {
		m.logger.Warn("snapshot missing, using empty document", "snapshot_id", id)
		return techdoc.EmptySnapshot(), nil
	}
	if err != nil {
		return techdoc.Snapshot{}, fmt.Errorf("%w: load snapshot %s: %w", ErrStoreFailure, id, err)
	}
	return s, nil
}

// =============================================================================
// Accept and Replace
// =============================================================================

// Accept makes the conversation's latest snapshot the project's accepted
// document and restarts the conversation's cumulative diff from there. An
// empty projectKey accepts into whichever project owns the conversation.
//
// Accept is rejected with ErrTurnInProgress while a turn is open on the
// conversation. The project pointer is written first; if the conversation
// write then fails the project pointer is put back.
func (m *Manager) Accept(ctx context.Context, projectKey, conversationID string) (*Project, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "lineage.Accept",
		attribute.String("project_key", projectKey),
		attribute.String("conversation_id", conversationID))
	defer span.End()

	if !m.lockTurn(conversationID) {
		telemetry.RecordError(span, ErrTurnInProgress)
		return nil, ErrTurnInProgress
	}
	defer m.unlockTurn(conversationID)

	c, err := m.getConversation(ctx, projectKey, conversationID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	projectKey = c.ProjectKey
	if _, err := m.getProject(ctx, projectKey); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	latest := c.LatestSnapshotID
	if latest == "" {
		return m.getProject(ctx, projectKey)
	}

	var previous SnapshotID
	p, err := m.updateProject(ctx, projectKey, func(p *Project) {
		previous = p.SnapshotID
		p.SnapshotID = latest
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	c.BaseSnapshotID = latest
	c.FinalMutation = nil
	c.UpdatedAt = m.now()
	if err := m.store.PutConversation(ctx, c); err != nil {
		telemetry.RecordError(span, err)
		m.restoreProjectSnapshot(ctx, projectKey, latest, previous)
		return nil, fmt.Errorf("%w: put conversation: %w", ErrStoreFailure, err)
	}

	m.logger.Info("changes accepted",
		"project_key", projectKey,
		"conversation_id", conversationID,
		"snapshot_id", latest)
	telemetry.SetSpanOK(span)
	return p, nil
}

// restoreProjectSnapshot moves the project pointer back from moved to
// previous, unless something else has moved it since.
func (m *Manager) restoreProjectSnapshot(ctx context.Context, key string, moved, previous SnapshotID) {
	_, err := m.updateProject(ctx, key, func(p *Project) {
		if p.SnapshotID == moved {
			p.SnapshotID = previous
		}
	})
	if err != nil {
		m.logger.Error("project pointer rollback failed",
			"project_key", key,
			"snapshot_id", moved,
			"previous_snapshot_id", previous,
			"error", err)
	}
}

// ReplaceDocument saves a user-edited document. With a conversation id the
// conversation's latest pointer moves to it; otherwise the project's accepted
// pointer does.
func (m *Manager) ReplaceDocument(ctx context.Context, projectKey, conversationID string, doc techdoc.Snapshot) (SnapshotID, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "lineage.ReplaceDocument",
		attribute.String("project_key", projectKey),
		attribute.String("conversation_id", conversationID))
	defer span.End()

	if _, err := m.getProject(ctx, projectKey); err != nil {
		return "", err
	}

	var c *Conversation
	if conversationID != "" {
		if !m.lockTurn(conversationID) {
			return "", ErrTurnInProgress
		}
		defer m.unlockTurn(conversationID)

		var err error
		if c, err = m.getConversation(ctx, projectKey, conversationID); err != nil {
			return "", err
		}
	}

	id, err := m.store.SaveSnapshot(ctx, projectKey, doc)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("%w: save snapshot: %w", ErrStoreFailure, err)
	}

	if c == nil {
		if _, err := m.updateProject(ctx, projectKey, func(p *Project) { p.SnapshotID = id }); err != nil {
			telemetry.RecordError(span, err)
			return "", err
		}
		return id, nil
	}

	base, err := m.loadSnapshot(ctx, c.BaseSnapshotID)
	if err != nil {
		return "", err
	}
	c.LatestSnapshotID = id
	c.FinalMutation = techdoc.DiffSnapshots(base, doc)
	c.UpdatedAt = m.now()
	if err := m.store.PutConversation(ctx, c); err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("%w: put conversation: %w", ErrStoreFailure, err)
	}
	return id, nil
}

// =============================================================================
// Views
// =============================================================================

// ProjectView is a project with its accepted document.
type ProjectView struct {
	Project       *Project
	Document      techdoc.Snapshot
	Conversations []*Conversation
}

// ProjectDetail loads a project, its accepted document and its
// conversations.
func (m *Manager) ProjectDetail(ctx context.Context, key string) (*ProjectView, error) {
	p, err := m.getProject(ctx, key)
	if err != nil {
		return nil, err
	}
	doc, err := m.loadSnapshot(ctx, p.SnapshotID)
	if err != nil {
		return nil, err
	}
	convs, err := m.store.ListConversations(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: list conversations: %w", ErrStoreFailure, err)
	}
	return &ProjectView{Project: p, Document: doc, Conversations: convs}, nil
}

// ConversationView is a conversation with both ends of its lineage.
type ConversationView struct {
	Conversation *Conversation
	Base         techdoc.Snapshot
	Latest       techdoc.Snapshot
	Messages     []*Message
}

// ConversationDetail loads a conversation, its messages and the base and
// latest documents.
func (m *Manager) ConversationDetail(ctx context.Context, id string) (*ConversationView, error) {
	c, err := m.getConversation(ctx, "", id)
	if err != nil {
		return nil, err
	}
	base, err := m.loadSnapshot(ctx, c.BaseSnapshotID)
	if err != nil {
		return nil, err
	}
	latest, err := m.loadSnapshot(ctx, c.LatestSnapshotID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", ErrStoreFailure, err)
	}
	return &ConversationView{Conversation: c, Base: base, Latest: latest, Messages: msgs}, nil
}

// =============================================================================
// Turn Locks
// =============================================================================

func (m *Manager) lockTurn(conversationID string) bool {
	m.turnsMu.Lock()
	defer m.turnsMu.Unlock()
	if _, busy := m.turns[conversationID]; busy {
		return false
	}
	m.turns[conversationID] = struct{}{}
	return true
}

func (m *Manager) unlockTurn(conversationID string) {
	m.turnsMu.Lock()
	delete(m.turns, conversationID)
	m.turnsMu.Unlock()
}

// ActiveTurns returns the number of turns in flight.
func (m *Manager) ActiveTurns() int {
	m.turnsMu.Lock()
	defer m.turnsMu.Unlock()
	return len(m.turns)
}
