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
	"strconv"
	"sync"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// =============================================================================
// Turn
// =============================================================================

// Turn is one in-flight exchange: a user command and the assistant answer
// that will patch the conversation's latest document.
//
// # Description
//
// A Turn holds the conversation lock from BeginTurn until Complete or Abort.
// Exactly one of them must be called. Both are safe to call more than once;
// only the first call has an effect.
type Turn struct {
	m *Manager

	// Project is the project as it was when the turn began.
	Project *Project

	// Conversation is the conversation as it was when the turn began. A new
	// conversation has already been persisted.
	Conversation *Conversation

	// UserMessage and AnswerMessage are the persisted messages of this turn.
	// AnswerMessage has empty content until Complete.
	UserMessage   *Message
	AnswerMessage *Message

	// History is every message of the conversation before this turn, in
	// creation order.
	History []*Message

	// Base is the conversation's base document. Current is its latest.
	Base    techdoc.Snapshot
	Current techdoc.Snapshot

	mu     sync.Mutex
	closed bool
}

// TurnResult is what a completed turn produced.
type TurnResult struct {
	// AnswerMutation is the mutation set extracted from the answer.
	AnswerMutation techdoc.MutationSet

	// ConversationMutation is the diff from the conversation's base to
	// NewState.
	ConversationMutation techdoc.MutationSet

	// NewState is the document after applying AnswerMutation.
	NewState techdoc.Snapshot

	// SnapshotID addresses NewState.
	SnapshotID SnapshotID
}

// MessageRef returns the answer message id as it appears on the wire.
func (t *Turn) MessageRef() string {
	return strconv.FormatInt(t.AnswerMessage.ID, 10)
}

// BeginTurn starts a turn on a conversation of projectKey.
//
// # Description
//
// An empty or unknown conversationID starts a new conversation whose base
// and latest snapshots are the project's accepted snapshot. The user command
// and an empty assistant message are appended with before and after set to
// the conversation's latest snapshot.
//
// # Outputs
//
//   - *Turn: The turn. The caller must Complete or Abort it.
//   - error: ErrProjectNotFound, ErrTurnInProgress, or ErrStoreFailure.
func (m *Manager) BeginTurn(ctx context.Context, projectKey, conversationID, command string) (*Turn, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "lineage.BeginTurn",
		attribute.String("project_key", projectKey),
		attribute.String("conversation_id", conversationID))
	defer span.End()

	p, err := m.getProject(ctx, projectKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	c, err := m.lockConversation(ctx, p, conversationID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	t, err := m.openTurn(ctx, p, c, command)
	if err != nil {
		m.unlockTurn(c.ID)
		telemetry.RecordError(span, err)
		return nil, err
	}
	m.logger.Info("turn started",
		"project_key", projectKey,
		"conversation_id", c.ID,
		"message_id", t.AnswerMessage.ID,
		"history", len(t.History))
	return t, nil
}

// lockConversation takes the turn lock and returns the conversation to use.
// The lock is taken before the record is read so that a turn always sees the
// pointers left by the previous one.
func (m *Manager) lockConversation(ctx context.Context, p *Project, conversationID string) (*Conversation, error) {
	if conversationID != "" {
		if !m.lockTurn(conversationID) {
			return nil, ErrTurnInProgress
		}
		c, err := m.getConversation(ctx, p.Key, conversationID)
		if err == nil {
			return c, nil
		}
		m.unlockTurn(conversationID)
		if !errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
	}

	now := m.now()
	c := &Conversation{
		ID:               m.newID(),
		ProjectKey:       p.Key,
		BaseSnapshotID:   p.SnapshotID,
		LatestSnapshotID: p.SnapshotID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !m.lockTurn(c.ID) {
		return nil, ErrTurnInProgress
	}
	if err := m.store.PutConversation(ctx, c); err != nil {
		m.unlockTurn(c.ID)
		return nil, fmt.Errorf("%w: put conversation: %w", ErrStoreFailure, err)
	}
	return c, nil
}

func (m *Manager) openTurn(ctx context.Context, p *Project, c *Conversation, command string) (*Turn, error) {
	history, err := m.store.ListMessages(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", ErrStoreFailure, err)
	}
	base, err := m.loadSnapshot(ctx, c.BaseSnapshotID)
	if err != nil {
		return nil, err
	}
	current, err := m.loadSnapshot(ctx, c.LatestSnapshotID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	user := &Message{
		ConversationID:   c.ID,
		Role:             RoleUser,
		Content:          command,
		BeforeSnapshotID: c.LatestSnapshotID,
		AfterSnapshotID:  c.LatestSnapshotID,
		CreatedAt:        now,
	}
	if err := m.store.AppendMessage(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: append user message: %w", ErrStoreFailure, err)
	}
	answer := &Message{
		ConversationID:   c.ID,
		Role:             RoleAssistant,
		BeforeSnapshotID: c.LatestSnapshotID,
		AfterSnapshotID:  c.LatestSnapshotID,
		CreatedAt:        now,
	}
	if err := m.store.AppendMessage(ctx, answer); err != nil {
		return nil, fmt.Errorf("%w: append answer message: %w", ErrStoreFailure, err)
	}

	return &Turn{
		m:             m,
		Project:       p,
		Conversation:  c,
		UserMessage:   user,
		AnswerMessage: answer,
		History:       history,
		Base:          base,
		Current:       current,
	}, nil
}

// Complete applies set to the current document and persists the result.
//
// # Description
//
// The conversation record is re-read under the turn lock and the new
// document is saved. If either fails no pointer moves and the error wraps
// ErrStoreFailure. Otherwise the conversation's latest pointer moves to the
// new snapshot, then the answer message records answer, set and the snapshot
// id. If the message write fails the conversation record is put back. A
// project still in Init or PRDTransformed becomes ModuleInitialized. The turn
// lock is released in every case.
func (t *Turn) Complete(ctx context.Context, answer string, set techdoc.MutationSet) (*TurnResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTurnClosed
	}
	t.closed = true
	defer t.m.unlockTurn(t.Conversation.ID)

	m := t.m
	ctx, span := telemetry.StartSpan(ctx, tracerName, "lineage.Turn.Complete",
		attribute.String("project_key", t.Project.Key),
		attribute.String("conversation_id", t.Conversation.ID),
		attribute.Int("mutations", set.Len()))
	defer span.End()

	if set == nil {
		set = techdoc.MutationSet{}
	}

	stored, err := m.getConversation(ctx, "", t.Conversation.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	base := t.Base
	if stored.BaseSnapshotID != t.Conversation.BaseSnapshotID {
		if base, err = m.loadSnapshot(ctx, stored.BaseSnapshotID); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}
	newState := techdoc.ApplyPatch(t.Current, set)
	convMutation := techdoc.DiffSnapshots(base, newState)

	id, err := m.store.SaveSnapshot(ctx, t.Project.Key, newState)
	if err != nil {
		telemetry.RecordError(span, err)
		m.logger.Error("turn snapshot save failed",
			"project_key", t.Project.Key,
			"conversation_id", t.Conversation.ID,
			"error", err)
		return nil, fmt.Errorf("%w: save snapshot: %w", ErrStoreFailure, err)
	}

	conv := *stored
	conv.LatestSnapshotID = id
	conv.FinalMutation = convMutation
	conv.UpdatedAt = m.now()
	if err := m.store.PutConversation(ctx, &conv); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: put conversation: %w", ErrStoreFailure, err)
	}

	msg := *t.AnswerMessage
	msg.Content = answer
	msg.AfterSnapshotID = id
	msg.Mutation = set
	if err := m.store.UpdateMessage(ctx, &msg); err != nil {
		telemetry.RecordError(span, err)
		if rbErr := m.store.PutConversation(ctx, stored); rbErr != nil {
			m.logger.Error("conversation pointer rollback failed",
				"conversation_id", stored.ID,
				"snapshot_id", id,
				"error", rbErr)
		}
		return nil, fmt.Errorf("%w: update message: %w", ErrStoreFailure, err)
	}
	t.AnswerMessage = &msg
	t.Conversation = &conv

	if t.Project.Status == StatusInit || t.Project.Status == StatusPRDTransformed {
		p, err := m.updateProject(ctx, t.Project.Key, func(p *Project) {
			if p.Status == StatusInit || p.Status == StatusPRDTransformed {
				p.Status = StatusModuleInitialized
			}
		})
		if err != nil {
			m.logger.Warn("project status promotion failed",
				"project_key", t.Project.Key, "error", err)
		} else {
			t.Project = p
		}
	}

	m.logger.Info("turn completed",
		"project_key", t.Project.Key,
		"conversation_id", conv.ID,
		"snapshot_id", id,
		"answer_mutations", set.Len(),
		"conversation_mutations", convMutation.Len())
	telemetry.SetSpanOK(span)
	return &TurnResult{
		AnswerMutation:       set,
		ConversationMutation: convMutation,
		NewState:             newState,
		SnapshotID:           id,
	}, nil
}

// Abort releases the turn without persisting an answer. The user command
// and the empty answer message stay in the conversation.
func (t *Turn) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.m.unlockTurn(t.Conversation.ID)
	t.m.logger.Warn("turn aborted",
		"project_key", t.Project.Key,
		"conversation_id", t.Conversation.ID,
		"message_id", t.AnswerMessage.ID)
}
