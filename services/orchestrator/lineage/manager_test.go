// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineage_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/lineage"
	"github.com/AleutianAI/AleutianArchitect/services/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyStore fails the write whose flag is set.
type faultyStore struct {
	lineage.Store
	failSave         atomic.Bool
	failConversation atomic.Bool
	failMessage      atomic.Bool
}

func (f *faultyStore) SaveSnapshot(ctx context.Context, projectKey string, s techdoc.Snapshot) (lineage.SnapshotID, error) {
	if f.failSave.Load() {
		return "", errors.New("disk full")
	}
	return f.Store.SaveSnapshot(ctx, projectKey, s)
}

func (f *faultyStore) PutConversation(ctx context.Context, c *lineage.Conversation) error {
	if f.failConversation.Load() {
		return errors.New("disk full")
	}
	return f.Store.PutConversation(ctx, c)
}

func (f *faultyStore) UpdateMessage(ctx context.Context, msg *lineage.Message) error {
	if f.failMessage.Load() {
		return errors.New("disk full")
	}
	return f.Store.UpdateMessage(ctx, msg)
}

func newManager(t *testing.T) (*lineage.Manager, *faultyStore) {
	t.Helper()
	s, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	fs := &faultyStore{Store: s}
	return lineage.NewManager(fs), fs
}

func create(c techdoc.Category, id, title string) techdoc.MutationSet {
	set := techdoc.MutationSet{}
	set.Put(c, id, techdoc.MutationItem{
		Type: techdoc.MutationCreate,
		Data: techdoc.Item{Payload: techdoc.Payload{"title": title}},
	})
	return set
}

func update(c techdoc.Category, id, title string) techdoc.MutationSet {
	set := techdoc.MutationSet{}
	set.Put(c, id, techdoc.MutationItem{
		Type: techdoc.MutationUpdate,
		Data: techdoc.Item{Payload: techdoc.Payload{"title": title}},
	})
	return set
}

func TestUpsertProject_Idempotent(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	p1, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, lineage.StatusInit, p1.Status)
	require.NotEmpty(t, p1.SnapshotID)

	p2, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, p1.SnapshotID, p2.SnapshotID)

	view, err := m.ProjectDetail(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, 0, view.Document.Len())
	assert.Len(t, view.Document.Categories(), len(techdoc.Categories()))
}

func TestBeginTurn_UnknownProject(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.BeginTurn(context.Background(), "nope", "", "hello")
	assert.ErrorIs(t, err, lineage.ErrProjectNotFound)
}

func TestTurn_CompleteMovesConversationNotProject(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	p, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	turn, err := m.BeginTurn(ctx, "shop", "", "split modules")
	require.NoError(t, err)
	assert.Empty(t, turn.History)
	assert.Equal(t, p.SnapshotID, turn.Conversation.BaseSnapshotID)
	assert.Equal(t, p.SnapshotID, turn.AnswerMessage.BeforeSnapshotID)
	assert.NotEmpty(t, turn.MessageRef())

	res, err := turn.Complete(ctx, "answer text", create(techdoc.CategoryModule, "billing", "Billing"))
	require.NoError(t, err)

	it, ok := res.NewState.Get(techdoc.CategoryModule, "billing")
	require.True(t, ok)
	assert.Equal(t, 1, it.Version)
	assert.Equal(t, 1, res.ConversationMutation.Len())
	assert.NotEqual(t, p.SnapshotID, res.SnapshotID)

	conv, err := m.ConversationDetail(ctx, turn.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, res.SnapshotID, conv.Conversation.LatestSnapshotID)
	assert.Equal(t, p.SnapshotID, conv.Conversation.BaseSnapshotID)
	assert.True(t, res.NewState.Equal(conv.Latest))
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, lineage.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "split modules", conv.Messages[0].Content)
	assert.Equal(t, "answer text", conv.Messages[1].Content)
	assert.Equal(t, res.SnapshotID, conv.Messages[1].AfterSnapshotID)
	assert.Equal(t, p.SnapshotID, conv.Messages[1].BeforeSnapshotID)

	view, err := m.ProjectDetail(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, p.SnapshotID, view.Project.SnapshotID, "project moves only on accept")
	assert.Equal(t, lineage.StatusModuleInitialized, view.Project.Status)
	assert.Len(t, view.Conversations, 1)
}

func TestTurn_SecondTurnSeesHistoryAndCumulativeDiff(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	first, err := m.BeginTurn(ctx, "shop", "", "one")
	require.NoError(t, err)
	_, err = first.Complete(ctx, "a1", create(techdoc.CategoryModule, "billing", "Billing"))
	require.NoError(t, err)

	second, err := m.BeginTurn(ctx, "shop", first.Conversation.ID, "two")
	require.NoError(t, err)
	assert.Len(t, second.History, 2)
	assert.True(t, second.Current.Has(techdoc.CategoryModule, "billing"))

	res, err := second.Complete(ctx, "a2", update(techdoc.CategoryModule, "billing", "Billing v2"))
	require.NoError(t, err)

	it, _ := res.NewState.Get(techdoc.CategoryModule, "billing")
	assert.Equal(t, 2, it.Version)

	// Relative to the empty base the item is still a create.
	mi, ok := res.ConversationMutation.Get(techdoc.CategoryModule, "billing")
	require.True(t, ok)
	assert.Equal(t, techdoc.MutationCreate, mi.Type)
	assert.Equal(t, "Billing v2", mi.Data.Payload["title"])
}

func TestBeginTurn_RejectsConcurrentTurn(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	turn, err := m.BeginTurn(ctx, "shop", "", "one")
	require.NoError(t, err)
	assert.Equal(t, 1, m.ActiveTurns())

	_, err = m.BeginTurn(ctx, "shop", turn.Conversation.ID, "two")
	assert.ErrorIs(t, err, lineage.ErrTurnInProgress)

	_, err = m.ReplaceDocument(ctx, "shop", turn.Conversation.ID, techdoc.EmptySnapshot())
	assert.ErrorIs(t, err, lineage.ErrTurnInProgress)

	turn.Abort()
	turn.Abort()
	assert.Equal(t, 0, m.ActiveTurns())

	_, err = turn.Complete(ctx, "late", nil)
	assert.ErrorIs(t, err, lineage.ErrTurnClosed)

	again, err := m.BeginTurn(ctx, "shop", turn.Conversation.ID, "two")
	require.NoError(t, err)
	again.Abort()
}

func TestBeginTurn_UnknownConversationStartsNew(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	turn, err := m.BeginTurn(ctx, "shop", "does-not-exist", "hi")
	require.NoError(t, err)
	defer turn.Abort()
	assert.NotEqual(t, "does-not-exist", turn.Conversation.ID)
}

func TestTurn_StoreFailureKeepsPointers(t *testing.T) {
	m, fs := newManager(t)
	ctx := context.Background()
	p, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	turn, err := m.BeginTurn(ctx, "shop", "", "one")
	require.NoError(t, err)

	fs.failSave.Store(true)
	_, err = turn.Complete(ctx, "answer", create(techdoc.CategoryModule, "billing", "Billing"))
	require.ErrorIs(t, err, lineage.ErrStoreFailure)
	fs.failSave.Store(false)

	conv, err := m.ConversationDetail(ctx, turn.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, p.SnapshotID, conv.Conversation.LatestSnapshotID)
	assert.Equal(t, p.SnapshotID, conv.Messages[1].AfterSnapshotID)
	assert.Empty(t, conv.Messages[1].Content)
	assert.Equal(t, 0, m.ActiveTurns())

	view, err := m.ProjectDetail(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, lineage.StatusInit, view.Project.Status)
}

func TestAccept_MovesProjectAndRebasesConversation(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	turn, err := m.BeginTurn(ctx, "shop", "", "one")
	require.NoError(t, err)
	res, err := turn.Complete(ctx, "a1", create(techdoc.CategoryModule, "billing", "Billing"))
	require.NoError(t, err)

	p, err := m.Accept(ctx, "shop", turn.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, res.SnapshotID, p.SnapshotID)

	next, err := m.BeginTurn(ctx, "shop", turn.Conversation.ID, "two")
	require.NoError(t, err)
	res2, err := next.Complete(ctx, "a2", create(techdoc.CategoryEnum, "billing/Status", "Status"))
	require.NoError(t, err)
	assert.Equal(t, []techdoc.Category{techdoc.CategoryEnum}, res2.ConversationMutation.Categories())

	_, err = m.UpsertProject(ctx, "other")
	require.NoError(t, err)
	_, err = m.Accept(ctx, "other", turn.Conversation.ID)
	assert.ErrorIs(t, err, lineage.ErrConversationNotFound)

	p, err = m.Accept(ctx, "", turn.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "shop", p.Key)
	assert.Equal(t, res2.SnapshotID, p.SnapshotID)
}

func TestReplaceDocument(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	doc := techdoc.ApplyPatch(techdoc.EmptySnapshot(), create(techdoc.CategoryModule, "orders", "Orders"))

	id, err := m.ReplaceDocument(ctx, "shop", "", doc)
	require.NoError(t, err)
	view, err := m.ProjectDetail(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, id, view.Project.SnapshotID)
	assert.True(t, view.Document.Has(techdoc.CategoryModule, "orders"))

	turn, err := m.BeginTurn(ctx, "shop", "", "one")
	require.NoError(t, err)
	_, err = turn.Complete(ctx, "a1", nil)
	require.NoError(t, err)

	edited := techdoc.ApplyPatch(doc, create(techdoc.CategoryModule, "users", "Users"))
	convSnap, err := m.ReplaceDocument(ctx, "shop", turn.Conversation.ID, edited)
	require.NoError(t, err)

	conv, err := m.ConversationDetail(ctx, turn.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, convSnap, conv.Conversation.LatestSnapshotID)
	assert.Equal(t, id, conv.Conversation.BaseSnapshotID)
	assert.Equal(t, 1, conv.Conversation.FinalMutation.Len())

	_, err = m.ReplaceDocument(ctx, "shop", "missing", edited)
	assert.ErrorIs(t, err, lineage.ErrConversationNotFound)
	_, err = m.ReplaceDocument(ctx, "nope", "", edited)
	assert.ErrorIs(t, err, lineage.ErrProjectNotFound)
}

func TestSetProjectContent(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	p, err := m.SetProjectContent(ctx, "shop", lineage.ProjectContent{SourcePRD: "prd", TechConstraints: "go"})
	require.NoError(t, err)
	assert.Equal(t, lineage.StatusPRDTransformed, p.Status)
	assert.Equal(t, "prd", p.SourcePRD)

	_, err = m.SetProjectContent(ctx, "nope", lineage.ProjectContent{})
	assert.ErrorIs(t, err, lineage.ErrProjectNotFound)
}

func TestConversationDetail_NotFound(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.ConversationDetail(context.Background(), "missing")
	assert.ErrorIs(t, err, lineage.ErrConversationNotFound)
}

func TestAccept_RejectedWhileTurnOpen(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	first, err := m.BeginTurn(ctx, "shop", "", "one")
	require.NoError(t, err)
	_, err = first.Complete(ctx, "a1", create(techdoc.CategoryModule, "billing", "Billing"))
	require.NoError(t, err)
	convID := first.Conversation.ID

	second, err := m.BeginTurn(ctx, "shop", convID, "two")
	require.NoError(t, err)
	_, err = m.Accept(ctx, "shop", convID)
	require.ErrorIs(t, err, lineage.ErrTurnInProgress)

	res, err := second.Complete(ctx, "a2", create(techdoc.CategoryModule, "orders", "Orders"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.ConversationMutation.Len())

	p, err := m.Accept(ctx, "shop", convID)
	require.NoError(t, err)
	assert.Equal(t, res.SnapshotID, p.SnapshotID)

	conv, err := m.ConversationDetail(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, p.SnapshotID, conv.Conversation.BaseSnapshotID)
	assert.True(t, conv.Conversation.FinalMutation.IsEmpty())
}

func TestTurn_ConversationWriteFailureKeepsMessage(t *testing.T) {
	m, fs := newManager(t)
	ctx := context.Background()
	p, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	turn, err := m.BeginTurn(ctx, "shop", "", "one")
	require.NoError(t, err)

	fs.failConversation.Store(true)
	_, err = turn.Complete(ctx, "a", create(techdoc.CategoryModule, "billing", "Billing"))
	require.ErrorIs(t, err, lineage.ErrStoreFailure)
	fs.failConversation.Store(false)

	conv, err := m.ConversationDetail(ctx, turn.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, p.SnapshotID, conv.Conversation.LatestSnapshotID)
	assert.Equal(t, p.SnapshotID, conv.Messages[1].AfterSnapshotID)
	assert.Empty(t, conv.Messages[1].Content)
	assert.Equal(t, 0, m.ActiveTurns())
}

func TestTurn_MessageWriteFailureRestoresConversation(t *testing.T) {
	m, fs := newManager(t)
	ctx := context.Background()
	p, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	turn, err := m.BeginTurn(ctx, "shop", "", "one")
	require.NoError(t, err)

	fs.failMessage.Store(true)
	_, err = turn.Complete(ctx, "a", create(techdoc.CategoryModule, "billing", "Billing"))
	require.ErrorIs(t, err, lineage.ErrStoreFailure)
	fs.failMessage.Store(false)

	conv, err := m.ConversationDetail(ctx, turn.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, p.SnapshotID, conv.Conversation.LatestSnapshotID)
	assert.True(t, conv.Conversation.FinalMutation.IsEmpty())
	assert.Equal(t, p.SnapshotID, conv.Messages[1].AfterSnapshotID)
}

func TestAccept_ConversationWriteFailureRestoresProject(t *testing.T) {
	m, fs := newManager(t)
	ctx := context.Background()
	p, err := m.UpsertProject(ctx, "shop")
	require.NoError(t, err)

	turn, err := m.BeginTurn(ctx, "shop", "", "one")
	require.NoError(t, err)
	_, err = turn.Complete(ctx, "a1", create(techdoc.CategoryModule, "billing", "Billing"))
	require.NoError(t, err)

	fs.failConversation.Store(true)
	_, err = m.Accept(ctx, "shop", turn.Conversation.ID)
	require.ErrorIs(t, err, lineage.ErrStoreFailure)
	fs.failConversation.Store(false)

	view, err := m.ProjectDetail(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, p.SnapshotID, view.Project.SnapshotID)

	conv, err := m.ConversationDetail(ctx, turn.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, p.SnapshotID, conv.Conversation.BaseSnapshotID)
	assert.Equal(t, 1, conv.Conversation.FinalMutation.Len())
	assert.Equal(t, 0, m.ActiveTurns())
}
