// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite implements lineage.Store on SQLite through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/lineage"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var pragmas = []string{
	"PRAGMA foreign_keys=ON",
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
	"PRAGMA synchronous=NORMAL",
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY,
	project_key TEXT NOT NULL,
	document    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS projects (
	project_key      TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	snapshot_id      TEXT NOT NULL DEFAULT '',
	source_prd       TEXT NOT NULL DEFAULT '',
	transformed_prd  TEXT NOT NULL DEFAULT '',
	tech_constraints TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
	id                 TEXT PRIMARY KEY,
	project_key        TEXT NOT NULL,
	base_snapshot_id   TEXT NOT NULL DEFAULT '',
	latest_snapshot_id TEXT NOT NULL DEFAULT '',
	final_mutation     TEXT NOT NULL DEFAULT 'null',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project_key, created_at);
CREATE TABLE IF NOT EXISTS messages (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id    TEXT NOT NULL REFERENCES conversations(id),
	role               TEXT NOT NULL,
	content            TEXT NOT NULL DEFAULT '',
	before_snapshot_id TEXT NOT NULL DEFAULT '',
	after_snapshot_id  TEXT NOT NULL DEFAULT '',
	mutation           TEXT NOT NULL DEFAULT 'null',
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
`

// Store implements lineage.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

var _ lineage.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
// Use MemoryPath for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Snapshots
// =============================================================================

func (s *Store) SaveSnapshot(ctx context.Context, projectKey string, doc techdoc.Snapshot) (lineage.SnapshotID, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	id := lineage.SnapshotID(uuid.NewString())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, project_key, document, created_at) VALUES (?, ?, ?, ?)`,
		string(id), projectKey, string(data), formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

func (s *Store) LoadSnapshot(ctx context.Context, id lineage.SnapshotID) (techdoc.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM snapshots WHERE id = ?`, string(id)).Scan(&data)
	if err != nil {
		return techdoc.Snapshot{}, mapNoRows(err)
	}
	var doc techdoc.Snapshot
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return techdoc.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return doc, nil
}

// =============================================================================
// Projects
// =============================================================================

func (s *Store) GetProject(ctx context.Context, key string) (*lineage.Project, error) {
	var (
		p                    lineage.Project
		status, snap         string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT project_key, status, snapshot_id, source_prd, transformed_prd, tech_constraints, created_at, updated_at
		FROM projects WHERE project_key = ?`, key).
		Scan(&p.Key, &status, &snap, &p.SourcePRD, &p.TransformedPRD, &p.TechConstraints, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	p.Status = lineage.ProjectStatus(status)
	p.SnapshotID = lineage.SnapshotID(snap)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (s *Store) PutProject(ctx context.Context, p *lineage.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (project_key, status, snapshot_id, source_prd, transformed_prd, tech_constraints, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_key) DO UPDATE SET
			status = excluded.status,
			snapshot_id = excluded.snapshot_id,
			source_prd = excluded.source_prd,
			transformed_prd = excluded.transformed_prd,
			tech_constraints = excluded.tech_constraints,
			updated_at = excluded.updated_at`,
		p.Key, string(p.Status), string(p.SnapshotID), p.SourcePRD, p.TransformedPRD, p.TechConstraints,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

// =============================================================================
// Conversations
// =============================================================================

const conversationColumns = `id, project_key, base_snapshot_id, latest_snapshot_id, final_mutation, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*lineage.Conversation, error) {
	var (
		c                    lineage.Conversation
		base, latest, final  string
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &c.ProjectKey, &base, &latest, &final, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.BaseSnapshotID = lineage.SnapshotID(base)
	c.LatestSnapshotID = lineage.SnapshotID(latest)
	if err := json.Unmarshal([]byte(final), &c.FinalMutation); err != nil {
		return nil, fmt.Errorf("decode final mutation: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*lineage.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return c, nil
}

func (s *Store) PutConversation(ctx context.Context, c *lineage.Conversation) error {
	final, err := json.Marshal(c.FinalMutation)
	if err != nil {
		return fmt.Errorf("encode final mutation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			base_snapshot_id = excluded.base_snapshot_id,
			latest_snapshot_id = excluded.latest_snapshot_id,
			final_mutation = excluded.final_mutation,
			updated_at = excluded.updated_at`,
		c.ID, c.ProjectKey, string(c.BaseSnapshotID), string(c.LatestSnapshotID), string(final),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (s *Store) ListConversations(ctx context.Context, projectKey string) ([]*lineage.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE project_key = ? ORDER BY created_at, id`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []*lineage.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// Messages
// =============================================================================

func (s *Store) AppendMessage(ctx context.Context, m *lineage.Message) error {
	mutation, err := json.Marshal(m.Mutation)
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, before_snapshot_id, after_snapshot_id, mutation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, string(m.Role), m.Content, string(m.BeforeSnapshotID), string(m.AfterSnapshotID),
		string(mutation), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	m.ID = id
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, m *lineage.Message) error {
	mutation, err := json.Marshal(m.Mutation)
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET role = ?, content = ?, before_snapshot_id = ?, after_snapshot_id = ?, mutation = ?
		WHERE id = ? AND conversation_id = ?`,
		string(m.Role), m.Content, string(m.BeforeSnapshotID), string(m.AfterSnapshotID), string(mutation),
		m.ID, m.ConversationID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n == 0 {
		return lineage.ErrNotFound
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*lineage.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, before_snapshot_id, after_snapshot_id, mutation, created_at
		FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*lineage.Message
	for rows.Next() {
		var (
			m                                    lineage.Message
			role, before, after, mut, createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &before, &after, &mut, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = lineage.Role(role)
		m.BeforeSnapshotID = lineage.SnapshotID(before)
		m.AfterSnapshotID = lineage.SnapshotID(after)
		if err := json.Unmarshal([]byte(mut), &m.Mutation); err != nil {
			return nil, fmt.Errorf("decode mutation of message %d: %w", m.ID, err)
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// =============================================================================
// Helpers
// =============================================================================

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return lineage.ErrNotFound
	}
	return err
}

// timeLayout has a fixed-width fraction so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts what formatTime writes. Anything else is the zero time.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
