// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/lineage"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key layout:
//
//	snap/<snapshot-id>                 snapshotRecord
//	proj/<project-key>                 lineage.Project
//	conv/<conversation-id>             lineage.Conversation
//	convidx/<project-key>/<conv-id>    empty
//	msg/<conversation-id>/<%020d id>   lineage.Message
const (
	prefixSnapshot     = "snap/"
	prefixProject      = "proj/"
	prefixConversation = "conv/"
	prefixConvIndex    = "convidx/"
	prefixMessage      = "msg/"

	messageSequenceKey = "seq/message"
	sequenceBandwidth  = 64
)

type snapshotRecord struct {
	ProjectKey string           `json:"projectKey"`
	CreatedAt  time.Time        `json:"createdAt"`
	Document   techdoc.Snapshot `json:"document"`
}

// Store implements lineage.Store on BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *DB
	seq    *badger.Sequence
	ownsDB bool
}

var _ lineage.Store = (*Store)(nil)

// Open opens a database with cfg and returns a Store that owns it.
func Open(cfg Config) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewStore wraps an open DB. Closing the Store does not close db.
func NewStore(db *DB) (*Store, error) {
	seq, err := db.GetSequence([]byte(messageSequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases the id sequence and, when the Store owns it, the database.
func (s *Store) Close() error {
	err := s.seq.Release()
	if s.ownsDB {
		err = errors.Join(err, s.db.Close())
	}
	return err
}

// =============================================================================
// Snapshots
// =============================================================================

// SaveSnapshot stores doc under a new random id.
func (s *Store) SaveSnapshot(ctx context.Context, projectKey string, doc techdoc.Snapshot) (lineage.SnapshotID, error) {
	id := lineage.SnapshotID(uuid.NewString())
	rec := snapshotRecord{ProjectKey: projectKey, CreatedAt: time.Now().UTC(), Document: doc}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, prefixSnapshot+string(id), rec)
	})
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return id, nil
}

// LoadSnapshot returns the document saved under id.
func (s *Store) LoadSnapshot(ctx context.Context, id lineage.SnapshotID) (techdoc.Snapshot, error) {
	var rec snapshotRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixSnapshot+string(id), &rec)
	})
	if err != nil {
		return techdoc.Snapshot{}, err
	}
	return rec.Document, nil
}

// =============================================================================
// Projects
// =============================================================================

func (s *Store) GetProject(ctx context.Context, key string) (*lineage.Project, error) {
	var p lineage.Project
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixProject+key, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PutProject(ctx context.Context, p *lineage.Project) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, prefixProject+p.Key, p)
	})
}

// =============================================================================
// Conversations
// =============================================================================

func (s *Store) GetConversation(ctx context.Context, id string) (*lineage.Conversation, error) {
	var c lineage.Conversation
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixConversation+id, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PutConversation writes c and indexes it under its project.
func (s *Store) PutConversation(ctx context.Context, c *lineage.Conversation) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := putJSON(txn, prefixConversation+c.ID, c); err != nil {
			return err
		}
		return txn.Set([]byte(prefixConvIndex+c.ProjectKey+"/"+c.ID), nil)
	})
}

// ListConversations returns the project's conversations, oldest first.
func (s *Store) ListConversations(ctx context.Context, projectKey string) ([]*lineage.Conversation, error) {
	var out []*lineage.Conversation
	prefix := []byte(prefixConvIndex + projectKey + "/")
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			var c lineage.Conversation
			if err := getJSON(txn, prefixConversation+id, &c); err != nil {
				return fmt.Errorf("conversation %s: %w", id, err)
			}
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// Messages
// =============================================================================

func messageKey(conversationID string, id int64) string {
	return fmt.Sprintf("%s%s/%020d", prefixMessage, conversationID, id)
}

// AppendMessage assigns m.ID from the store sequence and writes m.
func (s *Store) AppendMessage(ctx context.Context, m *lineage.Message) error {
	next, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next message id: %w", err)
	}
	m.ID = int64(next) + 1
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, messageKey(m.ConversationID, m.ID), m)
	})
}

// UpdateMessage replaces an existing message.
func (s *Store) UpdateMessage(ctx context.Context, m *lineage.Message) error {
	key := messageKey(m.ConversationID, m.ID)
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return mapNotFound(err)
		}
		return putJSON(txn, key, m)
	})
}

// ListMessages returns the conversation's messages in id order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*lineage.Message, error) {
	var out []*lineage.Message
	prefix := []byte(prefixMessage + conversationID + "/")
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m lineage.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			out = append(out, &m)
		}
		return nil
	})
	return out, err
}

// =============================================================================
// Helpers
// =============================================================================

func putJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return mapNotFound(err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

func mapNotFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return lineage.ErrNotFound
	}
	return err
}
