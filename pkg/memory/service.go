// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loganrossus/loom/pkg/config"
	"github.com/loganrossus/loom/pkg/store"
)

// Service errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
)

// Service persists sessions, conversations, messages and memories, and
// keeps a per-session hot cache of recently used memories.
type Service struct {
	store  store.Store
	cache  *hotCache
	cfg    config.MemoryConfig
	logger *slog.Logger
}

// NewService creates a memory service over the given store.
func NewService(st store.Store, cfg config.MemoryConfig, logger *slog.Logger) *Service {
	if cfg.HotCacheMaxPerSession <= 0 {
		cfg.HotCacheMaxPerSession = config.DefaultHotCacheMaxPerSession
	}
	if cfg.MaxMessagesPerSession <= 0 {
		cfg.MaxMessagesPerSession = config.DefaultMaxMessagesPerSession
	}
	if cfg.RecentMessagesOnResume <= 0 {
		cfg.RecentMessagesOnResume = config.DefaultRecentMessagesOnResume
	}
	if cfg.SearchTopK <= 0 {
		cfg.SearchTopK = config.DefaultSearchTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		cache:  newHotCache(cfg.HotCacheMaxPerSession),
		cfg:    cfg,
		logger: logger.With("component", "memory"),
	}
}

// messageKey orders messages chronologically under their session.
func messageKey(sessionID string, createdAt time.Time, id string) string {
	return fmt.Sprintf("%s/%020d/%s", sessionID, createdAt.UnixNano(), id)
}

func memoryKey(sessionID, id string) string {
	return sessionID + "/" + id
}

func cotKey(messageID string, step int) string {
	return fmt.Sprintf("%s/%06d", messageID, step)
}

// CreateSession creates and persists a new session.
func (s *Service) CreateSession(ctx context.Context, userID string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, store.BucketSessions, sess.ID, data); err != nil {
		return nil, err
	}
	s.logger.Debug("session created", "session_id", sess.ID, "user_id", userID)
	return sess, nil
}

// GetSession loads a session by ID.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.store.Get(ctx, store.BucketSessions, sessionID)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// StartConversation opens a new conversation within a session.
func (s *Service) StartConversation(ctx context.Context, sessionID, title string) (*Conversation, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	conv := &Conversation{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return nil, err
	}
	key := sessionID + "/" + conv.ID
	if err := s.store.Set(ctx, store.BucketConversations, key, data); err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendMessage persists one message and its search index entries in a
// single transaction. Sessions over the soft message cap still accept
// the write; code-edit messages do not count toward the cap.
func (s *Service) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.SessionID == "" {
		return ErrSessionNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var overCap int
	err := s.store.Update(ctx, func(tx store.Tx) error {
		raw, err := tx.Get(store.BucketSessions, msg.SessionID)
		if errors.Is(err, store.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}

		if !msg.IsCodeEdit {
			sess.MessageCount++
			if sess.MessageCount > s.cfg.MaxMessagesPerSession {
				overCap = sess.MessageCount
			}
		}
		sess.LastActiveAt = msg.CreatedAt

		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := tx.Set(store.BucketMessages, messageKey(msg.SessionID, msg.CreatedAt, msg.ID), data); err != nil {
			return err
		}
		if err := indexText(tx, store.BucketFTSMessages, msg.SessionID, msg.ID, msg.Content); err != nil {
			return err
		}

		sessData, err := json.Marshal(&sess)
		if err != nil {
			return err
		}
		return tx.Set(store.BucketSessions, msg.SessionID, sessData)
	})
	if err != nil {
		return err
	}

	if overCap > 0 {
		s.logger.Warn("session over message cap",
			"session_id", msg.SessionID,
			"messages", overCap,
			"cap", s.cfg.MaxMessagesPerSession)
	}
	return nil
}

// StoreMemory persists a session memory and inserts it into the hot
// cache. The cold store stays authoritative, so a same-transaction
// eviction needs no write-back.
func (s *Service) StoreMemory(ctx context.Context, mem *SessionMemory) error {
	if mem.SessionID == "" {
		return ErrSessionNotFound
	}
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}

	err := s.store.Update(ctx, func(tx store.Tx) error {
		data, err := json.Marshal(mem)
		if err != nil {
			return err
		}
		if err := tx.Set(store.BucketMemories, memoryKey(mem.SessionID, mem.ID), data); err != nil {
			return err
		}
		return indexText(tx, store.BucketFTSMemories, mem.SessionID, mem.ID, mem.Content)
	})
	if err != nil {
		return err
	}

	s.cache.Put(mem)
	return nil
}

// sessionMemories loads every memory stored for a session, skipping
// expired rows.
func (s *Service) sessionMemories(ctx context.Context, sessionID string) ([]*SessionMemory, error) {
	pairs, err := s.store.List(ctx, store.BucketMemories, sessionID+"/")
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]*SessionMemory, 0, len(pairs))
	for _, p := range pairs {
		var mem SessionMemory
		if err := json.Unmarshal(p.Value, &mem); err != nil {
			return nil, err
		}
		if mem.Expired(now) {
			continue
		}
		out = append(out, &mem)
	}
	return out, nil
}

// ResumeSession rehydrates the hot cache from the cold store and
// returns the most recent messages plus any saved continuity record.
func (s *Service) ResumeSession(ctx context.Context, sessionID string) (*Resume, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	memories, err := s.sessionMemories(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(memories, func(i, j int) bool {
		if memories[i].Importance != memories[j].Importance {
			return memories[i].Importance > memories[j].Importance
		}
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
	if len(memories) > s.cfg.HotCacheMaxPerSession {
		memories = memories[:s.cfg.HotCacheMaxPerSession]
	}
	// Insert least important first so the hottest end up most recent.
	s.cache.DropSession(sessionID)
	for i := len(memories) - 1; i >= 0; i-- {
		s.cache.Put(memories[i])
	}

	msgs, err := s.RecentMessages(ctx, sessionID, s.cfg.RecentMessagesOnResume)
	if err != nil {
		return nil, err
	}

	resume := &Resume{Session: sess, Messages: msgs}
	contData, err := s.store.Get(ctx, store.BucketContinuity, sessionID)
	if err == nil {
		var cont Continuity
		if err := json.Unmarshal(contData, &cont); err != nil {
			return nil, err
		}
		resume.Continuity = &cont
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, err
	}

	s.logger.Info("session resumed",
		"session_id", sessionID,
		"memories", len(memories),
		"messages", len(msgs),
		"continuity", resume.Continuity != nil)
	return resume, nil
}

// RecentMessages returns up to n of a session's newest messages in
// chronological order.
func (s *Service) RecentMessages(ctx context.Context, sessionID string, n int) ([]*Message, error) {
	pairs, err := s.store.List(ctx, store.BucketMessages, sessionID+"/")
	if err != nil {
		return nil, err
	}
	if n > 0 && len(pairs) > n {
		pairs = pairs[len(pairs)-n:]
	}
	msgs := make([]*Message, 0, len(pairs))
	for _, p := range pairs {
		var msg Message
		if err := json.Unmarshal(p.Value, &msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// SearchSessionMemories runs a full-text search over a session's
// memories, ranked by term match count then importance. Returned
// memories have their recall counters bumped and are re-inserted hot.
func (s *Service) SearchSessionMemories(ctx context.Context, sessionID, query string) ([]*SessionMemory, error) {
	matches, err := searchIndex(ctx, s.store, store.BucketFTSMemories, sessionID, query)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var hits []*SessionMemory
	rank := make(map[string]int, len(matches))
	for id, count := range matches {
		data, err := s.store.Get(ctx, store.BucketMemories, memoryKey(sessionID, id))
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var mem SessionMemory
		if err := json.Unmarshal(data, &mem); err != nil {
			return nil, err
		}
		if mem.Expired(now) {
			continue
		}
		rank[mem.ID] = count
		hits = append(hits, &mem)
	}

	sort.Slice(hits, func(i, j int) bool {
		if rank[hits[i].ID] != rank[hits[j].ID] {
			return rank[hits[i].ID] > rank[hits[j].ID]
		}
		if hits[i].Importance != hits[j].Importance {
			return hits[i].Importance > hits[j].Importance
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > s.cfg.SearchTopK {
		hits = hits[:s.cfg.SearchTopK]
	}

	err = s.store.Update(ctx, func(tx store.Tx) error {
		for _, mem := range hits {
			mem.RecallCount++
			mem.LastRecalledAt = now
			data, err := json.Marshal(mem)
			if err != nil {
				return err
			}
			if err := tx.Set(store.BucketMemories, memoryKey(sessionID, mem.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, mem := range hits {
		s.cache.Put(mem)
	}
	return hits, nil
}

// StoreChainOfThought persists the reasoning steps for one message.
// All steps commit or none do.
func (s *Service) StoreChainOfThought(ctx context.Context, messageID string, steps []ChainOfThoughtStep) error {
	if messageID == "" {
		return ErrMessageNotFound
	}
	return s.store.Update(ctx, func(tx store.Tx) error {
		for i := range steps {
			steps[i].MessageID = messageID
			if steps[i].StepNumber == 0 {
				steps[i].StepNumber = i + 1
			}
			data, err := json.Marshal(&steps[i])
			if err != nil {
				return err
			}
			if err := tx.Set(store.BucketChainOfThought, cotKey(messageID, steps[i].StepNumber), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ChainOfThought loads the stored steps for a message, in step order.
func (s *Service) ChainOfThought(ctx context.Context, messageID string) ([]ChainOfThoughtStep, error) {
	pairs, err := s.store.List(ctx, store.BucketChainOfThought, messageID+"/")
	if err != nil {
		return nil, err
	}
	steps := make([]ChainOfThoughtStep, 0, len(pairs))
	for _, p := range pairs {
		var step ChainOfThoughtStep
		if err := json.Unmarshal(p.Value, &step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// SaveContinuity stores the resume record for a session.
func (s *Service) SaveContinuity(ctx context.Context, cont *Continuity) error {
	if cont.SessionID == "" {
		return ErrSessionNotFound
	}
	if cont.SavedAt.IsZero() {
		cont.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cont)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, store.BucketContinuity, cont.SessionID, data)
}

// HotCacheLen reports the hot cache entry count for a session.
func (s *Service) HotCacheLen(sessionID string) int {
	return s.cache.Len(sessionID)
}
