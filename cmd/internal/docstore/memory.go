// Package docstore contains the persistence backends behind chat.Store:
// MongoDB (document store), PostgreSQL and an in-memory fallback.
package docstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"batepapo/cmd/internal/chat"
	"batepapo/cmd/internal/ids"
)

// MemoryStore is a dev-only fallback when no database is configured.
// A single mutex makes registration (participant + join notice) atomic.
type MemoryStore struct {
	mu           sync.Mutex
	participants map[string]chat.Participant
	order        []string // participant insertion order
	msgs         []chat.Message
	byID         map[string]int // id -> index in msgs
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[string]chat.Participant),
		msgs:         make([]chat.Message, 0, 256),
		byID:         make(map[string]int),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// ListParticipants returns participants in registration order.
func (s *MemoryStore) ListParticipants(ctx context.Context) ([]chat.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Participant, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.participants[name])
	}
	return out, nil
}

// GetParticipant returns the participant named name or chat.ErrNotFound.
func (s *MemoryStore) GetParticipant(ctx context.Context, name string) (chat.Participant, error) {
	if err := ctx.Err(); err != nil {
		return chat.Participant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[name]
	if !ok {
		return chat.Participant{}, chat.ErrNotFound
	}
	return p, nil
}

// CreateParticipant inserts p and notice under one lock.
func (s *MemoryStore) CreateParticipant(ctx context.Context, p chat.Participant, notice chat.Message) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.Name]; ok {
		return chat.Message{}, chat.ErrConflict
	}
	stored, err := s.appendLocked(notice)
	if err != nil {
		return chat.Message{}, err
	}
	s.participants[p.Name] = p
	s.order = append(s.order, p.Name)
	return stored, nil
}

// TouchParticipant raises lastStatus; it never lowers it.
func (s *MemoryStore) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[name]
	if !ok {
		return chat.ErrNotFound
	}
	if lastStatus > p.LastStatus {
		p.LastStatus = lastStatus
		s.participants[name] = p
	}
	return nil
}

// ListStale returns participants with lastStatus < cutoff.
func (s *MemoryStore) ListStale(ctx context.Context, cutoff int64) ([]chat.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []chat.Participant
	for _, name := range s.order {
		if p := s.participants[name]; p.LastStatus < cutoff {
			out = append(out, p)
		}
	}
	return out, nil
}

// DeleteStale removes participants with lastStatus < cutoff and returns how many.
func (s *MemoryStore) DeleteStale(ctx context.Context, cutoff int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	kept := s.order[:0]
	for _, name := range s.order {
		if s.participants[name].LastStatus < cutoff {
			delete(s.participants, name)
			n++
			continue
		}
		kept = append(kept, name)
	}
	s.order = kept
	return n, nil
}

// AppendMessage assigns a ULID and appends m.
func (s *MemoryStore) AppendMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(m)
}

func (s *MemoryStore) appendLocked(m chat.Message) (chat.Message, error) {
	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return chat.Message{}, err
	}
	m.ID = id
	s.byID[id] = len(s.msgs)
	s.msgs = append(s.msgs, m)
	return m, nil
}

// GetMessage returns message id or chat.ErrNotFound.
func (s *MemoryStore) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	return s.msgs[i], nil
}

// ListVisible walks the log backwards so only the requested window is copied.
func (s *MemoryStore) ListVisible(ctx context.Context, viewer string, limit int) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Message, 0, 64)
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if s.msgs[i].VisibleTo(viewer) {
			out = append(out, s.msgs[i])
		}
	}
	slices.Reverse(out)
	return out, nil
}

// UpdateMessage replaces to, text and type of message id.
func (s *MemoryStore) UpdateMessage(ctx context.Context, id string, in chat.MessageInput) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	m := s.msgs[i]
	m.To, m.Text, m.Type = in.To, in.Text, in.Type
	s.msgs[i] = m
	return m, nil
}

// DeleteMessage removes message id.
func (s *MemoryStore) DeleteMessage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return chat.ErrNotFound
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	s.reindexLocked()
	return nil
}

func (s *MemoryStore) reindexLocked() {
	clear(s.byID)
	for i, m := range s.msgs {
		s.byID[m.ID] = i
	}
}

var _ chat.Store = (*MemoryStore)(nil)
