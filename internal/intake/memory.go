package intake

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. The mutex
// plays the role PostgreSQL's unique index and conditional updates play in
// production: one winner per dedup key, one winner per terminal transition.
type InMemory struct {
	mu    sync.RWMutex
	msgs  map[string]*Message
	dedup map[string]string // platform|message_id -> message id
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		msgs:  make(map[string]*Message),
		dedup: make(map[string]string),
	}
}

func dedupKey(platform, messageID string) string {
	return strings.ToLower(platform) + "|" + messageID
}

func (s *InMemory) Insert(_ context.Context, m *Message) (bool, error) {
	key := dedupKey(m.Payload.Platform, m.Payload.MessageID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dedup[key]; exists {
		return false, nil
	}
	cp := *m
	s.msgs[m.ID] = &cp
	s.dedup[key] = m.ID
	return true, nil
}

func (s *InMemory) Find(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *InMemory) Complete(_ context.Context, id, responseText string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return ErrNotFound
	}
	if m.Status != StatusPending {
		return ErrConflict
	}
	m.Status = StatusCompleted
	m.ResponseText = responseText
	m.RespondedAt = &at
	return nil
}

func (s *InMemory) Fail(_ context.Context, id, errorText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return ErrNotFound
	}
	if m.Status != StatusPending {
		return ErrConflict
	}
	m.Status = StatusFailed
	m.ErrorText = errorText
	return nil
}

func (s *InMemory) SweepTimeouts(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.Status == StatusPending && m.RequestedAt.Before(cutoff) {
			m.Status = StatusTimeout
			n++
		}
	}
	return n, nil
}

func (s *InMemory) DeleteByGrant(_ context.Context, grantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.msgs {
		if m.GrantID == grantID {
			delete(s.dedup, dedupKey(m.Payload.Platform, m.Payload.MessageID))
			delete(s.msgs, id)
			n++
		}
	}
	return n, nil
}
