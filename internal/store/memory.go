package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and as a dev fallback when
// no mongo URI is configured. State does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]*Chat
	messages map[string][]*Message // chatID -> chronological
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*Chat),
		messages: make(map[string][]*Message),
	}
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[m.ChatID]; !ok {
		return "", fmt.Errorf("insert message into chat %s: %w", m.ChatID, ErrConstraint)
	}
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()
	s.messages[m.ChatID] = append(s.messages[m.ChatID], m)
	return m.ID, nil
}

func (s *MemoryStore) GetMessages(_ context.Context, chatID string, offset int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[chatID]
	// offset counts back from the newest message, page is chronological
	end := len(msgs) - offset
	if end <= 0 {
		return nil, nil
	}
	start := end - HistoryPageSize
	if start < 0 {
		start = 0
	}
	out := make([]*Message, end-start)
	copy(out, msgs[start:end])
	return out, nil
}

func (s *MemoryStore) CreateChat(_ context.Context, c *Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()
	s.chats[c.ID] = c
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, chatID string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetChats(_ context.Context) ([]*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) ChatExists(_ context.Context, chatID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chats[chatID]
	return ok, nil
}

func (s *MemoryStore) RemoveChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return ErrNotFound
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
