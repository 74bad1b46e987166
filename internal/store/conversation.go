package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConversationStore keeps multi-turn message histories keyed by conversation id.
type ConversationStore interface {
	// Create starts an empty conversation and returns its id.
	Create() (string, error)
	// Append adds a message, creating the conversation if it does not exist.
	Append(conversationID, role, content string) error
	// Get returns the messages in order; unknown ids yield an empty history.
	Get(conversationID string) ([]Message, error)
	// Delete removes the conversation; unknown ids are ignored.
	Delete(conversationID string) error
	Close() error
}

// MemoryConversationStore holds conversations for the life of the process.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string][]Message
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{conversations: make(map[string][]Message)}
}

func (s *MemoryConversationStore) Create() (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.conversations[id] = []Message{}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryConversationStore) Append(conversationID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = append(s.conversations[conversationID], Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	return nil
}

func (s *MemoryConversationStore) Get(conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.conversations[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryConversationStore) Delete(conversationID string) error {
	s.mu.Lock()
	delete(s.conversations, conversationID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryConversationStore) Close() error { return nil }
