// Package memory provides conversation history storage for multi-turn chat.
package memory

import (
	"strings"
	"sync"
	"time"
)

// Message represents a single message in a conversation.
type Message struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// session holds the message history for one session ID.
type session struct {
	messages  []Message
	updatedAt time.Time
}

// Store provides in-memory conversation storage. Expired sessions are
// pruned opportunistically on writes, so no background goroutine runs.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	maxMessages int
	ttl         time.Duration
}

// NewStore creates a new conversation memory store.
func NewStore(maxMessages int, ttl time.Duration) *Store {
	return &Store{
		sessions:    make(map[string]*session),
		maxMessages: maxMessages,
		ttl:         ttl,
	}
}

// DefaultStore creates a store with sensible defaults:
// 20 messages per session (10 turns), 1 hour TTL.
func DefaultStore() *Store {
	return NewStore(20, 1*time.Hour)
}

// AddUserMessage adds a user message to the session.
func (s *Store) AddUserMessage(sessionID, content string) {
	s.addMessage(sessionID, "user", content)
}

// AddAssistantMessage adds an assistant message to the session.
func (s *Store) AddAssistantMessage(sessionID, content string) {
	s.addMessage(sessionID, "assistant", content)
}

func (s *Store) addMessage(sessionID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpiredLocked()

	sess, exists := s.sessions[sessionID]
	if !exists {
		sess = &session{}
		s.sessions[sessionID] = sess
	}

	sess.messages = append(sess.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	sess.updatedAt = time.Now()

	// Keep only the most recent messages.
	if len(sess.messages) > s.maxMessages {
		sess.messages = sess.messages[len(sess.messages)-s.maxMessages:]
	}
}

// RecentHistory returns up to n of the most recent messages for a session.
// Returns nil for unknown or expired sessions.
func (s *Store) RecentHistory(sessionID string, n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists || time.Since(sess.updatedAt) > s.ttl {
		return nil
	}

	messages := sess.messages
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}

	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

// ClearSession removes a session from memory.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *Store) pruneExpiredLocked() {
	now := time.Now()
	for id, sess := range s.sessions {
		if now.Sub(sess.updatedAt) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

// FormatForPrompt formats conversation history for inclusion in an LLM
// prompt. Returns empty string if no history exists.
func FormatForPrompt(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			b.WriteString("User: " + msg.Content + "\n")
		case "assistant":
			b.WriteString("Assistant: " + msg.Content + "\n")
		}
	}
	return b.String()
}
