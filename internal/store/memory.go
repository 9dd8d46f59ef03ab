// Package store provides storage backends for the bot.
//
// This file implements the in-memory store used by tests and ephemeral runs.
package store

import (
	"sync"

	"github.com/sliceline/pizzabot/internal/models"
)

type courierKey struct {
	courier  models.ChatID
	customer models.ChatID
}

// InMemoryStore is a mutex-guarded map-based Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[models.ChatID]models.ChatSession
	messages map[courierKey]int
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[models.ChatID]models.ChatSession),
		messages: make(map[courierKey]int),
	}
}

func (s *InMemoryStore) GetSession(chat models.ChatID) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[chat]
	if !ok {
		return nil, nil
	}
	// Copy the pending record so callers cannot mutate stored state in place.
	if sess.Pending != nil {
		pending := *sess.Pending
		sess.Pending = &pending
	}
	return &sess, nil
}

func (s *InMemoryStore) SaveSession(session models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.Pending != nil {
		pending := *session.Pending
		session.Pending = &pending
	}
	s.sessions[session.Chat] = session
	return nil
}

func (s *InMemoryStore) DeleteSession(chat models.ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chat)
	return nil
}

func (s *InMemoryStore) ListPendingDeliveries() ([]models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatSession
	for _, sess := range s.sessions {
		if sess.Pending == nil {
			continue
		}
		pending := *sess.Pending
		sess.Pending = &pending
		out = append(out, sess)
	}
	return out, nil
}

func (s *InMemoryStore) GetCourierMessage(courier, customer models.ChatID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[courierKey{courier, customer}], nil
}

func (s *InMemoryStore) SaveCourierMessage(courier, customer models.ChatID, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[courierKey{courier, customer}] = messageID
	return nil
}

func (s *InMemoryStore) DeleteCourierMessage(courier, customer models.ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, courierKey{courier, customer})
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
