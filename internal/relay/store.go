// Package relay implements the single-slot "last message" relay: the store
// holding the most recent user request, the HTTP server that exposes it
// alongside the recorded audio files, and a client for producers and pollers.
package relay

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoMessage is returned when the relay has not received any message yet.
	ErrNoMessage = errors.New("no message yet")

	// ErrInvalidMessage is returned when a pushed message lacks an id or text.
	ErrInvalidMessage = errors.New("invalid JSON, 'text' and 'id' required")
)

// Message is a single user request held by the relay.
type Message struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Store holds at most one message. Set overwrites whatever was stored before;
// there is no queue and no history.
type Store interface {
	// Get returns the stored message and whether one exists.
	Get(ctx context.Context) (Message, bool, error)
	// Set replaces the stored message.
	Set(ctx context.Context, msg Message) error
}

// MemoryStore is an in-process Store. It starts empty and is reset only when
// the process restarts.
type MemoryStore struct {
	mu  sync.RWMutex
	msg *Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the last message, if any.
func (s *MemoryStore) Get(_ context.Context) (Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.msg == nil {
		return Message{}, false, nil
	}
	return *s.msg, true, nil
}

// Set overwrites the last message.
func (s *MemoryStore) Set(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msg = &msg
	return nil
}
