package profile

import (
	"errors"
	"strings"
	"sync"
)

var ErrProfileExists = errors.New("profile already exists")

// Store exposes profile retrieval for HTTP handlers.
type Store interface {
	List() []Profile
	FindByID(id string) (Profile, bool)
	Create(p Profile) error
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...)}
}

// List returns the profiles in creation order.
func (s *MemoryStore) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Profile(nil), s.items...)
}

// FindByID looks up a profile by identifier.
func (s *MemoryStore) FindByID(id string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Profile{}, false
}

// Create adds p, rejecting duplicate identifiers.
func (s *MemoryStore) Create(p Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("profile id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == p.ID {
			return ErrProfileExists
		}
	}
	s.items = append(s.items, p)
	return nil
}
