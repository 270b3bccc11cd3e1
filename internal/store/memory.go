package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/friendsbet/bet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*model.User
	bets    map[string]*model.Bet
	globals model.Globals
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*model.User),
		bets:  make(map[string]*model.Bet),
	}
}

func (s *MemoryStore) LoadUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) SaveUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	switch {
	case u.Revision == 0 && ok:
		return fmt.Errorf("user %s already exists: %w", u.ID, ErrConflict)
	case u.Revision != 0 && !ok:
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	case ok && existing.Revision != u.Revision:
		return fmt.Errorf("user %s at revision %d, have %d: %w", u.ID, existing.Revision, u.Revision, ErrConflict)
	}

	// Store a copy to avoid external mutation.
	copy := *u
	copy.Revision++
	s.users[u.ID] = &copy
	u.Revision = copy.Revision
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if existing.Revision != revision {
		return fmt.Errorf("user %s at revision %d, have %d: %w", id, existing.Revision, revision, ErrConflict)
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) LoadBets(_ context.Context) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bets := make([]model.Bet, 0, len(s.bets))
	for _, b := range s.bets {
		bets = append(bets, b.Clone())
	}
	sort.Slice(bets, func(i, j int) bool {
		if !bets[i].CreatedAt.Equal(bets[j].CreatedAt) {
			return bets[i].CreatedAt.After(bets[j].CreatedAt)
		}
		return bets[i].ID < bets[j].ID
	})
	return bets, nil
}

func (s *MemoryStore) GetBet(_ context.Context, id string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[id]
	if !ok {
		return nil, fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	copy := b.Clone()
	return &copy, nil
}

func (s *MemoryStore) SaveBet(_ context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.bets[b.ID]
	switch {
	case b.Revision == 0 && ok:
		return fmt.Errorf("bet %s already exists: %w", b.ID, ErrConflict)
	case b.Revision != 0 && !ok:
		return fmt.Errorf("bet %s: %w", b.ID, ErrNotFound)
	case ok && existing.Revision != b.Revision:
		return fmt.Errorf("bet %s at revision %d, have %d: %w", b.ID, existing.Revision, b.Revision, ErrConflict)
	}

	copy := b.Clone()
	copy.Revision++
	s.bets[b.ID] = &copy
	b.Revision = copy.Revision
	return nil
}

func (s *MemoryStore) DeleteBet(_ context.Context, id string, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.bets[id]
	if !ok {
		return fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	if existing.Revision != revision {
		return fmt.Errorf("bet %s at revision %d, have %d: %w", id, existing.Revision, revision, ErrConflict)
	}
	delete(s.bets, id)
	return nil
}

func (s *MemoryStore) LoadGlobals(_ context.Context) (model.Globals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.globals.Clone(), nil
}

func (s *MemoryStore) SaveGlobals(_ context.Context, g *model.Globals) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.globals.Revision != g.Revision {
		return fmt.Errorf("globals at revision %d, have %d: %w", s.globals.Revision, g.Revision, ErrConflict)
	}
	s.globals = g.Clone()
	s.globals.Revision++
	g.Revision = s.globals.Revision
	return nil
}
