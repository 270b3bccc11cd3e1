package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/friendsbet/bet-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Conditional writes are always decided by the primary, so a stale cache
// entry can only make a save fail with ErrConflict, never succeed wrongly.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	prefix  string
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		prefix:  "bets:",
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveUser(ctx context.Context, u *model.User) error {
	if err := s.primary.SaveUser(ctx, u); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.userKey(u.ID), s.usersKey())
	return nil
}

func (s *CachedStore) DeleteUser(ctx context.Context, id string, revision int64) error {
	if err := s.primary.DeleteUser(ctx, id, revision); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.userKey(id), s.usersKey())
	return nil
}

func (s *CachedStore) SaveBet(ctx context.Context, b *model.Bet) error {
	if err := s.primary.SaveBet(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.betKey(b.ID), s.betsKey())
	return nil
}

func (s *CachedStore) DeleteBet(ctx context.Context, id string, revision int64) error {
	if err := s.primary.DeleteBet(ctx, id, revision); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.betKey(id), s.betsKey())
	return nil
}

func (s *CachedStore) SaveGlobals(ctx context.Context, g *model.Globals) error {
	if err := s.primary.SaveGlobals(ctx, g); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.globalsKey())
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if s.get(ctx, s.userKey(id), &u) {
		return &u, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, s.userKey(id), got)
	return got, nil
}

func (s *CachedStore) LoadUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if s.get(ctx, s.usersKey(), &users) {
		return users, nil
	}

	users, err := s.primary.LoadUsers(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, s.usersKey(), users)
	return users, nil
}

func (s *CachedStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	var b model.Bet
	if s.get(ctx, s.betKey(id), &b) {
		return &b, nil
	}

	got, err := s.primary.GetBet(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, s.betKey(id), got)
	return got, nil
}

func (s *CachedStore) LoadBets(ctx context.Context) ([]model.Bet, error) {
	var bets []model.Bet
	if s.get(ctx, s.betsKey(), &bets) {
		return bets, nil
	}

	bets, err := s.primary.LoadBets(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, s.betsKey(), bets)
	return bets, nil
}

func (s *CachedStore) LoadGlobals(ctx context.Context) (model.Globals, error) {
	var g model.Globals
	if s.get(ctx, s.globalsKey(), &g) {
		return g, nil
	}

	g, err := s.primary.LoadGlobals(ctx)
	if err != nil {
		return model.Globals{}, err
	}
	s.set(ctx, s.globalsKey(), g)
	return g, nil
}

// Invalidate drops every cached entry. Called when another replica
// announces a change the local writes did not cover.
func (s *CachedStore) Invalidate(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) userKey(id string) string { return fmt.Sprintf("%suser:%s", s.prefix, id) }
func (s *CachedStore) usersKey() string         { return s.prefix + "users" }
func (s *CachedStore) betKey(id string) string  { return fmt.Sprintf("%sbet:%s", s.prefix, id) }
func (s *CachedStore) betsKey() string          { return s.prefix + "all" }
func (s *CachedStore) globalsKey() string       { return s.prefix + "globals" }
