// Package model defines the core domain types shared across the bet engine.
// Points are whole integers; odds are the only fractional values and are
// computed on read, never stored.
package model

import (
	"time"
)

// Bet statuses. A deleted bet is removed from storage, so it has no status.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// User is one member of the group. Created on first login, never deleted.
type User struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Avatar         string    `json:"avatar" db:"avatar"`
	Balance        int64     `json:"balance" db:"balance"`
	LastRewardDate string    `json:"last_reward_date,omitempty" db:"last_reward_date"` // YYYY-MM-DD
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	Revision       int64     `json:"revision" db:"revision"`
}

// Option is one outcome a user can stake on.
type Option struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	Pool int64  `json:"pool"`
}

// Stake records a single user's wager on a bet. A user holds at most one
// stake per bet, so the stakes double as the bet's voter set.
type Stake struct {
	UserID   string    `json:"user_id"`
	OptionID int       `json:"option_id"`
	Amount   int64     `json:"amount"`
	PlacedAt time.Time `json:"placed_at"`
}

// Bet is a wager with an ordered list of options.
// TotalPool always equals the sum of option pools.
type Bet struct {
	ID         string     `json:"id" db:"id"`
	AuthorID   string     `json:"author_id" db:"author_id"`
	Title      string     `json:"title" db:"title"`
	ImageURL   string     `json:"image_url,omitempty" db:"image_url"`
	Options    []Option   `json:"options" db:"options"`
	Status     string     `json:"status" db:"status"`
	TotalPool  int64      `json:"total_pool" db:"total_pool"`
	Result     *int       `json:"result,omitempty" db:"result"` // winning option id, set iff resolved
	Stakes     []Stake    `json:"stakes" db:"stakes"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	Revision   int64      `json:"revision" db:"revision"`
}

// Option returns a pointer to the option with the given id, or nil.
func (b *Bet) Option(id int) *Option {
	for i := range b.Options {
		if b.Options[i].ID == id {
			return &b.Options[i]
		}
	}
	return nil
}

// HasVoted reports whether userID already staked on this bet.
func (b *Bet) HasVoted(userID string) bool {
	for _, s := range b.Stakes {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// Voters returns the ids of every user who staked, in stake order.
func (b *Bet) Voters() []string {
	ids := make([]string, 0, len(b.Stakes))
	for _, s := range b.Stakes {
		ids = append(ids, s.UserID)
	}
	return ids
}

// Clone returns a deep copy so callers can mutate without aliasing the
// slices of the original.
func (b Bet) Clone() Bet {
	c := b
	c.Options = append([]Option(nil), b.Options...)
	c.Stakes = append([]Stake(nil), b.Stakes...)
	if b.Result != nil {
		r := *b.Result
		c.Result = &r
	}
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// LeaderboardSnapshot records who led the leaderboard when a period closed.
type LeaderboardSnapshot struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
	Period  string `json:"period"`
}

// Globals is the singleton record holding period state and the prize.
type Globals struct {
	PeriodKey  string               `json:"period_key" db:"period_key"`
	Prize      string               `json:"prize" db:"prize"`
	LastWinner *LeaderboardSnapshot `json:"last_winner,omitempty" db:"last_winner"`
	Revision   int64                `json:"revision" db:"revision"`
}

// Clone returns a deep copy of the globals record.
func (g Globals) Clone() Globals {
	c := g
	if g.LastWinner != nil {
		w := *g.LastWinner
		c.LastWinner = &w
	}
	return c
}
