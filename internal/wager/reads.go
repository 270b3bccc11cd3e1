package wager

import (
	"fmt"

	"github.com/friendsbet/bet-engine/internal/model"
	"github.com/friendsbet/bet-engine/internal/period"
	"github.com/friendsbet/bet-engine/internal/pool"
)

// Reads are served from the current snapshot. They never block on writers
// and never observe a half-applied mutation. Returned values are copies.

// Users returns every user in creation order.
func (s *Service) Users() []model.User {
	return append([]model.User(nil), s.snap.Load().Users...)
}

// User returns one user.
func (s *Service) User(id string) (model.User, error) {
	for _, u := range s.snap.Load().Users {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
}

// Leaderboard returns users ranked by balance, ties in creation order.
func (s *Service) Leaderboard() []model.User {
	return period.Leaderboard(s.snap.Load().Users)
}

// Bets returns every bet, newest first.
func (s *Service) Bets() []model.Bet {
	snap := s.snap.Load()
	bets := make([]model.Bet, 0, len(snap.Bets))
	for _, b := range snap.Bets {
		bets = append(bets, b.Clone())
	}
	return bets
}

// Bet returns one bet.
func (s *Service) Bet(id string) (model.Bet, error) {
	for _, b := range s.snap.Load().Bets {
		if b.ID == id {
			return b.Clone(), nil
		}
	}
	return model.Bet{}, fmt.Errorf("%w: bet %s", ErrNotFound, id)
}

// Odds prices every option of a bet from one consistent snapshot.
func (s *Service) Odds(betID string) ([]pool.OptionOdds, error) {
	for _, b := range s.snap.Load().Bets {
		if b.ID == betID {
			return pool.Board(b), nil
		}
	}
	return nil, fmt.Errorf("%w: bet %s", ErrNotFound, betID)
}

// Globals returns the period state and prize.
func (s *Service) Globals() model.Globals {
	return s.snap.Load().Globals.Clone()
}
