// Package lifecycle holds the state machine of a bet:
//
//	open -> resolved   (terminal)
//	open -> deleted    (terminal, the bet is removed)
//
// The functions validate a transition against the bet's current state and
// the requester, and apply it to the value they are given. They never touch
// balances; the wager service pairs them with ledger operations.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsbet/bet-engine/internal/ledger"
	"github.com/friendsbet/bet-engine/internal/model"
	"github.com/friendsbet/bet-engine/internal/pool"
)

// MinOptions is the smallest number of options a bet may be created with.
const MinOptions = 3

var (
	// ErrInvalidBet is returned when a bet is created without a title or
	// with too few non-empty options.
	ErrInvalidBet = errors.New("lifecycle: invalid bet")

	// ErrBetNotOpen is returned for stakes and resolutions on a bet that is
	// no longer open.
	ErrBetNotOpen = errors.New("lifecycle: bet is not open")

	// ErrAlreadyVoted is returned when a user stakes twice on one bet.
	ErrAlreadyVoted = errors.New("lifecycle: user already staked on this bet")

	// ErrUnauthorized is returned when the requester may not perform the
	// transition.
	ErrUnauthorized = errors.New("lifecycle: requester not allowed")
)

// Policy holds the configurable parts of the transition rules.
type Policy struct {
	// AllowSelfResolve lets a bet's author declare its outcome. Any other
	// participant may always resolve.
	AllowSelfResolve bool
}

// New builds an open bet. Option texts are trimmed and must all be
// non-empty; ids are assigned 1..n in the given order and every pool
// starts at zero.
func New(id, authorID, title string, optionTexts []string, imageURL string, now time.Time) (*model.Bet, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidBet)
	}
	if authorID == "" {
		return nil, fmt.Errorf("%w: author is required", ErrInvalidBet)
	}
	if len(optionTexts) < MinOptions {
		return nil, fmt.Errorf("%w: need at least %d options, got %d", ErrInvalidBet, MinOptions, len(optionTexts))
	}

	options := make([]model.Option, 0, len(optionTexts))
	for i, text := range optionTexts {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("%w: option %d is empty", ErrInvalidBet, i+1)
		}
		options = append(options, model.Option{ID: i + 1, Text: text})
	}

	return &model.Bet{
		ID:        id,
		AuthorID:  authorID,
		Title:     title,
		ImageURL:  strings.TrimSpace(imageURL),
		Options:   options,
		Status:    model.StatusOpen,
		Stakes:    []model.Stake{},
		CreatedAt: now,
	}, nil
}

// CheckStake validates a stake against the bet without changing anything.
// Balance sufficiency is the ledger's concern and is not checked here.
func CheckStake(b *model.Bet, userID string, optionID int, amount int64) error {
	if b.Status != model.StatusOpen {
		return ErrBetNotOpen
	}
	if b.HasVoted(userID) {
		return ErrAlreadyVoted
	}
	if b.Option(optionID) == nil {
		return fmt.Errorf("%w: %d", pool.ErrUnknownOption, optionID)
	}
	if amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	return nil
}

// Stake records the user's stake on b: the option pool, the total and the
// voter set change together.
func Stake(b *model.Bet, userID string, optionID int, amount int64, now time.Time) error {
	if err := CheckStake(b, userID, optionID, amount); err != nil {
		return err
	}
	if err := pool.ApplyStake(b, optionID, amount); err != nil {
		return err
	}
	b.Stakes = append(b.Stakes, model.Stake{
		UserID:   userID,
		OptionID: optionID,
		Amount:   amount,
		PlacedAt: now,
	})
	return nil
}

// Resolve declares the winning option and closes the bet.
func Resolve(b *model.Bet, requesterID string, winningOptionID int, p Policy, now time.Time) error {
	if b.Status != model.StatusOpen {
		return ErrBetNotOpen
	}
	if requesterID == "" {
		return ErrUnauthorized
	}
	if requesterID == b.AuthorID && !p.AllowSelfResolve {
		return fmt.Errorf("%w: author may not resolve their own bet", ErrUnauthorized)
	}
	if b.Option(winningOptionID) == nil {
		return fmt.Errorf("%w: %d", pool.ErrUnknownOption, winningOptionID)
	}

	result := winningOptionID
	b.Status = model.StatusResolved
	b.Result = &result
	b.ResolvedAt = &now
	return nil
}

// CheckDelete reports whether requesterID may delete b. Only the author may.
func CheckDelete(b *model.Bet, requesterID string) error {
	if requesterID == "" || requesterID != b.AuthorID {
		return ErrUnauthorized
	}
	return nil
}

// Validate checks the invariants every persisted bet must satisfy.
func Validate(b *model.Bet) error {
	if err := pool.Check(*b); err != nil {
		return err
	}
	switch b.Status {
	case model.StatusOpen:
		if b.Result != nil {
			return fmt.Errorf("%w: open bet carries a result", ErrInvalidBet)
		}
	case model.StatusResolved:
		if b.Result == nil || b.Option(*b.Result) == nil {
			return fmt.Errorf("%w: resolved bet without a valid result", ErrInvalidBet)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidBet, b.Status)
	}
	seen := make(map[string]bool, len(b.Stakes))
	for _, s := range b.Stakes {
		if seen[s.UserID] {
			return fmt.Errorf("%w: user %s staked twice", ErrInvalidBet, s.UserID)
		}
		seen[s.UserID] = true
	}
	return nil
}
