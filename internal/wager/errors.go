package wager

import (
	"errors"

	"github.com/friendsbet/bet-engine/internal/ledger"
	"github.com/friendsbet/bet-engine/internal/lifecycle"
	"github.com/friendsbet/bet-engine/internal/pool"
	"github.com/friendsbet/bet-engine/internal/store"
)

var (
	// ErrStorageTimeout wraps every persistence failure other than a
	// missing record: deadline exceeded, transport errors, and revision
	// conflicts with a writer outside this process.
	ErrStorageTimeout = errors.New("wager: storage unavailable")

	// ErrNotFound is returned for unknown bets and users.
	ErrNotFound = errors.New("wager: not found")

	// ErrInvalidName is returned by Login for a blank display name.
	ErrInvalidName = errors.New("wager: display name is required")

	// ErrInconsistent is returned instead of writing a bet whose pools,
	// result or voter set break the bet invariants.
	ErrInconsistent = errors.New("wager: inconsistent bet state")
)

// Error kinds reported to callers. Exactly one applies to a failed call.
const (
	KindInvalidAmount     = "invalid_amount"
	KindInsufficientFunds = "insufficient_funds"
	KindUnknownOption     = "unknown_option"
	KindAlreadyVoted      = "already_voted"
	KindBetNotOpen        = "bet_not_open"
	KindUnauthorized      = "unauthorized"
	KindNotFound          = "not_found"
	KindStorageTimeout    = "storage_timeout"
	KindInvalidBet        = "invalid_bet"
	KindInvalidName       = "invalid_name"
	KindInternal          = "internal"
)

// Kind classifies err into one of the error kinds. Domain errors take
// precedence over storage errors so a rolled back sequence still reports
// the rule that stopped it.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInconsistent):
		return KindInternal
	case errors.Is(err, ledger.ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, pool.ErrUnknownOption):
		return KindUnknownOption
	case errors.Is(err, lifecycle.ErrAlreadyVoted):
		return KindAlreadyVoted
	case errors.Is(err, lifecycle.ErrBetNotOpen):
		return KindBetNotOpen
	case errors.Is(err, lifecycle.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, lifecycle.ErrInvalidBet):
		return KindInvalidBet
	case errors.Is(err, ErrInvalidName):
		return KindInvalidName
	case errors.Is(err, ErrStorageTimeout):
		return KindStorageTimeout
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
