// Package ledger applies point movements to user balances.
//
// The functions mutate the user value they are given and nothing else; the
// caller decides when the result is persisted. Nothing here deduplicates:
// replaying a debit debits twice.
package ledger

import (
	"errors"
	"math"

	"github.com/friendsbet/bet-engine/internal/model"
)

var (
	// ErrInvalidAmount is returned for non-positive debits, negative credits,
	// credits that would overflow the balance and negative reset balances.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
)

// Debit removes amount points from u. The balance is left untouched on error.
func Debit(u *model.User, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > u.Balance {
		return ErrInsufficientFunds
	}
	u.Balance -= amount
	return nil
}

// Credit adds amount points to u. A zero credit is allowed and is a no-op.
func Credit(u *model.User, amount int64) error {
	if amount < 0 || amount > math.MaxInt64-u.Balance {
		return ErrInvalidAmount
	}
	u.Balance += amount
	return nil
}

// ResetAll sets every user's balance to newBalance.
func ResetAll(users []model.User, newBalance int64) error {
	if newBalance < 0 {
		return ErrInvalidAmount
	}
	for i := range users {
		users[i].Balance = newBalance
	}
	return nil
}
