// Package store defines the persistence interface for the bet engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every record carries a revision. Saves are conditional: a save succeeds
// only when the stored revision equals the caller's, and on success the
// caller's revision is advanced to the new stored value. Revision 0 means
// "insert". Writes are atomic per record; there are no cross-record
// transactions.
package store

import (
	"context"
	"errors"

	"github.com/friendsbet/bet-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a conditional write finds a different
	// revision than expected (or an insert finds an existing record).
	ErrConflict = errors.New("store: revision conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users ---

	// LoadUsers returns every user.
	LoadUsers(ctx context.Context) ([]model.User, error)

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// SaveUser inserts or conditionally updates a user.
	SaveUser(ctx context.Context, u *model.User) error

	// DeleteUser removes a user if its stored revision matches. Only used to
	// undo an insert that must not stand.
	DeleteUser(ctx context.Context, id string, revision int64) error

	// --- Bets ---

	// LoadBets returns every bet, newest first.
	LoadBets(ctx context.Context) ([]model.Bet, error)

	// GetBet retrieves a bet by id.
	GetBet(ctx context.Context, id string) (*model.Bet, error)

	// SaveBet inserts or conditionally updates a bet.
	SaveBet(ctx context.Context, b *model.Bet) error

	// DeleteBet removes a bet if its stored revision matches.
	DeleteBet(ctx context.Context, id string, revision int64) error

	// --- Globals ---

	// LoadGlobals returns the singleton globals record. A store that has
	// never saved globals returns the zero value with revision 0.
	LoadGlobals(ctx context.Context) (model.Globals, error)

	// SaveGlobals inserts or conditionally updates the globals record.
	SaveGlobals(ctx context.Context, g *model.Globals) error
}
