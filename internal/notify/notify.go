// Package notify fans out "something changed" signals to WebSocket clients
// and to other replicas over Redis pub/sub.
//
// Signals are advisory. A receiver re-reads state from the store; it never
// applies a signal's payload as data.
package notify

import (
	"context"
)

// Entities named in signals.
const (
	EntityBet     = "bet"
	EntityUser    = "user"
	EntityGlobals = "globals"
)

// Signal says that one entity changed.
type Signal struct {
	Entity string `json:"entity"`
	ID     string `json:"id,omitempty"`
	Action string `json:"action,omitempty"` // created, staked, resolved, deleted, rollover, ...
	Origin string `json:"origin,omitempty"` // instance that committed the change
}

// Notifier delivers a signal. Implementations must not block the caller on
// slow consumers and report failures through their own logging.
type Notifier interface {
	Notify(ctx context.Context, s Signal)
}

// Multi sends every signal to each notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, s Signal) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, s)
		}
	}
}

// Nop discards signals.
type Nop struct{}

func (Nop) Notify(context.Context, Signal) {}
