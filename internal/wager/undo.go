package wager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/friendsbet/bet-engine/internal/ledger"
	"github.com/friendsbet/bet-engine/internal/lifecycle"
	"github.com/friendsbet/bet-engine/internal/metrics"
	"github.com/friendsbet/bet-engine/internal/model"
	"github.com/friendsbet/bet-engine/internal/store"
)

// undoLog records compensating writes for the steps of a mutation that
// already reached the store.
type undoLog struct {
	steps []undoStep
}

type undoStep struct {
	desc string
	fn   func(ctx context.Context) error
}

func (u *undoLog) push(desc string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{desc: desc, fn: fn})
}

// rollback runs the recorded steps newest first and returns cause. A failed
// step is logged and the remaining steps still run. Each step gets a fresh
// timeout that survives cancellation of ctx.
func (s *Service) rollback(ctx context.Context, u *undoLog, cause error) error {
	base := context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(base); err != nil {
			metrics.Compensations.WithLabelValues("failed").Inc()
			s.log.Error("compensation failed, state needs repair",
				zap.String("step", step.desc),
				zap.NamedError("cause", cause),
				zap.Error(err),
			)
			continue
		}
		metrics.Compensations.WithLabelValues("ok").Inc()
		s.log.Warn("compensated", zap.String("step", step.desc), zap.NamedError("cause", cause))
	}
	u.steps = nil
	return cause
}

// write runs one store write. A failure other than a conflict or a missing
// record leaves it unknown whether the write landed: a deadline can fire
// after the primary committed. landed re-reads the record to tell, and when
// it did land revert puts the previous state back, so the caller always sees
// an error with the record as it was.
func (s *Service) write(ctx context.Context, op string, fn func(ctx context.Context) error,
	landed func(ctx context.Context) (bool, error), revert func(ctx context.Context) error) error {
	err := s.call(ctx, op, fn)
	if err == nil || errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		return err
	}

	base := context.WithoutCancel(ctx)
	var applied bool
	if cerr := s.call(base, op+" recheck", func(ctx context.Context) (err error) {
		applied, err = landed(ctx)
		return err
	}); cerr != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		s.log.Error("cannot tell whether write landed, state needs repair",
			zap.String("op", op), zap.NamedError("cause", err), zap.Error(cerr))
		return err
	}
	if !applied {
		return err
	}

	if rerr := s.call(base, op+" revert", revert); rerr != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		s.log.Error("revert of landed write failed, state needs repair",
			zap.String("op", op), zap.NamedError("cause", err), zap.Error(rerr))
		return err
	}
	metrics.Compensations.WithLabelValues("ok").Inc()
	s.log.Warn("reverted write that landed after a failure", zap.String("op", op), zap.NamedError("cause", err))
	return err
}

func (s *Service) saveUser(ctx context.Context, u *model.User) error {
	prev := *u
	return s.write(ctx, "save user",
		func(ctx context.Context) error { return s.store.SaveUser(ctx, u) },
		func(ctx context.Context) (bool, error) {
			cur, err := s.store.GetUser(ctx, prev.ID)
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return cur.Revision == prev.Revision+1, nil
		},
		func(ctx context.Context) error {
			if prev.Revision == 0 {
				return s.store.DeleteUser(ctx, prev.ID, 1)
			}
			restore := prev
			restore.Revision++
			return s.store.SaveUser(ctx, &restore)
		},
	)
}

// saveBet checks b's invariants and stores it. A bet that fails them is
// never written.
func (s *Service) saveBet(ctx context.Context, b *model.Bet) error {
	if err := lifecycle.Validate(b); err != nil {
		return fmt.Errorf("%w: bet %s: %w", ErrInconsistent, b.ID, err)
	}
	prev := b.Clone()
	return s.write(ctx, "save bet",
		func(ctx context.Context) error { return s.store.SaveBet(ctx, b) },
		func(ctx context.Context) (bool, error) {
			cur, err := s.store.GetBet(ctx, prev.ID)
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return cur.Revision == prev.Revision+1, nil
		},
		func(ctx context.Context) error {
			if prev.Revision == 0 {
				return s.store.DeleteBet(ctx, prev.ID, 1)
			}
			restore := prev.Clone()
			restore.Revision++
			return s.store.SaveBet(ctx, &restore)
		},
	)
}

// deleteBet removes b. A delete that landed despite an error re-inserts b.
func (s *Service) deleteBet(ctx context.Context, b *model.Bet) error {
	prev := b.Clone()
	return s.write(ctx, "delete bet",
		func(ctx context.Context) error { return s.store.DeleteBet(ctx, prev.ID, prev.Revision) },
		func(ctx context.Context) (bool, error) {
			_, err := s.store.GetBet(ctx, prev.ID)
			if errors.Is(err, store.ErrNotFound) {
				return true, nil
			}
			return false, err
		},
		func(ctx context.Context) error {
			restore := prev.Clone()
			restore.Revision = 0
			return s.store.SaveBet(ctx, &restore)
		},
	)
}

func (s *Service) saveGlobals(ctx context.Context, g *model.Globals) error {
	prev := g.Clone()
	return s.write(ctx, "save globals",
		func(ctx context.Context) error { return s.store.SaveGlobals(ctx, g) },
		func(ctx context.Context) (bool, error) {
			cur, err := s.store.LoadGlobals(ctx)
			if err != nil {
				return false, err
			}
			return cur.Revision == prev.Revision+1, nil
		},
		func(ctx context.Context) error {
			restore := prev.Clone()
			restore.Revision++
			return s.store.SaveGlobals(ctx, &restore)
		},
	)
}

// removeUser deletes a user written earlier in the same mutation.
func (s *Service) removeUser(ctx context.Context, id string) error {
	var u *model.User
	if err := s.call(ctx, "get user", func(ctx context.Context) (err error) {
		u, err = s.store.GetUser(ctx, id)
		return err
	}); err != nil {
		return err
	}
	return s.call(ctx, "delete user", func(ctx context.Context) error {
		return s.store.DeleteUser(ctx, id, u.Revision)
	})
}

// patchUser re-reads a user, applies fn and saves it.
func (s *Service) patchUser(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error) {
	var u *model.User
	if err := s.call(ctx, "get user", func(ctx context.Context) (err error) {
		u, err = s.store.GetUser(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// adjustBalance credits (delta > 0) or debits (delta < 0) a user.
func (s *Service) adjustBalance(ctx context.Context, id string, delta int64) (*model.User, error) {
	return s.patchUser(ctx, id, func(u *model.User) error {
		if delta < 0 {
			return ledger.Debit(u, -delta)
		}
		return ledger.Credit(u, delta)
	})
}

// patchBet re-reads a bet, applies fn and saves it.
func (s *Service) patchBet(ctx context.Context, id string, fn func(b *model.Bet) error) error {
	var b *model.Bet
	if err := s.call(ctx, "get bet", func(ctx context.Context) (err error) {
		b, err = s.store.GetBet(ctx, id)
		return err
	}); err != nil {
		return err
	}
	if err := fn(b); err != nil {
		return err
	}
	return s.saveBet(ctx, b)
}

// patchGlobals re-reads the globals record, applies fn and saves it.
func (s *Service) patchGlobals(ctx context.Context, fn func(g *model.Globals)) (model.Globals, error) {
	var g model.Globals
	if err := s.call(ctx, "load globals", func(ctx context.Context) (err error) {
		g, err = s.store.LoadGlobals(ctx)
		return err
	}); err != nil {
		return model.Globals{}, err
	}
	fn(&g)
	if err := s.saveGlobals(ctx, &g); err != nil {
		return model.Globals{}, err
	}
	return g, nil
}
