package wager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/friendsbet/bet-engine/internal/events"
	"github.com/friendsbet/bet-engine/internal/ledger"
	"github.com/friendsbet/bet-engine/internal/lifecycle"
	"github.com/friendsbet/bet-engine/internal/metrics"
	"github.com/friendsbet/bet-engine/internal/model"
	"github.com/friendsbet/bet-engine/internal/notify"
	"github.com/friendsbet/bet-engine/internal/pool"
)

func (s *Service) getBet(ctx context.Context, id string) (*model.Bet, error) {
	var b *model.Bet
	err := s.call(ctx, "get bet", func(ctx context.Context) (err error) {
		b, err = s.store.GetBet(ctx, id)
		return err
	})
	return b, err
}

func (s *Service) getUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrNotFound)
	}
	var u *model.User
	err := s.call(ctx, "get user", func(ctx context.Context) (err error) {
		u, err = s.store.GetUser(ctx, id)
		return err
	})
	return u, err
}

// CreateBet opens a new bet authored by authorID.
func (s *Service) CreateBet(ctx context.Context, authorID, title string, options []string, imageURL string) (model.Bet, error) {
	var created model.Bet
	err := s.mutate(ctx, "create_bet", func(ctx context.Context, out *outbox) error {
		if authorID == "" {
			return lifecycle.ErrUnauthorized
		}
		if _, err := s.getUser(ctx, authorID); err != nil {
			return err
		}

		b, err := lifecycle.New(s.newID(), authorID, title, options, imageURL, s.now())
		if err != nil {
			return err
		}
		if err := s.saveBet(ctx, b); err != nil {
			return err
		}

		created = b.Clone()
		s.update(func(next *Snapshot) { next.putBet(*b) })

		s.log.Info("bet created",
			zap.String("bet", b.ID),
			zap.String("author", authorID),
			zap.Int("options", len(b.Options)),
		)
		out.signal(notify.EntityBet, b.ID, "created")
		out.event(events.Event{
			Type:   events.TypeBetCreated,
			Key:    b.ID,
			BetID:  b.ID,
			UserID: authorID,
			Data:   map[string]any{"title": b.Title, "options": len(b.Options)},
		})
		return nil
	})
	return created, err
}

// StakeResult is the state after an accepted stake.
type StakeResult struct {
	Bet  model.Bet  `json:"bet"`
	User model.User `json:"user"`
}

// Stake places amount points of userID on one option of a bet. The user's
// debit, the option pool, the total pool and the voter set change together
// or not at all.
func (s *Service) Stake(ctx context.Context, userID, betID string, optionID int, amount int64) (StakeResult, error) {
	var res StakeResult
	err := s.mutate(ctx, "stake", func(ctx context.Context, out *outbox) error {
		b, err := s.getBet(ctx, betID)
		if err != nil {
			return err
		}
		if err := lifecycle.CheckStake(b, userID, optionID, amount); err != nil {
			return err
		}
		u, err := s.getUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := ledger.Debit(u, amount); err != nil {
			return err
		}
		if err := lifecycle.Stake(b, userID, optionID, amount, s.now()); err != nil {
			return err
		}

		var undo undoLog
		if err := s.saveUser(ctx, u); err != nil {
			return err
		}
		undo.push("refund stake debit", func(ctx context.Context) error {
			_, err := s.adjustBalance(ctx, userID, amount)
			return err
		})

		if err := s.saveBet(ctx, b); err != nil {
			return s.rollback(ctx, &undo, err)
		}

		res = StakeResult{Bet: b.Clone(), User: *u}
		s.update(func(next *Snapshot) {
			next.putUser(*u)
			next.putBet(*b)
		})

		metrics.StakesTotal.Inc()
		metrics.StakedPoints.Add(float64(amount))
		s.log.Info("stake placed",
			zap.String("bet", betID),
			zap.String("user", userID),
			zap.Int("option", optionID),
			zap.Int64("amount", amount),
			zap.Int64("total_pool", b.TotalPool),
		)
		out.signal(notify.EntityBet, betID, "staked")
		out.signal(notify.EntityUser, userID, "debited")
		out.event(events.Event{
			Type:     events.TypeStakePlaced,
			Key:      betID,
			BetID:    betID,
			UserID:   userID,
			OptionID: optionID,
			Amount:   amount,
		})
		return nil
	})
	return res, err
}

// ResolveResult is the state after a resolution.
type ResolveResult struct {
	Bet     model.Bet     `json:"bet"`
	Payouts []pool.Payout `json:"payouts"`
}

// Resolve declares the winning option of an open bet and credits whatever
// the payout hook returns.
func (s *Service) Resolve(ctx context.Context, requesterID, betID string, winningOptionID int) (ResolveResult, error) {
	var res ResolveResult
	err := s.mutate(ctx, "resolve", func(ctx context.Context, out *outbox) error {
		b, err := s.getBet(ctx, betID)
		if err != nil {
			return err
		}
		if requesterID == "" {
			return lifecycle.ErrUnauthorized
		}
		if _, err := s.getUser(ctx, requesterID); err != nil {
			return err
		}
		if err := lifecycle.Resolve(b, requesterID, winningOptionID, s.cfg.Policy, s.now()); err != nil {
			return err
		}

		var payouts []pool.Payout
		if s.payout != nil {
			payouts = s.payout(b.Clone())
		}

		var undo undoLog
		if err := s.saveBet(ctx, b); err != nil {
			return err
		}
		undo.push("reopen bet", func(ctx context.Context) error {
			return s.patchBet(ctx, betID, func(b *model.Bet) error {
				b.Status = model.StatusOpen
				b.Result = nil
				b.ResolvedAt = nil
				return nil
			})
		})

		credited, err := s.credit(ctx, &undo, payouts)
		if err != nil {
			return s.rollback(ctx, &undo, err)
		}

		res = ResolveResult{Bet: b.Clone(), Payouts: payouts}
		s.update(func(next *Snapshot) {
			next.putBet(*b)
			for _, u := range credited {
				next.putUser(u)
			}
		})

		metrics.Resolutions.Inc()
		metrics.PaidOutPoints.WithLabelValues("payout").Add(float64(pool.Total(payouts)))
		s.log.Info("bet resolved",
			zap.String("bet", betID),
			zap.String("by", requesterID),
			zap.Int("winner", winningOptionID),
			zap.Int("payouts", len(payouts)),
			zap.Int64("paid", pool.Total(payouts)),
		)
		out.signal(notify.EntityBet, betID, "resolved")
		out.event(events.Event{
			Type:     events.TypeBetResolved,
			Key:      betID,
			BetID:    betID,
			UserID:   requesterID,
			OptionID: winningOptionID,
			Amount:   b.TotalPool,
		})
		for _, p := range payouts {
			out.signal(notify.EntityUser, p.UserID, "credited")
			out.event(events.Event{
				Type:   events.TypePayoutCredited,
				Key:    betID,
				BetID:  betID,
				UserID: p.UserID,
				Amount: p.Amount,
			})
		}
		return nil
	})
	return res, err
}

// DeleteBet removes a bet. Only its author may do so. Stakes on an open bet
// are refunded first so no points disappear with it.
func (s *Service) DeleteBet(ctx context.Context, requesterID, betID string) ([]pool.Payout, error) {
	var refunds []pool.Payout
	err := s.mutate(ctx, "delete_bet", func(ctx context.Context, out *outbox) error {
		b, err := s.getBet(ctx, betID)
		if err != nil {
			return err
		}
		if err := lifecycle.CheckDelete(b, requesterID); err != nil {
			return err
		}

		var due []pool.Payout
		if b.Status == model.StatusOpen {
			due = pool.Refunds(*b)
		}

		var undo undoLog
		credited, err := s.credit(ctx, &undo, due)
		if err != nil {
			return s.rollback(ctx, &undo, err)
		}
		if err := s.deleteBet(ctx, b); err != nil {
			return s.rollback(ctx, &undo, err)
		}

		refunds = due
		s.update(func(next *Snapshot) {
			next.dropBet(betID)
			for _, u := range credited {
				next.putUser(u)
			}
		})

		metrics.PaidOutPoints.WithLabelValues("refund").Add(float64(pool.Total(due)))
		s.log.Info("bet deleted",
			zap.String("bet", betID),
			zap.String("by", requesterID),
			zap.Int64("refunded", pool.Total(due)),
		)
		out.signal(notify.EntityBet, betID, "deleted")
		out.event(events.Event{
			Type:   events.TypeBetDeleted,
			Key:    betID,
			BetID:  betID,
			UserID: requesterID,
			Amount: pool.Total(due),
		})
		for _, p := range due {
			out.signal(notify.EntityUser, p.UserID, "refunded")
		}
		return nil
	})
	return refunds, err
}

// credit applies payouts one user at a time, registering a debit-back for
// each. It returns the updated users.
func (s *Service) credit(ctx context.Context, undo *undoLog, payouts []pool.Payout) ([]model.User, error) {
	var credited []model.User
	for _, p := range payouts {
		if p.Amount == 0 {
			continue
		}
		u, err := s.adjustBalance(ctx, p.UserID, p.Amount)
		if err != nil {
			return nil, err
		}
		p := p
		undo.push("debit back "+p.UserID, func(ctx context.Context) error {
			_, err := s.adjustBalance(ctx, p.UserID, -p.Amount)
			return err
		})
		credited = append(credited, *u)
	}
	return credited, nil
}
