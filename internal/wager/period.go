package wager

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/friendsbet/bet-engine/internal/events"
	"github.com/friendsbet/bet-engine/internal/metrics"
	"github.com/friendsbet/bet-engine/internal/model"
	"github.com/friendsbet/bet-engine/internal/notify"
)

// RolloverResult reports the outcome of a period check.
type RolloverResult struct {
	Rolled bool                       `json:"rolled"`
	Period string                     `json:"period"`
	Winner *model.LeaderboardSnapshot `json:"winner,omitempty"`
}

// CheckRollover closes the recorded period when the clock has moved into a
// later month: the leader is recorded as last winner and every balance is
// reset to the starting balance. Calling it again in the same month is a
// no-op, so it is safe to trigger from a schedule and from requests alike.
func (s *Service) CheckRollover(ctx context.Context) (RolloverResult, error) {
	var res RolloverResult
	err := s.mutate(ctx, "rollover", func(ctx context.Context, out *outbox) error {
		var (
			g     model.Globals
			users []model.User
		)
		if err := s.call(ctx, "load globals", func(ctx context.Context) (err error) {
			g, err = s.store.LoadGlobals(ctx)
			return err
		}); err != nil {
			return err
		}
		if err := s.call(ctx, "load users", func(ctx context.Context) (err error) {
			users, err = s.store.LoadUsers(ctx)
			return err
		}); err != nil {
			return err
		}

		prev := g.Clone()
		before := make(map[string]int64, len(users))
		for _, u := range users {
			before[u.ID] = u.Balance
		}

		winner, changed, err := s.cfg.Calendar.Rollover(&g, users, s.now(), s.cfg.StartingBalance)
		if err != nil {
			return err
		}
		res = RolloverResult{Period: g.PeriodKey}
		if !changed {
			return nil
		}

		// Globals first: once the new key is stored a retry is a no-op, and
		// undoing it reopens the old period.
		var undo undoLog
		if err := s.saveGlobals(ctx, &g); err != nil {
			return err
		}
		undo.push("restore period "+prev.PeriodKey, func(ctx context.Context) error {
			_, err := s.patchGlobals(ctx, func(cur *model.Globals) {
				cur.PeriodKey = prev.PeriodKey
				cur.LastWinner = prev.LastWinner
			})
			return err
		})

		for i := range users {
			u := &users[i]
			old := before[u.ID]
			if u.Balance == old {
				continue
			}
			if err := s.saveUser(ctx, u); err != nil {
				return s.rollback(ctx, &undo, err)
			}
			id := u.ID
			undo.push("restore balance "+id, func(ctx context.Context) error {
				_, err := s.patchUser(ctx, id, func(cur *model.User) error {
					cur.Balance = old
					return nil
				})
				return err
			})
		}

		res = RolloverResult{Rolled: prev.PeriodKey != "", Period: g.PeriodKey, Winner: winner}
		s.update(func(next *Snapshot) {
			next.Globals = g.Clone()
			for _, u := range users {
				next.putUser(u)
			}
		})
		out.signal(notify.EntityGlobals, "", "rollover")

		if !res.Rolled {
			s.log.Info("period initialized", zap.String("period", g.PeriodKey))
			return nil
		}

		metrics.Rollovers.Inc()
		e := events.Event{
			Type:   events.TypePeriodRolledOver,
			Key:    prev.PeriodKey,
			Period: prev.PeriodKey,
			Data:   map[string]any{"next_period": g.PeriodKey, "prize": g.Prize},
		}
		fields := []zap.Field{
			zap.String("closed", prev.PeriodKey),
			zap.String("opened", g.PeriodKey),
			zap.Int("users_reset", len(users)),
		}
		if winner != nil {
			e.UserID, e.Amount = winner.UserID, winner.Balance
			fields = append(fields, zap.String("winner", winner.Name), zap.Int64("winner_balance", winner.Balance))
		}
		s.log.Info("period rolled over", fields...)
		out.event(e)
		return nil
	})
	return res, err
}

// SetPrize changes the prize announced for the current period.
func (s *Service) SetPrize(ctx context.Context, prize string) (model.Globals, error) {
	prize = strings.TrimSpace(prize)

	var saved model.Globals
	err := s.mutate(ctx, "set_prize", func(ctx context.Context, out *outbox) error {
		g, err := s.patchGlobals(ctx, func(cur *model.Globals) { cur.Prize = prize })
		if err != nil {
			return err
		}

		saved = g.Clone()
		s.update(func(next *Snapshot) { next.Globals = g.Clone() })
		s.log.Info("prize updated", zap.String("prize", prize))
		out.signal(notify.EntityGlobals, "", "prize")
		out.event(events.Event{Type: events.TypePrizeChanged, Key: "globals", Data: map[string]any{"prize": prize}})
		return nil
	})
	return saved, err
}
