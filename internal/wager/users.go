package wager

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/friendsbet/bet-engine/internal/events"
	"github.com/friendsbet/bet-engine/internal/metrics"
	"github.com/friendsbet/bet-engine/internal/model"
	"github.com/friendsbet/bet-engine/internal/notify"
)

// LoginResult describes what a login did.
type LoginResult struct {
	User    model.User `json:"user"`
	Created bool       `json:"created"`
	Bonus   int64      `json:"bonus"` // points credited by the daily bonus
}

// Login finds the user with the given display name, ignoring case, or
// creates one with the starting balance. The first login of a day credits
// the daily bonus when one is configured.
func (s *Service) Login(ctx context.Context, name string) (LoginResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return LoginResult{}, ErrInvalidName
	}

	var res LoginResult
	err := s.mutate(ctx, "login", func(ctx context.Context, out *outbox) error {
		var users []model.User
		if err := s.call(ctx, "load users", func(ctx context.Context) (err error) {
			users, err = s.store.LoadUsers(ctx)
			return err
		}); err != nil {
			return err
		}

		var u model.User
		found := false
		for _, existing := range users {
			if strings.EqualFold(existing.Name, name) {
				u, found = existing, true
				break
			}
		}
		now := s.now()
		if !found {
			u = model.User{
				ID:        s.newID(),
				Name:      name,
				Avatar:    s.cfg.DefaultAvatar,
				Balance:   s.cfg.StartingBalance,
				CreatedAt: now,
			}
		}

		before := u.Balance
		credited, err := s.cfg.Calendar.DailyBonus(&u, now, s.cfg.DailyBonus)
		if err != nil {
			return err
		}
		if !found || credited {
			if err := s.saveUser(ctx, &u); err != nil {
				return err
			}
		}

		res = LoginResult{User: u, Created: !found, Bonus: u.Balance - before}
		s.update(func(next *Snapshot) { next.putUser(u) })

		if !found {
			s.log.Info("user created", zap.String("user", u.ID), zap.String("name", u.Name))
			out.signal(notify.EntityUser, u.ID, "created")
			out.event(events.Event{Type: events.TypeUserCreated, Key: u.ID, UserID: u.ID, Amount: u.Balance})
		}
		if credited {
			metrics.PaidOutPoints.WithLabelValues("daily_bonus").Add(float64(res.Bonus))
			out.signal(notify.EntityUser, u.ID, "bonus")
			out.event(events.Event{Type: events.TypeDailyBonus, Key: u.ID, UserID: u.ID, Amount: res.Bonus})
		}
		return nil
	})
	return res, err
}

// SeedUser is one member created by Seed.
type SeedUser struct {
	Name   string
	Avatar string
}

// Seed creates the given members and the prize when the store holds no
// users yet. It reports whether anything was written. Every name is checked
// before the first write, and a failure part way removes what was written so
// a retry starts from an empty store again.
func (s *Service) Seed(ctx context.Context, members []SeedUser, prize string) (bool, error) {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = strings.TrimSpace(m.Name)
		if names[i] == "" {
			return false, ErrInvalidName
		}
	}

	seeded := false
	err := s.mutate(ctx, "seed", func(ctx context.Context, out *outbox) error {
		var users []model.User
		if err := s.call(ctx, "load users", func(ctx context.Context) (err error) {
			users, err = s.store.LoadUsers(ctx)
			return err
		}); err != nil {
			return err
		}
		if len(users) > 0 {
			return nil
		}

		var undo undoLog
		now := s.now()
		for i, m := range members {
			avatar := m.Avatar
			if avatar == "" {
				avatar = s.cfg.DefaultAvatar
			}
			u := model.User{
				ID:      s.newID(),
				Name:    names[i],
				Avatar:  avatar,
				Balance: s.cfg.StartingBalance,
				// Distinct creation times keep the seed order as the tie order.
				CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			}
			if err := s.saveUser(ctx, &u); err != nil {
				return s.rollback(ctx, &undo, err)
			}
			id := u.ID
			undo.push("remove seeded user "+id, func(ctx context.Context) error {
				return s.removeUser(ctx, id)
			})
		}

		if prize = strings.TrimSpace(prize); prize != "" {
			var before string
			if _, err := s.patchGlobals(ctx, func(g *model.Globals) {
				before = g.Prize
				if g.Prize == "" {
					g.Prize = prize
				}
			}); err != nil {
				return s.rollback(ctx, &undo, err)
			}
			undo.push("restore prize", func(ctx context.Context) error {
				_, err := s.patchGlobals(ctx, func(g *model.Globals) { g.Prize = before })
				return err
			})
		}

		if err := s.reload(ctx); err != nil {
			return s.rollback(ctx, &undo, err)
		}
		seeded = true
		s.log.Info("seeded members", zap.Int("users", len(members)))
		out.signal(notify.EntityUser, "", "seeded")
		return nil
	})
	return seeded, err
}
