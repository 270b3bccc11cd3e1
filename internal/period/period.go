// Package period handles the monthly accounting window: period keys,
// the rollover that records the leaderboard winner and resets balances,
// and the once-a-day login bonus.
package period

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/friendsbet/bet-engine/internal/ledger"
	"github.com/friendsbet/bet-engine/internal/model"
)

// keyRegex matches: {month}-{year}, month without leading zero.
// Example: 1-2026, 12-2025
var keyRegex = regexp.MustCompile(`^(1[0-2]|[1-9])-(\d{4})$`)

// dateLayout is the layout of daily reward keys.
const dateLayout = "2006-01-02"

var ErrInvalidKey = errors.New("period: invalid period key")

// Month is a parsed period key.
type Month struct {
	Year  int
	Month time.Month
}

// Before reports whether m is an earlier month than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

func (m Month) String() string {
	return fmt.Sprintf("%d-%d", int(m.Month), m.Year)
}

// ParseKey parses and validates a period key.
// Format: {M}-{YYYY}
func ParseKey(key string) (Month, error) {
	matches := keyRegex.FindStringSubmatch(key)
	if matches == nil {
		return Month{}, fmt.Errorf("%w: %q (expected {M}-{YYYY})", ErrInvalidKey, key)
	}
	month, _ := strconv.Atoi(matches[1])
	year, _ := strconv.Atoi(matches[2])
	return Month{Year: year, Month: time.Month(month)}, nil
}

// Calendar maps instants to period and date keys in one location.
type Calendar struct {
	Location *time.Location
}

// NewCalendar returns a calendar for loc; nil means UTC.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Location: loc}
}

func (c Calendar) in(t time.Time) time.Time {
	if c.Location == nil {
		return t.UTC()
	}
	return t.In(c.Location)
}

// Key returns the period key of the calendar month containing t.
func (c Calendar) Key(t time.Time) string {
	t = c.in(t)
	return Month{Year: t.Year(), Month: t.Month()}.String()
}

// DateKey returns the day key used for the daily bonus.
func (c Calendar) DateKey(t time.Time) string {
	return c.in(t).Format(dateLayout)
}

// Order sorts users into the stable order used for ties: creation time,
// then id.
func Order(users []model.User) {
	sort.SliceStable(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
}

// Leaderboard returns a copy of users ranked by balance, highest first.
// Equal balances keep the stable user order.
func Leaderboard(users []model.User) []model.User {
	ranked := append([]model.User(nil), users...)
	Order(ranked)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Balance > ranked[j].Balance
	})
	return ranked
}

// Leader returns the first user with the highest balance, or nil.
func Leader(users []model.User) *model.User {
	ranked := Leaderboard(users)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// Rollover closes the period recorded in g if now falls in a later month.
//
// On rollover the leader is snapshotted under the closing period's key,
// every balance in users is reset to startBalance and g.PeriodKey moves to
// the current month. changed reports whether g (and possibly users) were
// modified; winner is nil when nothing was reset. An empty period key is
// initialized without a reset. A now earlier than the recorded period is
// ignored, so a lagging clock can never roll back.
func (c Calendar) Rollover(g *model.Globals, users []model.User, now time.Time, startBalance int64) (winner *model.LeaderboardSnapshot, changed bool, err error) {
	nowKey := c.Key(now)
	if g.PeriodKey == nowKey {
		return nil, false, nil
	}
	if g.PeriodKey == "" {
		g.PeriodKey = nowKey
		return nil, true, nil
	}

	current, err := ParseKey(g.PeriodKey)
	if err != nil {
		return nil, false, err
	}
	next, err := ParseKey(nowKey)
	if err != nil {
		return nil, false, err
	}
	if next.Before(current) {
		return nil, false, nil
	}

	if leader := Leader(users); leader != nil {
		winner = &model.LeaderboardSnapshot{
			UserID:  leader.ID,
			Name:    leader.Name,
			Balance: leader.Balance,
			Period:  g.PeriodKey,
		}
	}
	if err := ledger.ResetAll(users, startBalance); err != nil {
		return nil, false, err
	}

	if winner != nil {
		g.LastWinner = winner
	}
	g.PeriodKey = nowKey
	return winner, true, nil
}

// DailyBonus credits bonus to u at most once per calendar day and stamps
// the day. It reports whether a credit happened.
func (c Calendar) DailyBonus(u *model.User, now time.Time, bonus int64) (bool, error) {
	if bonus <= 0 {
		return false, nil
	}
	today := c.DateKey(now)
	if u.LastRewardDate == today {
		return false, nil
	}
	if err := ledger.Credit(u, bonus); err != nil {
		return false, err
	}
	u.LastRewardDate = today
	return true, nil
}
