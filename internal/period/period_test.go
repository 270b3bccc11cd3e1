package period

import (
	"errors"
	"testing"
	"time"

	"github.com/friendsbet/bet-engine/internal/model"
)

var cal = NewCalendar(time.UTC)

func at(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 10, 0, 0, 0, time.UTC)
}

func TestKey(t *testing.T) {
	tests := []struct {
		t    time.Time
		want string
	}{
		{at(2026, time.January, 1), "1-2026"},
		{at(2025, time.December, 31), "12-2025"},
		{at(2026, time.October, 15), "10-2026"},
	}
	for _, tt := range tests {
		if got := cal.Key(tt.t); got != tt.want {
			t.Errorf("Key(%s)=%s want %s", tt.t, got, tt.want)
		}
	}
}

func TestKey_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-6", -6*3600)
	c := NewCalendar(loc)
	// 03:00 UTC on Feb 1 is still Jan 31 six hours west.
	instant := time.Date(2026, time.February, 1, 3, 0, 0, 0, time.UTC)
	if got := c.Key(instant); got != "1-2026" {
		t.Errorf("Key=%s want 1-2026", got)
	}
	if got := c.DateKey(instant); got != "2026-01-31" {
		t.Errorf("DateKey=%s want 2026-01-31", got)
	}
}

func TestParseKey(t *testing.T) {
	m, err := ParseKey("12-2025")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Year != 2025 || m.Month != time.December {
		t.Errorf("parsed %+v", m)
	}

	for _, bad := range []string{"", "0-2025", "13-2025", "01-2025", "2025-12", "12-25", "x-2025"} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseKey(%q): expected ErrInvalidKey, got %v", bad, err)
		}
	}
}

func seedUsers() []model.User {
	base := at(2026, time.January, 1)
	return []model.User{
		{ID: "u1", Name: "Eduardo", Balance: 120, CreatedAt: base},
		{ID: "u2", Name: "Sofia", Balance: 80, CreatedAt: base.Add(time.Minute)},
		{ID: "u3", Name: "Diego", Balance: 100, CreatedAt: base.Add(2 * time.Minute)},
	}
}

func TestRollover_ResetsAndRecordsWinner(t *testing.T) {
	g := model.Globals{PeriodKey: "1-2026"}
	users := seedUsers()

	winner, changed, err := cal.Rollover(&g, users, at(2026, time.February, 2), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected rollover")
	}
	if winner == nil || winner.UserID != "u1" || winner.Balance != 120 || winner.Period != "1-2026" {
		t.Errorf("winner=%+v want u1/120/1-2026", winner)
	}
	if g.PeriodKey != "2-2026" {
		t.Errorf("period key=%s want 2-2026", g.PeriodKey)
	}
	if g.LastWinner == nil || g.LastWinner.Name != "Eduardo" {
		t.Errorf("last winner=%+v", g.LastWinner)
	}
	for _, u := range users {
		if u.Balance != 100 {
			t.Errorf("user %s balance=%d want 100", u.ID, u.Balance)
		}
	}
}

func TestRollover_IdempotentWithinPeriod(t *testing.T) {
	g := model.Globals{PeriodKey: "1-2026"}
	users := seedUsers()
	now := at(2026, time.February, 2)

	if _, changed, _ := cal.Rollover(&g, users, now, 100); !changed {
		t.Fatal("first call should roll over")
	}
	users[0].Balance = 150
	winner, changed, err := cal.Rollover(&g, users, now, 100)
	if err != nil || changed || winner != nil {
		t.Fatalf("second call should be a no-op: winner=%v changed=%v err=%v", winner, changed, err)
	}
	if users[0].Balance != 150 {
		t.Error("no-op rollover touched balances")
	}
	if g.LastWinner.UserID != "u1" || g.LastWinner.Period != "1-2026" {
		t.Errorf("snapshot overwritten: %+v", g.LastWinner)
	}
}

func TestRollover_TieGoesToFirstUser(t *testing.T) {
	g := model.Globals{PeriodKey: "1-2026"}
	users := seedUsers()
	users[2].Balance = 120
	// Reverse the slice: order must come from creation time, not position.
	users[0], users[2] = users[2], users[0]

	winner, _, err := cal.Rollover(&g, users, at(2026, time.March, 1), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.UserID != "u1" {
		t.Errorf("tie winner=%s want u1", winner.UserID)
	}
}

func TestRollover_InitializesEmptyKey(t *testing.T) {
	g := model.Globals{}
	users := seedUsers()
	winner, changed, err := cal.Rollover(&g, users, at(2026, time.January, 5), 100)
	if err != nil || !changed || winner != nil {
		t.Fatalf("winner=%v changed=%v err=%v", winner, changed, err)
	}
	if g.PeriodKey != "1-2026" {
		t.Errorf("period key=%s", g.PeriodKey)
	}
	if users[0].Balance != 120 {
		t.Error("initialization must not reset balances")
	}
}

func TestRollover_IgnoresEarlierMonth(t *testing.T) {
	g := model.Globals{PeriodKey: "3-2026"}
	users := seedUsers()
	_, changed, err := cal.Rollover(&g, users, at(2026, time.February, 27), 100)
	if err != nil || changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if g.PeriodKey != "3-2026" {
		t.Errorf("period key moved back to %s", g.PeriodKey)
	}
}

func TestRollover_YearBoundary(t *testing.T) {
	g := model.Globals{PeriodKey: "12-2025"}
	users := seedUsers()
	_, changed, err := cal.Rollover(&g, users, at(2026, time.January, 1), 100)
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if g.PeriodKey != "1-2026" {
		t.Errorf("period key=%s want 1-2026", g.PeriodKey)
	}
}

func TestLeaderboard(t *testing.T) {
	users := seedUsers()
	ranked := Leaderboard(users)
	want := []string{"u1", "u3", "u2"}
	for i, u := range ranked {
		if u.ID != want[i] {
			t.Errorf("rank %d=%s want %s", i, u.ID, want[i])
		}
	}
	if users[1].ID != "u2" {
		t.Error("Leaderboard must not reorder its input")
	}
}

func TestDailyBonus(t *testing.T) {
	u := model.User{ID: "u1", Balance: 100}
	morning := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	credited, err := cal.DailyBonus(&u, morning, 10)
	if err != nil || !credited {
		t.Fatalf("credited=%v err=%v", credited, err)
	}
	if u.Balance != 110 || u.LastRewardDate != "2026-05-01" {
		t.Errorf("user=%+v", u)
	}

	credited, _ = cal.DailyBonus(&u, morning.Add(10*time.Hour), 10)
	if credited || u.Balance != 110 {
		t.Errorf("same-day bonus applied twice: balance=%d", u.Balance)
	}

	credited, _ = cal.DailyBonus(&u, morning.Add(24*time.Hour), 10)
	if !credited || u.Balance != 120 {
		t.Errorf("next-day bonus missing: balance=%d", u.Balance)
	}

	if credited, _ := cal.DailyBonus(&u, morning.Add(48*time.Hour), 0); credited {
		t.Error("zero bonus should be disabled")
	}
}
