package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsbet/bet-engine/internal/api"
	"github.com/friendsbet/bet-engine/internal/model"
	"github.com/friendsbet/bet-engine/internal/pool"
	"github.com/friendsbet/bet-engine/internal/store"
	"github.com/friendsbet/bet-engine/internal/wager"
)

// newTestEnv creates a handler over an in-memory store with a fixed clock.
func newTestEnv(t *testing.T) (*wager.Service, chi.Router) {
	t.Helper()
	var (
		mu  sync.Mutex
		seq int
	)
	now := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	svc := wager.NewService(store.NewMemoryStore(), wager.DefaultConfig(), nil,
		wager.WithClock(func() time.Time { return now }),
		wager.WithIDs(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
		wager.WithPayout(pool.ProRata),
	)

	r := chi.NewRouter()
	api.NewHandler(svc, nil).Register(r)
	return svc, r
}

func do(t *testing.T, router http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(api.UserHeader, userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, w.Body.String())
	}
	return v
}

func login(t *testing.T, router http.Handler, name string) model.User {
	t.Helper()
	w := do(t, router, http.MethodPost, "/login", "", api.LoginRequest{Name: name})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body=%s", name, w.Code, w.Body.String())
	}
	return decode[wager.LoginResult](t, w).User
}

func createBet(t *testing.T, router http.Handler, author string) model.Bet {
	t.Helper()
	w := do(t, router, http.MethodPost, "/bets", author, api.CreateBetRequest{
		Title:   "Who shows up late?",
		Options: []string{"Diego", "Sofia", "Nobody"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create bet: status %d body=%s", w.Code, w.Body.String())
	}
	return decode[model.Bet](t, w)
}

func stake(t *testing.T, router http.Handler, userID, betID string, option int, amount int64) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, router, http.MethodPost, "/bets/"+betID+"/stakes", userID, api.StakeRequest{OptionID: &option, Amount: amount})
}

func intp(i int) *int { return &i }

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

func TestLogin(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, http.MethodPost, "/login", "", api.LoginRequest{Name: "Ana"})
	if w.Code != http.StatusCreated {
		t.Fatalf("first login: status %d", w.Code)
	}
	first := decode[wager.LoginResult](t, w)
	if !first.Created || first.User.Balance != 100 {
		t.Errorf("first login=%+v", first)
	}

	w = do(t, router, http.MethodPost, "/login", "", api.LoginRequest{Name: "ana"})
	if w.Code != http.StatusOK {
		t.Fatalf("second login: status %d", w.Code)
	}
	if again := decode[wager.LoginResult](t, w); again.Created || again.User.ID != first.User.ID {
		t.Errorf("second login=%+v", again)
	}

	w = do(t, router, http.MethodPost, "/login", "", api.LoginRequest{Name: "   "})
	if w.Code != http.StatusBadRequest || errorKind(t, w) != wager.KindInvalidName {
		t.Errorf("blank login: status %d", w.Code)
	}
}

func TestCreateBet_Validation(t *testing.T) {
	_, router := newTestEnv(t)
	ana := login(t, router, "Ana")

	tests := []struct {
		name   string
		user   string
		body   any
		status int
		kind   string
	}{
		{"two options", ana.ID, api.CreateBetRequest{Title: "x", Options: []string{"a", "b"}}, http.StatusBadRequest, wager.KindInvalidBet},
		{"bad image url", ana.ID, api.CreateBetRequest{Title: "x", Options: []string{"a", "b", "c"}, ImageURL: "not a url"}, http.StatusBadRequest, api.KindValidation},
		{"no requester", "", api.CreateBetRequest{Title: "x", Options: []string{"a", "b", "c"}}, http.StatusForbidden, wager.KindUnauthorized},
		{"unknown author", "ghost", api.CreateBetRequest{Title: "x", Options: []string{"a", "b", "c"}}, http.StatusNotFound, wager.KindNotFound},
		{"malformed body", ana.ID, "{", http.StatusBadRequest, api.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/bets", tt.user, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status=%d want %d body=%s", w.Code, tt.status, w.Body.String())
			}
			if kind := errorKind(t, w); kind != tt.kind {
				t.Errorf("kind=%s want %s", kind, tt.kind)
			}
		})
	}
}

func TestStake_OddsFollowPools(t *testing.T) {
	_, router := newTestEnv(t)
	ana := login(t, router, "Ana")
	beto := login(t, router, "Beto")
	caro := login(t, router, "Caro")
	bet := createBet(t, router, ana.ID)

	w := do(t, router, http.MethodGet, "/bets/"+bet.ID+"/odds", "", nil)
	for _, o := range decode[[]api.OddsResponse](t, w) {
		if o.Odds != "2.00" {
			t.Errorf("empty option %d odds=%s want 2.00", o.OptionID, o.Odds)
		}
	}

	for _, s := range []struct {
		user   string
		option int
		amount int64
	}{{ana.ID, 1, 50}, {beto.ID, 2, 30}, {caro.ID, 3, 10}} {
		if w := stake(t, router, s.user, bet.ID, s.option, s.amount); w.Code != http.StatusOK {
			t.Fatalf("stake: status %d body=%s", w.Code, w.Body.String())
		}
	}

	w = do(t, router, http.MethodGet, "/bets/"+bet.ID+"/odds", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("odds: status %d", w.Code)
	}
	want := map[int]string{1: "1.80", 2: "3.00", 3: "9.00"}
	for _, o := range decode[[]api.OddsResponse](t, w) {
		if o.Odds != want[o.OptionID] {
			t.Errorf("option %d odds=%s want %s", o.OptionID, o.Odds, want[o.OptionID])
		}
	}

	w = do(t, router, http.MethodGet, "/users/"+ana.ID, "", nil)
	if u := decode[model.User](t, w); u.Balance != 50 {
		t.Errorf("ana balance=%d want 50", u.Balance)
	}
}

func TestStake_Errors(t *testing.T) {
	_, router := newTestEnv(t)
	ana := login(t, router, "Ana")
	beto := login(t, router, "Beto")
	bet := createBet(t, router, ana.ID)
	if w := stake(t, router, beto.ID, bet.ID, 1, 10); w.Code != http.StatusOK {
		t.Fatalf("setup stake: status %d", w.Code)
	}

	tests := []struct {
		name   string
		user   string
		bet    string
		option int
		amount int64
		status int
		kind   string
	}{
		{"zero amount", ana.ID, bet.ID, 1, 0, http.StatusBadRequest, wager.KindInvalidAmount},
		{"too much", ana.ID, bet.ID, 1, 500, http.StatusConflict, wager.KindInsufficientFunds},
		{"unknown option", ana.ID, bet.ID, 9, 10, http.StatusUnprocessableEntity, wager.KindUnknownOption},
		{"second stake", beto.ID, bet.ID, 2, 10, http.StatusConflict, wager.KindAlreadyVoted},
		{"unknown bet", ana.ID, "missing", 1, 10, http.StatusNotFound, wager.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := stake(t, router, tt.user, tt.bet, tt.option, tt.amount)
			if w.Code != tt.status {
				t.Fatalf("status=%d want %d body=%s", w.Code, tt.status, w.Body.String())
			}
			if kind := errorKind(t, w); kind != tt.kind {
				t.Errorf("kind=%s want %s", kind, tt.kind)
			}
		})
	}

	t.Run("missing option", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/bets/"+bet.ID+"/stakes", ana.ID, map[string]any{"amount": 10})
		if w.Code != http.StatusBadRequest || errorKind(t, w) != api.KindValidation {
			t.Errorf("status=%d", w.Code)
		}
	})
}

func TestResolveAndDelete(t *testing.T) {
	_, router := newTestEnv(t)
	ana := login(t, router, "Ana")
	beto := login(t, router, "Beto")
	caro := login(t, router, "Caro")
	bet := createBet(t, router, ana.ID)
	stake(t, router, beto.ID, bet.ID, 1, 40)
	stake(t, router, caro.ID, bet.ID, 2, 20)

	// Authors cannot settle their own bets by default.
	w := do(t, router, http.MethodPost, "/bets/"+bet.ID+"/resolve", ana.ID, api.ResolveRequest{WinningOptionID: intp(1)})
	if w.Code != http.StatusForbidden {
		t.Fatalf("self resolve: status %d", w.Code)
	}

	w = do(t, router, http.MethodPost, "/bets/"+bet.ID+"/resolve", caro.ID, api.ResolveRequest{WinningOptionID: intp(1)})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: status %d body=%s", w.Code, w.Body.String())
	}
	res := decode[wager.ResolveResult](t, w)
	if res.Bet.Status != model.StatusResolved || len(res.Payouts) != 1 || res.Payouts[0].Amount != 60 {
		t.Errorf("resolve=%+v", res)
	}

	w = do(t, router, http.MethodPost, "/bets/"+bet.ID+"/resolve", caro.ID, api.ResolveRequest{WinningOptionID: intp(2)})
	if w.Code != http.StatusConflict || errorKind(t, w) != wager.KindBetNotOpen {
		t.Errorf("second resolve: status %d", w.Code)
	}

	w = do(t, router, http.MethodDelete, "/bets/"+bet.ID, beto.ID, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("delete by non-author: status %d", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/bets/"+bet.ID, ana.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d body=%s", w.Code, w.Body.String())
	}
	if del := decode[api.DeleteResponse](t, w); del.ID != bet.ID || len(del.Refunds) != 0 {
		t.Errorf("delete=%+v", del)
	}
	if w := do(t, router, http.MethodGet, "/bets/"+bet.ID, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted bet: status %d", w.Code)
	}
}

func TestListBets_FilterByStatus(t *testing.T) {
	_, router := newTestEnv(t)
	ana := login(t, router, "Ana")
	beto := login(t, router, "Beto")
	first := createBet(t, router, ana.ID)
	createBet(t, router, ana.ID)
	do(t, router, http.MethodPost, "/bets/"+first.ID+"/resolve", beto.ID, api.ResolveRequest{WinningOptionID: intp(3)})

	w := do(t, router, http.MethodGet, "/bets?status=open", "", nil)
	if bets := decode[[]model.Bet](t, w); len(bets) != 1 || bets[0].ID == first.ID {
		t.Errorf("open bets=%+v", bets)
	}
	w = do(t, router, http.MethodGet, "/bets", "", nil)
	if bets := decode[[]model.Bet](t, w); len(bets) != 2 {
		t.Errorf("all bets=%d want 2", len(bets))
	}
}

func TestGlobalsAndPeriod(t *testing.T) {
	_, router := newTestEnv(t)
	login(t, router, "Ana")

	w := do(t, router, http.MethodPut, "/globals/prize", "", api.PrizeRequest{Prize: "Tacos"})
	if w.Code != http.StatusOK {
		t.Fatalf("set prize: status %d", w.Code)
	}
	w = do(t, router, http.MethodPut, "/globals/prize", "", api.PrizeRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty prize: status %d", w.Code)
	}

	w = do(t, router, http.MethodPost, "/period/check", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("period check: status %d", w.Code)
	}
	if res := decode[wager.RolloverResult](t, w); res.Rolled || res.Period != "3-2026" {
		t.Errorf("first check=%+v", res)
	}

	w = do(t, router, http.MethodGet, "/globals", "", nil)
	g := decode[model.Globals](t, w)
	if g.Prize != "Tacos" || g.PeriodKey != "3-2026" {
		t.Errorf("globals=%+v", g)
	}
}

func TestLeaderboard(t *testing.T) {
	_, router := newTestEnv(t)
	ana := login(t, router, "Ana")
	beto := login(t, router, "Beto")
	caro := login(t, router, "Caro")
	bet := createBet(t, router, caro.ID)
	stake(t, router, ana.ID, bet.ID, 1, 30)

	w := do(t, router, http.MethodGet, "/leaderboard", "", nil)
	users := decode[[]model.User](t, w)
	if len(users) != 3 {
		t.Fatalf("leaderboard size=%d", len(users))
	}
	if users[0].ID != beto.ID || users[1].ID != caro.ID || users[2].ID != ana.ID {
		t.Errorf("order=%s,%s,%s", users[0].Name, users[1].Name, users[2].Name)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		wager.KindInvalidAmount:     http.StatusBadRequest,
		wager.KindInsufficientFunds: http.StatusConflict,
		wager.KindUnknownOption:     http.StatusUnprocessableEntity,
		wager.KindUnauthorized:      http.StatusForbidden,
		wager.KindNotFound:          http.StatusNotFound,
		wager.KindStorageTimeout:    http.StatusServiceUnavailable,
		wager.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := api.StatusFor(kind); got != want {
			t.Errorf("StatusFor(%s)=%d want %d", kind, got, want)
		}
	}
}
