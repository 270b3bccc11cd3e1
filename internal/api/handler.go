// Package api exposes the wager service over HTTP.
//
// The caller identifies itself with the X-User-ID header. There is no
// authentication beyond that: the group trusts its members.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/friendsbet/bet-engine/internal/model"
	"github.com/friendsbet/bet-engine/internal/pool"
	"github.com/friendsbet/bet-engine/internal/wager"
)

// UserHeader carries the id of the calling user.
const UserHeader = "X-User-ID"

// KindValidation is reported for request bodies that fail to decode or
// violate field constraints.
const KindValidation = "validation"

var validate = validator.New()

// Handler serves the wager API.
type Handler struct {
	svc *wager.Service
	log *zap.Logger
}

func NewHandler(svc *wager.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log.Named("api")}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/login", h.Login)
	r.Get("/users", h.ListUsers)
	r.Get("/users/{userID}", h.GetUser)
	r.Get("/leaderboard", h.Leaderboard)

	r.Get("/bets", h.ListBets)
	r.Post("/bets", h.CreateBet)
	r.Route("/bets/{betID}", func(r chi.Router) {
		r.Get("/", h.GetBet)
		r.Delete("/", h.DeleteBet)
		r.Get("/odds", h.GetOdds)
		r.Post("/stakes", h.PlaceStake)
		r.Post("/resolve", h.ResolveBet)
	})

	r.Get("/globals", h.GetGlobals)
	r.Put("/globals/prize", h.SetPrize)
	r.Post("/period/check", h.CheckPeriod)
}

// --- Request/Response types ---

type LoginRequest struct {
	Name string `json:"name" validate:"max=40"`
}

type CreateBetRequest struct {
	Title    string   `json:"title" validate:"max=200"`
	Options  []string `json:"options" validate:"dive,max=100"`
	ImageURL string   `json:"image_url" validate:"omitempty,url"`
}

// StakeRequest places Amount points on OptionID. Amount is checked by the
// ledger so that non-positive values report invalid_amount.
type StakeRequest struct {
	OptionID *int  `json:"option_id" validate:"required"`
	Amount   int64 `json:"amount"`
}

type ResolveRequest struct {
	WinningOptionID *int `json:"winning_option_id" validate:"required"`
}

type PrizeRequest struct {
	Prize string `json:"prize" validate:"required,max=200"`
}

// OddsResponse is one option of GET /bets/{betID}/odds. Odds and share are
// fixed to two decimals.
type OddsResponse struct {
	OptionID int    `json:"option_id"`
	Text     string `json:"text"`
	Pool     int64  `json:"pool"`
	Odds     string `json:"odds"`
	Share    string `json:"share"`
}

type DeleteResponse struct {
	ID      string        `json:"id"`
	Refunds []pool.Payout `json:"refunds"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// --- HTTP Handlers ---

// Login handles POST /login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.svc.Users()))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.User(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Leaderboard handles GET /leaderboard, highest balance first.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.svc.Leaderboard()))
}

// ListBets handles GET /bets, newest first. ?status=open|resolved filters.
func (h *Handler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets := h.svc.Bets()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]model.Bet, 0, len(bets))
		for _, b := range bets {
			if b.Status == status {
				filtered = append(filtered, b)
			}
		}
		bets = filtered
	}
	writeJSON(w, http.StatusOK, nonNil(bets))
}

// CreateBet handles POST /bets
func (h *Handler) CreateBet(w http.ResponseWriter, r *http.Request) {
	var req CreateBetRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.svc.CreateBet(r.Context(), requester(r), req.Title, req.Options, req.ImageURL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) GetBet(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Bet(chi.URLParam(r, "betID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetOdds handles GET /bets/{betID}/odds
func (h *Handler) GetOdds(w http.ResponseWriter, r *http.Request) {
	board, err := h.svc.Odds(chi.URLParam(r, "betID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]OddsResponse, 0, len(board))
	for _, o := range board {
		resp = append(resp, OddsResponse{
			OptionID: o.OptionID,
			Text:     o.Text,
			Pool:     o.Pool,
			Odds:     o.Odds.StringFixed(pool.OddsScale),
			Share:    o.Share.StringFixed(pool.OddsScale),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// PlaceStake handles POST /bets/{betID}/stakes
func (h *Handler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Stake(r.Context(), requester(r), chi.URLParam(r, "betID"), *req.OptionID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResolveBet handles POST /bets/{betID}/resolve
func (h *Handler) ResolveBet(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Resolve(r.Context(), requester(r), chi.URLParam(r, "betID"), *req.WinningOptionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Payouts == nil {
		res.Payouts = []pool.Payout{}
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteBet handles DELETE /bets/{betID}. Only the author may delete.
func (h *Handler) DeleteBet(w http.ResponseWriter, r *http.Request) {
	betID := chi.URLParam(r, "betID")
	refunds, err := h.svc.DeleteBet(r.Context(), requester(r), betID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{ID: betID, Refunds: nonNil(refunds)})
}

func (h *Handler) GetGlobals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Globals())
}

// SetPrize handles PUT /globals/prize
func (h *Handler) SetPrize(w http.ResponseWriter, r *http.Request) {
	var req PrizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	g, err := h.svc.SetPrize(r.Context(), req.Prize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// CheckPeriod handles POST /period/check. Safe to call repeatedly.
func (h *Handler) CheckPeriod(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CheckRollover(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- helpers ---

func requester(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

// decode reads and validates the JSON body into dst. On failure it has
// already written the response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, KindValidation, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, KindValidation, verrs[0].Field()+" failed "+verrs[0].Tag(), http.StatusBadRequest)
			return false
		}
		writeError(w, KindValidation, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := wager.Kind(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	writeError(w, kind, err.Error(), status)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind string) int {
	switch kind {
	case wager.KindInvalidAmount, wager.KindInvalidBet, wager.KindInvalidName, KindValidation:
		return http.StatusBadRequest
	case wager.KindInsufficientFunds, wager.KindAlreadyVoted, wager.KindBetNotOpen:
		return http.StatusConflict
	case wager.KindUnknownOption:
		return http.StatusUnprocessableEntity
	case wager.KindUnauthorized:
		return http.StatusForbidden
	case wager.KindNotFound:
		return http.StatusNotFound
	case wager.KindStorageTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, kind, msg string, status int) {
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
