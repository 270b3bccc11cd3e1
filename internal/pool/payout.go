package pool

import (
	"github.com/shopspring/decimal"

	"github.com/friendsbet/bet-engine/internal/model"
)

// Payout is a credit owed to one user when a bet settles.
type Payout struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// ProRata splits the whole pot of a resolved bet among the stakes on the
// winning option in proportion to their size:
//
//	payout_i = floor(stake_i * totalPool / winningPool)
//
// The product is taken in decimal so large pots cannot overflow. The
// rounding remainder goes to the earliest winning stake, so the sum of
// payouts always equals TotalPool. When nobody backed the winner every stake
// is refunded. Unresolved bets pay nothing.
func ProRata(b model.Bet) []Payout {
	if b.Status != model.StatusResolved || b.Result == nil {
		return nil
	}
	winner := b.Option(*b.Result)
	if winner == nil || winner.Pool == 0 {
		return Refunds(b)
	}

	total := decimal.NewFromInt(b.TotalPool)
	winning := decimal.NewFromInt(winner.Pool)

	var payouts []Payout
	var paid int64
	for _, s := range b.Stakes {
		if s.OptionID != winner.ID {
			continue
		}
		q, _ := decimal.NewFromInt(s.Amount).Mul(total).QuoRem(winning, 0)
		amount := q.IntPart()
		payouts = append(payouts, Payout{UserID: s.UserID, Amount: amount})
		paid += amount
	}
	if len(payouts) > 0 {
		payouts[0].Amount += b.TotalPool - paid
	}
	return payouts
}

// Refunds returns every stake to the user who placed it.
func Refunds(b model.Bet) []Payout {
	payouts := make([]Payout, 0, len(b.Stakes))
	for _, s := range b.Stakes {
		if s.Amount == 0 {
			continue
		}
		payouts = append(payouts, Payout{UserID: s.UserID, Amount: s.Amount})
	}
	return payouts
}

// Total sums the amounts of a payout list.
func Total(payouts []Payout) int64 {
	var sum int64
	for _, p := range payouts {
		sum += p.Amount
	}
	return sum
}
