// Package pool implements parimutuel pool accounting for multi-option bets.
//
// Every stake lands in the pool of the option it backs. The payout multiplier
// of an option is the whole pot divided by that option's pool, so odds move
// with every stake and are never locked in when a stake is placed.
//
// Balances and pools are whole points; only the derived odds are decimal,
// computed with shopspring/decimal and rounded to OddsScale places.
package pool

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/friendsbet/bet-engine/internal/model"
)

var (
	// ErrUnknownOption is returned when an option id is not part of the bet.
	ErrUnknownOption = errors.New("pool: unknown option")

	// ErrPoolMismatch is returned by Check when the total pool disagrees
	// with the option pools.
	ErrPoolMismatch = errors.New("pool: total pool does not match option pools")

	// BaseOdds is reported for any option nobody has staked on yet.
	BaseOdds = decimal.NewFromInt(2)

	// OddsScale is the number of decimal places odds are rounded to.
	OddsScale int32 = 2
)

// Odds returns the payout multiplier for an option:
//
//	odds = totalPool / optionPool
//
// An empty option pool reports BaseOdds, which also covers an empty bet.
func Odds(optionPool, totalPool int64) decimal.Decimal {
	if optionPool <= 0 {
		return BaseOdds
	}
	return decimal.NewFromInt(totalPool).
		Div(decimal.NewFromInt(optionPool)).
		Round(OddsScale)
}

// ApplyStake adds amount to the option's pool and to the bet total.
// The bet is left untouched when the option does not exist.
func ApplyStake(b *model.Bet, optionID int, amount int64) error {
	opt := b.Option(optionID)
	if opt == nil {
		return fmt.Errorf("%w: %d", ErrUnknownOption, optionID)
	}
	opt.Pool += amount
	b.TotalPool += amount
	return nil
}

// Check verifies that no pool is negative and that the total matches the
// sum of the option pools.
func Check(b model.Bet) error {
	var sum int64
	for _, o := range b.Options {
		if o.Pool < 0 {
			return fmt.Errorf("%w: option %d pool %d", ErrPoolMismatch, o.ID, o.Pool)
		}
		sum += o.Pool
	}
	if sum != b.TotalPool {
		return fmt.Errorf("%w: total %d, options sum %d", ErrPoolMismatch, b.TotalPool, sum)
	}
	return nil
}

// OptionOdds is the priced view of one option.
type OptionOdds struct {
	OptionID int             `json:"option_id"`
	Text     string          `json:"text"`
	Pool     int64           `json:"pool"`
	Odds     decimal.Decimal `json:"odds"`
	Share    decimal.Decimal `json:"share"` // percentage of the total pool
}

// Board prices every option of b against the bet's current total.
func Board(b model.Bet) []OptionOdds {
	hundred := decimal.NewFromInt(100)
	total := decimal.NewFromInt(b.TotalPool)

	board := make([]OptionOdds, 0, len(b.Options))
	for _, o := range b.Options {
		share := decimal.Zero
		if b.TotalPool > 0 {
			share = decimal.NewFromInt(o.Pool).Div(total).Mul(hundred).Round(OddsScale)
		}
		board = append(board, OptionOdds{
			OptionID: o.ID,
			Text:     o.Text,
			Pool:     o.Pool,
			Odds:     Odds(o.Pool, b.TotalPool),
			Share:    share,
		})
	}
	return board
}
