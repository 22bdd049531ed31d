// Package pricing computes bot rental prices from performance.
package pricing

import (
	"errors"
	"strings"

	"botwatch/internal/storage"

	"github.com/shopspring/decimal"
)

// ErrUnknownDuration is returned for a duration other than hourly, daily or monthly.
var ErrUnknownDuration = errors.New("invalid duration")

var (
	durationBase = map[storage.RentalDuration]decimal.Decimal{
		storage.DurationHourly:  decimal.RequireFromString("0.5"),
		storage.DurationDaily:   decimal.RequireFromString("12"),
		storage.DurationMonthly: decimal.RequireFromString("300"),
	}

	strategyBase = map[string]decimal.Decimal{
		StrategyArbitrage:  decimal.RequireFromString("0.5"),
		StrategyMEV:        decimal.RequireFromString("0.8"),
		StrategyTrading:    decimal.RequireFromString("0.6"),
		StrategyMonitoring: decimal.RequireFromString("0.3"),
		StrategyDeFi:       decimal.RequireFromString("0.7"),
		StrategyNFT:        decimal.RequireFromString("0.4"),
	}

	hoursPerDay     = decimal.NewFromInt(24)
	daysPerMonth    = decimal.NewFromInt(30)
	monthlyDiscount = decimal.RequireFromString("0.8")
)

const (
	StrategyArbitrage  = "arbitrage"
	StrategyMEV        = "mev"
	StrategyTrading    = "trading"
	StrategyMonitoring = "monitoring"
	StrategyDeFi       = "defi"
	StrategyNFT        = "nft"
)

// Multiplier scales prices by a bot's success rate in percent.
func Multiplier(successRate float64) decimal.Decimal {
	switch {
	case successRate > 95:
		return decimal.RequireFromString("1.5")
	case successRate > 90:
		return decimal.RequireFromString("1.25")
	case successRate > 80:
		return decimal.NewFromInt(1)
	default:
		return decimal.RequireFromString("0.8")
	}
}

// StrategyFor guesses a bot's strategy from its id.
func StrategyFor(botID string) string {
	id := strings.ToLower(botID)
	switch {
	case strings.Contains(id, "mev"):
		return StrategyMEV
	case strings.Contains(id, "trade"), strings.Contains(id, "snipe"):
		return StrategyTrading
	case strings.Contains(id, "monitor"):
		return StrategyMonitoring
	default:
		return StrategyArbitrage
	}
}

// StrategyBase returns the hourly base price of strategy, defaulting to arbitrage.
func StrategyBase(strategy string) decimal.Decimal {
	if p, ok := strategyBase[strings.ToLower(strategy)]; ok {
		return p
	}
	return strategyBase[StrategyArbitrage]
}

// RentalPrice returns the price of renting a bot for d at successRate.
func RentalPrice(d storage.RentalDuration, successRate float64) (decimal.Decimal, error) {
	base, ok := durationBase[d]
	if !ok {
		return decimal.Zero, ErrUnknownDuration
	}
	return base.Mul(Multiplier(successRate)), nil
}

// Quote is the price sheet for one bot.
type Quote struct {
	Hourly       decimal.Decimal
	Daily        decimal.Decimal
	Monthly      decimal.Decimal
	Multiplier   decimal.Decimal
	BaseStrategy string
}

// QuoteFor prices a bot by strategy and success rate. Monthly carries a 20% discount.
func QuoteFor(strategy string, successRate float64) Quote {
	mult := Multiplier(successRate)
	hourly := StrategyBase(strategy).Mul(mult)
	return Quote{
		Hourly:       hourly,
		Daily:        hourly.Mul(hoursPerDay),
		Monthly:      hourly.Mul(hoursPerDay).Mul(daysPerMonth).Mul(monthlyDiscount),
		Multiplier:   mult,
		BaseStrategy: strategy,
	}
}

// Float rounds d to cents for JSON output.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
