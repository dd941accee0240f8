package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RewardConfig is fixed when the ledger is created.
type RewardConfig struct {
	// PrizeAmount is paid to the author of a winning greeting.
	PrizeAmount decimal.Decimal `json:"prize_amount"`
	// InitialBalance funds the rewards. It is never topped up.
	InitialBalance decimal.Decimal `json:"initial_balance"`
	// CooldownPeriod is the minimum time between two payouts.
	CooldownPeriod time.Duration `json:"cooldown_period"`
	// WinProbabilityPercent is the share, out of 100, of winning draws.
	WinProbabilityPercent uint8 `json:"win_probability_percent"`
	// Seed initializes the reward PRNG. New picks a random seed when it is
	// zero.
	Seed uint64 `json:"seed"`
}

// DefaultRewardConfig mirrors the parameters the demo was deployed with:
// 0.001 prize out of a 0.1 fund, one hour cooldown, 20% chance of winning.
// The seed is left zero so that every new ledger draws its own sequence.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		PrizeAmount:           decimal.RequireFromString("0.001"),
		InitialBalance:        decimal.RequireFromString("0.1"),
		CooldownPeriod:        time.Hour,
		WinProbabilityPercent: 20,
	}
}

// Validate reports whether the configuration can drive a ledger.
func (c RewardConfig) Validate() error {
	if !c.PrizeAmount.IsPositive() {
		return fmt.Errorf("%w: prize amount must be positive, got %s", ErrInvalidConfig, c.PrizeAmount)
	}
	if c.InitialBalance.IsNegative() {
		return fmt.Errorf("%w: initial balance must not be negative, got %s", ErrInvalidConfig, c.InitialBalance)
	}
	if c.CooldownPeriod < 0 {
		return fmt.Errorf("%w: cooldown period must not be negative, got %s", ErrInvalidConfig, c.CooldownPeriod)
	}
	if c.WinProbabilityPercent > 100 {
		return fmt.Errorf("%w: win probability must be at most 100, got %d", ErrInvalidConfig, c.WinProbabilityPercent)
	}
	return nil
}

// Equal reports whether both configurations describe the same ledger.
func (c RewardConfig) Equal(o RewardConfig) bool {
	return c.PrizeAmount.Equal(o.PrizeAmount) &&
		c.InitialBalance.Equal(o.InitialBalance) &&
		c.CooldownPeriod == o.CooldownPeriod &&
		c.WinProbabilityPercent == o.WinProbabilityPercent &&
		c.Seed == o.Seed
}
