// Package reward computes staking rewards with 256-bit fixed-point integer
// arithmetic. Every division truncates toward zero.
package reward

import (
	"errors"

	"github.com/holiman/uint256"
)

// YearSeconds is the length of the accrual year (365 days).
const YearSeconds = 365 * 24 * 60 * 60

// BpsDenominator is the basis-point scale of AnnualRateBps.
const BpsDenominator = 10_000

// ErrOverflow is returned when an intermediate product exceeds 256 bits.
var ErrOverflow = errors.New("reward arithmetic overflow")

var (
	// Scale is the fixed-point unit of the lock multiplier (1e18 = 1x).
	Scale = uint256.NewInt(1_000_000_000_000_000_000)

	yearBps = uint256.NewInt(YearSeconds * BpsDenominator)
)

// Schedule holds the parameters the reward formula depends on.
type Schedule struct {
	AnnualRateBps     uint64
	MaxLockingPeriod  uint64
	MaxLockMultiplier uint64
}

// Base returns principal * rate * elapsed / (year * 10000).
func Base(principal *uint256.Int, elapsed uint64, s Schedule) (*uint256.Int, error) {
	if principal.IsZero() || elapsed == 0 || s.AnnualRateBps == 0 {
		return new(uint256.Int), nil
	}
	rateTime, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(s.AnnualRateBps), uint256.NewInt(elapsed))
	if overflow {
		return nil, ErrOverflow
	}
	base, overflow := new(uint256.Int).MulDivOverflow(principal, rateTime, yearBps)
	if overflow {
		return nil, ErrOverflow
	}
	return base, nil
}

// Multiplier returns the lock multiplier in Scale units. It grows linearly
// from 1x at lockElapsed == 0 to MaxLockMultiplier at MaxLockingPeriod and
// stays there afterwards.
func Multiplier(lockElapsed uint64, s Schedule) *uint256.Int {
	m := new(uint256.Int).Set(Scale)
	if s.MaxLockMultiplier <= 1 || s.MaxLockingPeriod == 0 {
		return m
	}
	capped := min(lockElapsed, s.MaxLockingPeriod)
	// (max-1) * 1e18 * capped < 2^188, no overflow check needed.
	bonus := new(uint256.Int).Mul(uint256.NewInt(s.MaxLockMultiplier-1), Scale)
	bonus.Mul(bonus, uint256.NewInt(capped))
	bonus.Div(bonus, uint256.NewInt(s.MaxLockingPeriod))
	return m.Add(m, bonus)
}

// Reward returns the reward owed for holding principal over elapsed seconds
// when the stake has been locked for lockElapsed seconds.
func Reward(principal *uint256.Int, elapsed, lockElapsed uint64, s Schedule) (*uint256.Int, error) {
	base, err := Base(principal, elapsed, s)
	if err != nil {
		return nil, err
	}
	if base.IsZero() {
		return base, nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(base, Multiplier(lockElapsed, s), Scale)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
