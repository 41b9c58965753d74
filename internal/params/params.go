// Package params holds the pool's reward parameters and the administrator
// update protocol.
package params

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-staking/internal/reward"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

// Parameter errors.
var (
	ErrUnauthorized      = errors.New("caller is not the pool administrator")
	ErrInvalidParameters = errors.New("invalid pool parameters")
)

// Parameters are the tunable reward settings of the pool.
type Parameters struct {
	// AnnualRateBps is the reward per 365-day year in basis points of principal.
	AnnualRateBps uint64 `json:"annualRateBps" yaml:"annual_rate_bps"`
	// ClaimDelay is the minimum number of seconds between claims and before unstake.
	ClaimDelay uint64 `json:"claimDelay" yaml:"claim_delay"`
	// MaxLockingPeriod is the lock age in seconds at which the multiplier peaks.
	MaxLockingPeriod uint64 `json:"maxLockingPeriod" yaml:"max_locking_period"`
	// MaxLockMultiplier is the whole-number multiplier reached at MaxLockingPeriod.
	MaxLockMultiplier uint64 `json:"maxLockMultiplier" yaml:"max_lock_multiplier"`
}

// Validate checks that the reward schedule is well defined.
func (p Parameters) Validate() error {
	if p.MaxLockingPeriod == 0 {
		return fmt.Errorf("%w: max locking period must be positive", ErrInvalidParameters)
	}
	if p.MaxLockMultiplier == 0 {
		return fmt.Errorf("%w: max lock multiplier must be at least 1", ErrInvalidParameters)
	}
	return nil
}

// Schedule returns the subset of parameters the reward formula uses.
func (p Parameters) Schedule() reward.Schedule {
	return reward.Schedule{
		AnnualRateBps:     p.AnnualRateBps,
		MaxLockingPeriod:  p.MaxLockingPeriod,
		MaxLockMultiplier: p.MaxLockMultiplier,
	}
}

// Snapshot is an immutable, versioned parameter set.
type Snapshot struct {
	Parameters
	Version   uint64        `json:"version"`
	UpdatedAt uint64        `json:"updatedAt"`
	UpdatedBy types.Address `json:"updatedBy"`
}

// AdminChecker decides whether a caller may update parameters.
type AdminChecker interface {
	IsAdmin(caller types.Address) bool
}

// StaticAdmin authorises exactly one address.
type StaticAdmin types.Address

// IsAdmin implements AdminChecker.
func (a StaticAdmin) IsAdmin(caller types.Address) bool {
	return !types.Address(a).IsZero() && types.Address(a) == caller
}
