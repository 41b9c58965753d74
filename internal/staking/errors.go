package staking

import (
	"errors"

	"github.com/Klingon-tech/klingnet-staking/internal/params"
)

// Engine errors. Wrapped errors keep these as their root; match with errors.Is.
var (
	ErrInvalidAmount      = errors.New("stake amount must be positive")
	ErrNoExistingStake    = errors.New("no existing stake")
	ErrDuplicateStakeOpen = errors.New("stake record opened twice")
	ErrClaimTooEarly      = errors.New("claim delay has not elapsed")
	ErrTransferFailed     = errors.New("asset transfer failed")
	ErrUnauthorized       = params.ErrUnauthorized
	ErrInvalidParameters  = params.ErrInvalidParameters
)
