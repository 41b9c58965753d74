// Package token implements the fungible tokens the pool stakes and pays
// out. Balances, allowances and supply live in a key-value store; every
// balance change is written in one storage batch.
package token

import (
	"errors"

	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

// Token errors.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrSupplyOverflow        = errors.New("total supply overflow")
	ErrMetadataMismatch      = errors.New("token metadata mismatch")
)

// Metadata holds descriptive information about a token.
type Metadata struct {
	Name     string        `json:"name"`
	Symbol   string        `json:"symbol"`
	Decimals uint8         `json:"decimals"`
	Creator  types.Address `json:"creator"`
}
