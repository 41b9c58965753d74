package staking

import (
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/holiman/uint256"
)

// Transfer moves one asset between an account and the pool's custody.
// The engine holds one Transfer for the stake asset and one for the
// reward asset, and only distinguishes success from failure. A failed
// operation reverts the transfers it already made, newest first.
type Transfer interface {
	// TransferIn pulls amount from the account into custody.
	TransferIn(from types.Address, amount *uint256.Int) error
	// TransferOut pays amount from custody to the account.
	TransferOut(to types.Address, amount *uint256.Int) error
	// RevertIn undoes a TransferIn, including any allowance it consumed.
	RevertIn(from types.Address, amount *uint256.Int) error
	// RevertOut undoes a TransferOut.
	RevertOut(to types.Address, amount *uint256.Int) error
}
