package token

import (
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/holiman/uint256"
)

// Custody moves a token between accounts and a pool holding account.
// Deposits draw on the allowance the account granted Holder.
type Custody struct {
	Token  *Token
	Holder types.Address
}

// TransferIn pulls amount from from into the holder's balance.
func (c *Custody) TransferIn(from types.Address, amount *uint256.Int) error {
	return c.Token.TransferFrom(c.Holder, from, c.Holder, amount)
}

// TransferOut pays amount from the holder's balance to to.
func (c *Custody) TransferOut(to types.Address, amount *uint256.Int) error {
	return c.Token.Transfer(c.Holder, to, amount)
}

// RevertIn undoes a TransferIn: amount goes back to from and the allowance
// it consumed is restored.
func (c *Custody) RevertIn(from types.Address, amount *uint256.Int) error {
	return c.Token.Refund(c.Holder, from, amount)
}

// RevertOut undoes a TransferOut by moving amount from to back into custody.
func (c *Custody) RevertOut(to types.Address, amount *uint256.Int) error {
	return c.Token.Transfer(to, c.Holder, amount)
}

// Balance returns the amount held in custody.
func (c *Custody) Balance() (*uint256.Int, error) {
	return c.Token.BalanceOf(c.Holder)
}
