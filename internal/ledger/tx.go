package ledger

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/holiman/uint256"
)

// Tx stages ledger mutations. Nothing is written until Commit; a Tx that
// is discarded or simply dropped leaves storage untouched.
type Tx struct {
	l *Ledger
	// staged maps an account to its pending record; nil marks a deletion.
	staged  map[types.Address]*Record
	claimed *uint256.Int
	done    bool
}

// Peek returns the record for addr as seen by this transaction.
func (tx *Tx) Peek(addr types.Address) (*Record, error) {
	if rec, ok := tx.staged[addr]; ok {
		return rec.Clone(), nil
	}
	return tx.l.Peek(addr)
}

// Open creates a record with principal amount and both timestamps set to now.
func (tx *Tx) Open(addr types.Address, amount *uint256.Int, now uint64) error {
	if tx.done {
		return ErrTxDone
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroPrincipal
	}
	rec, err := tx.Peek(addr)
	if err != nil {
		return err
	}
	if rec != nil {
		return fmt.Errorf("open %s: %w", addr, ErrDuplicateStake)
	}
	tx.staged[addr] = &Record{
		Principal:     new(uint256.Int).Set(amount),
		StakeTime:     now,
		LastClaimTime: now,
		ClaimedAmount: new(uint256.Int),
	}
	return nil
}

// TopUp adds amount to an existing principal and restarts both the lock
// and claim clocks at now. Pending reward must already be settled.
func (tx *Tx) TopUp(addr types.Address, amount *uint256.Int, now uint64) error {
	if tx.done {
		return ErrTxDone
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroPrincipal
	}
	rec, err := tx.Peek(addr)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("top up %s: %w", addr, ErrNoStake)
	}
	if _, overflow := rec.Principal.AddOverflow(rec.Principal, amount); overflow {
		return fmt.Errorf("top up %s: %w", addr, ErrOverflow)
	}
	rec.StakeTime = now
	rec.LastClaimTime = now
	tx.staged[addr] = rec
	return nil
}

// Settle records a claim: lastClaimTime moves to now and paid is added to
// the account's claimed amount and the pool total.
func (tx *Tx) Settle(addr types.Address, paid *uint256.Int, now uint64) error {
	if tx.done {
		return ErrTxDone
	}
	rec, err := tx.Peek(addr)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("settle %s: %w", addr, ErrNoStake)
	}
	if paid == nil {
		paid = new(uint256.Int)
	}
	if _, overflow := rec.ClaimedAmount.AddOverflow(rec.ClaimedAmount, paid); overflow {
		return fmt.Errorf("settle %s: %w", addr, ErrOverflow)
	}
	claimed, overflow := new(uint256.Int).AddOverflow(tx.claimed, paid)
	if overflow {
		return fmt.Errorf("settle %s: %w", addr, ErrOverflow)
	}
	rec.LastClaimTime = now
	tx.staged[addr] = rec
	tx.claimed = claimed
	return nil
}

// Close removes the record for addr and returns it as it stood.
func (tx *Tx) Close(addr types.Address) (*Record, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	rec, err := tx.Peek(addr)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("close %s: %w", addr, ErrNoStake)
	}
	tx.staged[addr] = nil
	return rec, nil
}

// Claimed returns the reward total settled in this transaction.
func (tx *Tx) Claimed() *uint256.Int {
	return new(uint256.Int).Set(tx.claimed)
}

// Commit writes all staged changes atomically.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	if err := tx.l.commit(tx.staged, tx.claimed); err != nil {
		return err
	}
	tx.done = true
	return nil
}

// Discard drops all staged changes.
func (tx *Tx) Discard() {
	tx.done = true
	tx.staged = nil
}
