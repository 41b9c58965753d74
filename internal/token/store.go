package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/internal/storage"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/holiman/uint256"
)

var (
	keyMetadata     = []byte("m")
	keySupply       = []byte("s")
	prefixBalance   = []byte("b/") // b/<addr(20)> -> amount(32)
	prefixAllowance = []byte("a/") // a/<owner(20)><spender(20)> -> amount(32)
)

// Token is one fungible asset. All methods are safe for concurrent use.
type Token struct {
	db   storage.DB
	meta Metadata

	mu sync.Mutex // serialises read-modify-write of balances
}

// Open loads the token stored in db, creating it with meta on first use.
// An existing token must carry the same name, symbol and decimals.
func Open(db storage.DB, meta Metadata) (*Token, error) {
	raw, err := db.Get(keyMetadata)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		data, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("token marshal: %w", err)
		}
		if err := db.Put(keyMetadata, data); err != nil {
			return nil, fmt.Errorf("token put metadata: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("token get metadata: %w", err)
	default:
		var stored Metadata
		if err := json.Unmarshal(raw, &stored); err != nil {
			return nil, fmt.Errorf("token unmarshal: %w", err)
		}
		if stored.Name != meta.Name || stored.Symbol != meta.Symbol || stored.Decimals != meta.Decimals {
			return nil, fmt.Errorf("%w: stored %s/%s/%d, configured %s/%s/%d", ErrMetadataMismatch,
				stored.Name, stored.Symbol, stored.Decimals, meta.Name, meta.Symbol, meta.Decimals)
		}
		meta = stored
	}
	return &Token{db: db, meta: meta}, nil
}

// Metadata returns the token's descriptive fields.
func (t *Token) Metadata() Metadata {
	return t.meta
}

// TotalSupply returns the amount minted so far.
func (t *Token) TotalSupply() (*uint256.Int, error) {
	return t.load(keySupply)
}

// BalanceOf returns the balance of addr.
func (t *Token) BalanceOf(addr types.Address) (*uint256.Int, error) {
	return t.load(balanceKey(addr))
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(owner, spender types.Address) (*uint256.Int, error) {
	return t.load(allowanceKey(owner, spender))
}

// Mint creates amount new tokens for to.
func (t *Token) Mint(to types.Address, amount *uint256.Int) error {
	if to.IsZero() {
		return fmt.Errorf("mint: %w", ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	supply, err := t.load(keySupply)
	if err != nil {
		return err
	}
	bal, err := t.load(balanceKey(to))
	if err != nil {
		return err
	}
	if _, overflow := supply.AddOverflow(supply, amount); overflow {
		return ErrSupplyOverflow
	}
	bal.Add(bal, amount) // bounded by supply

	batch := storage.NewBatch(t.db)
	if err := put(batch, keySupply, supply); err != nil {
		return err
	}
	if err := putBalance(batch, to, bal); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("mint commit: %w", err)
	}
	log.Token.Debug().Str("token", t.meta.Symbol).Str("to", to.String()).Str("amount", amount.Dec()).Msg("Minted")
	return nil
}

// Transfer moves amount from from to to.
func (t *Token) Transfer(from, to types.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	batch := storage.NewBatch(t.db)
	if err := t.move(batch, from, to, amount); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("transfer commit: %w", err)
	}
	return nil
}

// Approve sets the amount spender may move on behalf of owner, replacing
// any previous allowance.
func (t *Token) Approve(owner, spender types.Address, amount *uint256.Int) error {
	if owner.IsZero() || spender.IsZero() {
		return fmt.Errorf("approve: %w", ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	v := amount.Bytes32()
	return t.db.Put(allowanceKey(owner, spender), v[:])
}

// TransferFrom moves amount from from to to using spender's allowance.
// An allowance of 2^256-1 is treated as unlimited and never decreases.
func (t *Token) TransferFrom(spender, from, to types.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed, err := t.load(allowanceKey(from, spender))
	if err != nil {
		return err
	}
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: %s allowed, %s requested", ErrInsufficientAllowance, allowed.Dec(), amount.Dec())
	}

	batch := storage.NewBatch(t.db)
	if err := t.move(batch, from, to, amount); err != nil {
		return err
	}
	if !isUnlimited(allowed) {
		if err := put(batch, allowanceKey(from, spender), allowed.Sub(allowed, amount)); err != nil {
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("transfer commit: %w", err)
	}
	return nil
}

// Refund sends amount from holder back to owner and gives back the
// allowance owner had granted holder, in one batch. It undoes a
// TransferFrom(holder, owner, holder, amount).
func (t *Token) Refund(holder, owner types.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed, err := t.load(allowanceKey(owner, holder))
	if err != nil {
		return err
	}

	batch := storage.NewBatch(t.db)
	if err := t.move(batch, holder, owner, amount); err != nil {
		return err
	}
	if !isUnlimited(allowed) {
		if _, overflow := allowed.AddOverflow(allowed, amount); overflow {
			allowed.SetAllOne()
		}
		if err := put(batch, allowanceKey(owner, holder), allowed); err != nil {
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("refund commit: %w", err)
	}
	return nil
}

// move stages a balance transfer into batch. Caller holds t.mu.
func (t *Token) move(batch storage.Writer, from, to types.Address, amount *uint256.Int) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("transfer: %w", ErrZeroAddress)
	}
	src, err := t.load(balanceKey(from))
	if err != nil {
		return err
	}
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, src.Dec(), t.meta.Symbol, amount.Dec())
	}
	if from == to {
		return nil
	}
	dst, err := t.load(balanceKey(to))
	if err != nil {
		return err
	}
	src.Sub(src, amount)
	dst.Add(dst, amount) // bounded by supply
	if err := putBalance(batch, from, src); err != nil {
		return err
	}
	return putBalance(batch, to, dst)
}

// ForEachBalance calls fn for every account holding a non-zero balance.
func (t *Token) ForEachBalance(fn func(addr types.Address, bal *uint256.Int) error) error {
	return t.db.ForEach(prefixBalance, func(key, value []byte) error {
		if len(key) != len(prefixBalance)+types.AddressSize || len(value) != 32 {
			return nil // Malformed entry, skip.
		}
		bal := new(uint256.Int).SetBytes32(value)
		if bal.IsZero() {
			return nil
		}
		var addr types.Address
		copy(addr[:], key[len(prefixBalance):])
		return fn(addr, bal)
	})
}

func (t *Token) load(key []byte) (*uint256.Int, error) {
	raw, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("token get: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("token value must be 32 bytes, got %d", len(raw))
	}
	return new(uint256.Int).SetBytes32(raw), nil
}

func put(w storage.Writer, key []byte, v *uint256.Int) error {
	b := v.Bytes32()
	if err := w.Put(key, b[:]); err != nil {
		return fmt.Errorf("token put: %w", err)
	}
	return nil
}

// putBalance stores bal for addr. Empty balances are deleted so an account
// that gives back everything it received leaves no trace.
func putBalance(w storage.Writer, addr types.Address, bal *uint256.Int) error {
	if bal.IsZero() {
		if err := w.Delete(balanceKey(addr)); err != nil {
			return fmt.Errorf("token delete: %w", err)
		}
		return nil
	}
	return put(w, balanceKey(addr), bal)
}

func isUnlimited(v *uint256.Int) bool {
	return v.Eq(new(uint256.Int).SetAllOne())
}

func balanceKey(addr types.Address) []byte {
	key := make([]byte, len(prefixBalance)+types.AddressSize)
	copy(key, prefixBalance)
	copy(key[len(prefixBalance):], addr[:])
	return key
}

func allowanceKey(owner, spender types.Address) []byte {
	key := make([]byte, len(prefixAllowance)+2*types.AddressSize)
	copy(key, prefixAllowance)
	copy(key[len(prefixAllowance):], owner[:])
	copy(key[len(prefixAllowance)+types.AddressSize:], spender[:])
	return key
}
