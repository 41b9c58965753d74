// Package ledger persists per-account stake records and the pool-wide
// reward accounting. Mutations are staged in a Tx and written in a single
// storage batch on Commit.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/internal/storage"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/holiman/uint256"
)

// Ledger errors.
var (
	ErrNoStake        = errors.New("no stake record")
	ErrDuplicateStake = errors.New("stake record already exists")
	ErrZeroPrincipal  = errors.New("principal must be positive")
	ErrOverflow       = errors.New("ledger amount overflow")
	ErrTxDone         = errors.New("ledger transaction already finished")
)

var (
	recordPrefix    = []byte("s/")
	totalClaimedKey = []byte("a/total-claimed")
)

func recordKey(addr types.Address) []byte {
	k := make([]byte, 0, len(recordPrefix)+types.AddressSize)
	k = append(k, recordPrefix...)
	return append(k, addr[:]...)
}

// Entry pairs an account with its stake record.
type Entry struct {
	Account types.Address `json:"account"`
	Record  *Record       `json:"record"`
}

// Stats summarises the ledger.
type Stats struct {
	Stakers             int          `json:"stakers"`
	TotalPrincipal      *uint256.Int `json:"totalPrincipal"`
	TotalRewardsClaimed *uint256.Int `json:"totalRewardsClaimed"`
}

// Ledger stores stake records in a key-value database.
type Ledger struct {
	db storage.DB

	// mu serialises commits and guards totalClaimed and stakers.
	mu           sync.Mutex
	totalClaimed *uint256.Int
	stakers      int
}

// New opens a ledger over db, loading the persisted reward accounting.
func New(db storage.DB) (*Ledger, error) {
	l := &Ledger{db: db, totalClaimed: new(uint256.Int)}
	raw, err := db.Get(totalClaimedKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load total claimed: %w", err)
	case len(raw) != 32:
		return nil, fmt.Errorf("total claimed must be 32 bytes, got %d", len(raw))
	default:
		l.totalClaimed.SetBytes32(raw)
	}
	if err := l.ForEach(func(types.Address, *Record) error { l.stakers++; return nil }); err != nil {
		return nil, fmt.Errorf("count stakers: %w", err)
	}
	return l, nil
}

// Stakers returns the number of open stake records.
func (l *Ledger) Stakers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stakers
}

// Peek returns the record for addr, or nil if the account has no stake.
func (l *Ledger) Peek(addr types.Address) (*Record, error) {
	raw, err := l.db.Get(recordKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stake %s: %w", addr, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("decode stake %s: %w", addr, err)
	}
	return rec, nil
}

// TotalRewardsClaimed returns the sum of all rewards ever paid.
func (l *Ledger) TotalRewardsClaimed() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.totalClaimed)
}

// ForEach calls fn for every stake record in address order.
func (l *Ledger) ForEach(fn func(addr types.Address, rec *Record) error) error {
	return l.forEachFrom(recordPrefix, fn)
}

func (l *Ledger) forEachFrom(start []byte, fn func(addr types.Address, rec *Record) error) error {
	return l.db.ForEachFrom(recordPrefix, start, func(key, value []byte) error {
		if len(key) != len(recordPrefix)+types.AddressSize {
			return fmt.Errorf("malformed stake key %x", key)
		}
		var addr types.Address
		copy(addr[:], key[len(recordPrefix):])
		rec, err := decodeRecord(value)
		if err != nil {
			return fmt.Errorf("decode stake %s: %w", addr, err)
		}
		return fn(addr, rec)
	})
}

var errStopList = errors.New("stop")

// List returns up to limit records starting after the first offset entries.
// A zero limit returns every remaining record. Prefer ListAfter for deep
// pages: List walks the skipped entries.
func (l *Ledger) List(offset, limit int) ([]Entry, error) {
	var out []Entry
	i := 0
	err := l.ForEach(func(addr types.Address, rec *Record) error {
		defer func() { i++ }()
		if i < offset {
			return nil
		}
		if limit > 0 && len(out) >= limit {
			return errStopList
		}
		out = append(out, Entry{Account: addr, Record: rec})
		return nil
	})
	if err != nil && !errors.Is(err, errStopList) {
		return nil, err
	}
	return out, nil
}

// ListAfter returns up to limit records whose address sorts after after,
// seeking directly to it. A nil after starts at the first record. A zero
// limit returns every remaining record.
func (l *Ledger) ListAfter(after *types.Address, limit int) ([]Entry, error) {
	start := recordPrefix
	if after != nil {
		start = append(recordKey(*after), 0)
	}
	var out []Entry
	err := l.forEachFrom(start, func(addr types.Address, rec *Record) error {
		if limit > 0 && len(out) >= limit {
			return errStopList
		}
		out = append(out, Entry{Account: addr, Record: rec})
		return nil
	})
	if err != nil && !errors.Is(err, errStopList) {
		return nil, err
	}
	return out, nil
}

// Stats counts stakers and sums locked principal.
func (l *Ledger) Stats() (Stats, error) {
	s := Stats{TotalPrincipal: new(uint256.Int), TotalRewardsClaimed: l.TotalRewardsClaimed()}
	err := l.ForEach(func(_ types.Address, rec *Record) error {
		s.Stakers++
		if _, overflow := s.TotalPrincipal.AddOverflow(s.TotalPrincipal, rec.Principal); overflow {
			return ErrOverflow
		}
		return nil
	})
	return s, err
}

// Begin starts a transaction. Callers must hold whatever per-account
// exclusion they need; the ledger only serialises the final commit.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		l:       l,
		staged:  make(map[types.Address]*Record),
		claimed: new(uint256.Int),
	}
}

// commit writes the staged records and claim total in one batch.
func (l *Ledger) commit(staged map[types.Address]*Record, claimed *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	newTotal, overflow := new(uint256.Int).AddOverflow(l.totalClaimed, claimed)
	if overflow {
		return ErrOverflow
	}

	batch := storage.NewBatch(l.db)
	delta := 0
	for addr, rec := range staged {
		existed, err := l.db.Has(recordKey(addr))
		if err != nil {
			return fmt.Errorf("check stake %s: %w", addr, err)
		}
		switch {
		case rec == nil && existed:
			delta--
		case rec != nil && !existed:
			delta++
		}
		if rec == nil {
			err = batch.Delete(recordKey(addr))
		} else {
			err = batch.Put(recordKey(addr), rec.encode())
		}
		if err != nil {
			return fmt.Errorf("stage stake %s: %w", addr, err)
		}
	}
	if !claimed.IsZero() {
		total := newTotal.Bytes32()
		if err := batch.Put(totalClaimedKey, total[:]); err != nil {
			return fmt.Errorf("stage total claimed: %w", err)
		}
	}
	if err := batch.Commit(); err != nil {
		log.Ledger.Error().Err(err).Msg("Ledger commit failed")
		return fmt.Errorf("commit ledger batch: %w", err)
	}
	l.totalClaimed = newTotal
	l.stakers += delta
	return nil
}
