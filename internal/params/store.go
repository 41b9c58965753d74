package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/internal/storage"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

var currentKey = []byte("p/current")

// Store owns the active parameter set. Readers get a consistent snapshot
// without locking; updates are serialised and persisted before they
// become visible.
type Store struct {
	db    storage.DB
	admin AdminChecker

	mu      sync.Mutex // serialises Update
	current atomic.Pointer[Snapshot]
}

// NewStore loads the persisted parameter set from db, or installs initial
// as version 1 when none exists.
func NewStore(db storage.DB, admin AdminChecker, initial Parameters) (*Store, error) {
	s := &Store{db: db, admin: admin}

	raw, err := db.Get(currentKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := initial.Validate(); err != nil {
			return nil, err
		}
		snap := &Snapshot{Parameters: initial, Version: 1}
		if err := s.persist(snap); err != nil {
			return nil, err
		}
		s.current.Store(snap)
	case err != nil:
		return nil, fmt.Errorf("load parameters: %w", err)
	default:
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
		s.current.Store(&snap)
	}
	return s, nil
}

// Current returns the active snapshot. The returned value must not be modified.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Parameters returns a copy of the active parameters.
func (s *Store) Parameters() Parameters {
	return s.current.Load().Parameters
}

// Update replaces all parameters at once. Only the administrator may call
// it. Accrual already settled is never recomputed; the new values apply
// from the next reward computation onward.
func (s *Store) Update(caller types.Address, p Parameters, now uint64) (*Snapshot, error) {
	if s.admin == nil || !s.admin.IsAdmin(caller) {
		log.Params.Warn().Str("caller", caller.String()).Msg("Unauthorized parameter update rejected")
		return nil, ErrUnauthorized
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := &Snapshot{
		Parameters: p,
		Version:    prev.Version + 1,
		UpdatedAt:  now,
		UpdatedBy:  caller,
	}
	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.current.Store(next)

	log.Params.Info().
		Uint64("version", next.Version).
		Uint64("annual_rate_bps", p.AnnualRateBps).
		Uint64("claim_delay", p.ClaimDelay).
		Uint64("max_locking_period", p.MaxLockingPeriod).
		Uint64("max_lock_multiplier", p.MaxLockMultiplier).
		Msg("Pool parameters updated")
	return next, nil
}

func (s *Store) persist(snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	if err := s.db.Put(currentKey, raw); err != nil {
		return fmt.Errorf("store parameters: %w", err)
	}
	return nil
}
