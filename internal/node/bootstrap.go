package node

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-staking/config"
	"github.com/Klingon-tech/klingnet-staking/internal/storage"
	"github.com/Klingon-tech/klingnet-staking/internal/token"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/rs/zerolog"
)

// Database key prefixes.
var (
	prefixStakeToken  = []byte("t/stk/")
	prefixRewardToken = []byte("t/rwd/")
	prefixLedger      = []byte("l/")
	prefixParams      = []byte("p/")
	prefixNonces      = []byte("n/")
	prefixMeta        = []byte("m/")

	keyPoolHash = []byte("pool")
)

// ErrPoolMismatch is returned when the database was bootstrapped from a
// different pool definition.
var ErrPoolMismatch = errors.New("database was created for a different pool")

// bootstrapPool mints the initial allocations and funds the reward
// custody the first time a database is opened. The pool hash is written
// last and marks completion; on later starts it must match.
func bootstrapPool(meta storage.DB, pool *config.Pool, stake, rwd *token.Custody, logger zerolog.Logger) (types.Hash, error) {
	hash, err := pool.Hash()
	if err != nil {
		return types.Hash{}, fmt.Errorf("hash pool: %w", err)
	}

	stored, err := meta.Get(keyPoolHash)
	switch {
	case err == nil:
		if !bytes.Equal(stored, hash[:]) {
			return types.Hash{}, fmt.Errorf("%w: stored %x, configured %s", ErrPoolMismatch, stored, hash)
		}
		return hash, nil
	case !errors.Is(err, storage.ErrNotFound):
		return types.Hash{}, fmt.Errorf("read pool hash: %w", err)
	}

	// No marker: either a fresh database or an interrupted bootstrap.
	for _, c := range []*token.Custody{stake, rwd} {
		supply, err := c.Token.TotalSupply()
		if err != nil {
			return types.Hash{}, err
		}
		if !supply.IsZero() {
			return types.Hash{}, fmt.Errorf("incomplete bootstrap: %s already has supply %s; remove the database and restart",
				c.Token.Metadata().Symbol, supply.Dec())
		}
	}

	if err := mintAllocations(stake.Token, pool.StakeToken); err != nil {
		return types.Hash{}, err
	}
	if err := mintAllocations(rwd.Token, pool.RewardToken); err != nil {
		return types.Hash{}, err
	}

	admin, err := pool.AdminAddress()
	if err != nil {
		return types.Hash{}, err
	}
	funding, err := pool.Funding()
	if err != nil {
		return types.Hash{}, err
	}
	if !funding.IsZero() {
		if err := rwd.Token.Transfer(admin, rwd.Holder, funding); err != nil {
			return types.Hash{}, fmt.Errorf("fund reward custody: %w", err)
		}
	}

	if err := meta.Put(keyPoolHash, hash[:]); err != nil {
		return types.Hash{}, fmt.Errorf("write pool hash: %w", err)
	}
	logger.Info().
		Str("pool", pool.Name).
		Str("hash", hash.String()).
		Str("funding", types.FormatAmount(funding, pool.RewardToken.Decimals)).
		Msg("Pool bootstrapped")
	return hash, nil
}

func mintAllocations(t *token.Token, def config.TokenDef) error {
	allocs, err := def.Allocations()
	if err != nil {
		return fmt.Errorf("%s allocations: %w", def.Symbol, err)
	}
	for _, a := range allocs {
		if err := t.Mint(a.Address, a.Amount); err != nil {
			return fmt.Errorf("mint %s to %s: %w", def.Symbol, a.Address, err)
		}
	}
	return nil
}
