package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/Klingon-tech/klingnet-staking/internal/params"
	"github.com/Klingon-tech/klingnet-staking/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

// =============================================================================
// Pool definition (fixed at bootstrap)
// Changing any of this after the first start requires a fresh data directory.
// =============================================================================

// Default deployment values.
const (
	DefaultDecimals          = 18
	DefaultSupply            = "1000"
	DefaultRewardFunding     = "100"
	DefaultAnnualRateBps     = 2000    // 20% APY
	DefaultClaimDelay        = 864_000 // 10 days
	DefaultMaxLockPeriod     = 31_540_000
	DefaultMaxLockMultiplier = 5
)

// Pool holds the token definitions, allocations and initial parameters the
// node bootstraps from.
type Pool struct {
	Name string `json:"name" yaml:"name"`

	// Admin may update the reward parameters. Funding is drawn from its
	// reward token balance.
	Admin string `json:"admin" yaml:"admin"`

	StakeToken  TokenDef `json:"stake_token" yaml:"stake_token"`
	RewardToken TokenDef `json:"reward_token" yaml:"reward_token"`

	// RewardFunding is moved from Admin into the reward custody at bootstrap.
	RewardFunding string `json:"reward_funding" yaml:"reward_funding"`

	Parameters params.Parameters `json:"parameters" yaml:"parameters"`
}

// TokenDef describes one fungible token.
type TokenDef struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`

	// Alloc maps address -> initial balance in whole tokens ("1000", "0.5").
	Alloc map[string]string `json:"alloc" yaml:"alloc"`
}

// Allocation is one parsed initial balance.
type Allocation struct {
	Address types.Address
	Amount  *uint256.Int
}

// DefaultPool reproduces the reference deployment: two 18-decimal tokens
// with 1000 units each minted to admin, 100 reward tokens funded, 20% APY,
// a 10-day claim delay and a 5x multiplier at 31,540,000 seconds.
func DefaultPool(admin types.Address) *Pool {
	owner := admin.String()
	return &Pool{
		Name:  "Klingnet Staking Pool",
		Admin: owner,
		StakeToken: TokenDef{
			Name:     "StakingToken",
			Symbol:   "STK",
			Decimals: DefaultDecimals,
			Alloc:    map[string]string{owner: DefaultSupply},
		},
		RewardToken: TokenDef{
			Name:     "RewardToken",
			Symbol:   "RWD",
			Decimals: DefaultDecimals,
			Alloc:    map[string]string{owner: DefaultSupply},
		},
		RewardFunding: DefaultRewardFunding,
		Parameters: params.Parameters{
			AnnualRateBps:     DefaultAnnualRateBps,
			ClaimDelay:        DefaultClaimDelay,
			MaxLockingPeriod:  DefaultMaxLockPeriod,
			MaxLockMultiplier: DefaultMaxLockMultiplier,
		},
	}
}

// PoolFor resolves the pool a node runs: the pool file when configured,
// otherwise DefaultPool owned by pool.admin.
func PoolFor(cfg *Config) (*Pool, error) {
	if cfg.Pool.File != "" {
		return LoadPool(cfg.Pool.File)
	}
	if cfg.Pool.Admin == "" {
		return nil, fmt.Errorf("pool.admin is required when pool.file is not set")
	}
	admin, err := types.ParseAddress(cfg.Pool.Admin)
	if err != nil {
		return nil, fmt.Errorf("pool.admin: %w", err)
	}
	p := DefaultPool(admin)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool: %w", err)
	}
	return p, nil
}

// =============================================================================
// Pool file I/O
// =============================================================================

// LoadPool loads a pool definition. Files ending in .yaml or .yml are parsed
// as YAML, anything else as JSON.
func LoadPool(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pool file: %w", err)
	}

	var p Pool
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("parsing pool file: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("parsing pool file: %w", err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool: %w", err)
	}
	return &p, nil
}

// Save writes the pool definition, as YAML or JSON by extension.
func (p *Pool) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(p)
	} else {
		data, err = json.MarshalIndent(p, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding pool: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing pool file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks that the pool definition is usable.
func (p *Pool) Validate() error {
	admin, err := p.AdminAddress()
	if err != nil {
		return err
	}
	if err := p.StakeToken.validate("stake_token"); err != nil {
		return err
	}
	if err := p.RewardToken.validate("reward_token"); err != nil {
		return err
	}
	if p.StakeToken.Symbol == p.RewardToken.Symbol {
		return fmt.Errorf("stake_token and reward_token share symbol %q", p.StakeToken.Symbol)
	}
	if err := p.Parameters.Validate(); err != nil {
		return err
	}

	funding, err := p.Funding()
	if err != nil {
		return err
	}
	if !funding.IsZero() {
		allocs, err := p.RewardToken.Allocations()
		if err != nil {
			return err
		}
		held := new(uint256.Int)
		for _, a := range allocs {
			if a.Address == admin {
				held = a.Amount
			}
		}
		if funding.Gt(held) {
			return fmt.Errorf("reward_funding %s exceeds admin reward allocation %s",
				p.RewardFunding, types.FormatAmount(held, p.RewardToken.Decimals))
		}
	}
	return nil
}

func (t TokenDef) validate(field string) error {
	if t.Name == "" {
		return fmt.Errorf("%s.name is required", field)
	}
	if t.Symbol == "" {
		return fmt.Errorf("%s.symbol is required", field)
	}
	if t.Decimals > types.MaxDecimals {
		return fmt.Errorf("%s.decimals must be at most %d", field, types.MaxDecimals)
	}
	if _, err := t.Allocations(); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// AdminAddress parses the admin address.
func (p *Pool) AdminAddress() (types.Address, error) {
	if p.Admin == "" {
		return types.Address{}, fmt.Errorf("admin is required")
	}
	addr, err := types.ParseAddress(p.Admin)
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid admin address %q: %w", p.Admin, err)
	}
	if addr.IsZero() {
		return types.Address{}, fmt.Errorf("admin must not be the zero address")
	}
	return addr, nil
}

// Funding returns the reward funding in base units.
func (p *Pool) Funding() (*uint256.Int, error) {
	if p.RewardFunding == "" {
		return new(uint256.Int), nil
	}
	v, err := types.ParseAmount(p.RewardFunding, p.RewardToken.Decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid reward_funding: %w", err)
	}
	return v, nil
}

// Allocations returns the initial balances in base units, sorted by address.
// Duplicate addresses (hex and bech32 spellings of one account) are rejected
// and the total must fit in 256 bits.
func (t TokenDef) Allocations() ([]Allocation, error) {
	out := make([]Allocation, 0, len(t.Alloc))
	seen := make(map[types.Address]bool, len(t.Alloc))
	total := new(uint256.Int)
	for addrStr, amount := range t.Alloc {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		if addr.IsZero() {
			return nil, fmt.Errorf("alloc to the zero address")
		}
		if seen[addr] {
			return nil, fmt.Errorf("duplicate alloc address %s", addr)
		}
		seen[addr] = true

		v, err := types.ParseAmount(amount, t.Decimals)
		if err != nil {
			return nil, fmt.Errorf("invalid alloc amount for %s: %w", addr, err)
		}
		if _, overflow := total.AddOverflow(total, v); overflow {
			return nil, fmt.Errorf("allocations overflow 256 bits")
		}
		out = append(out, Allocation{Address: addr, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out, nil
}

// Hash returns a BLAKE3 hash of the pool definition.
// Used to detect a different pool file on restart.
func (p *Pool) Hash() (types.Hash, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
