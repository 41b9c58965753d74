// Package staking implements the pool's stake, claim, unstake and
// parameter-update operations on top of the ledger, the parameter store
// and two asset transfer capabilities.
package staking

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-staking/internal/ledger"
	"github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/internal/metrics"
	"github.com/Klingon-tech/klingnet-staking/internal/params"
	"github.com/Klingon-tech/klingnet-staking/internal/reward"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Operation names used in receipts, logs and metrics.
const (
	OpStake   = "stake"
	OpClaim   = "claim"
	OpUnstake = "unstake"
	OpUpdate  = "update_parameters"
)

// ZeroRewardPolicy decides what a successful claim that computes a zero
// reward does to the claim clock.
type ZeroRewardPolicy int

const (
	// ResetOnZero moves lastClaimTime to now even when nothing is paid.
	ResetOnZero ZeroRewardPolicy = iota
	// KeepOnZero leaves the record untouched when nothing is paid.
	KeepOnZero
)

func (p ZeroRewardPolicy) String() string {
	switch p {
	case ResetOnZero:
		return "reset"
	case KeepOnZero:
		return "keep"
	default:
		return fmt.Sprintf("ZeroRewardPolicy(%d)", int(p))
	}
}

// ParseZeroRewardPolicy parses "reset" or "keep". Empty means reset.
func ParseZeroRewardPolicy(s string) (ZeroRewardPolicy, error) {
	switch s {
	case "", "reset":
		return ResetOnZero, nil
	case "keep":
		return KeepOnZero, nil
	default:
		return 0, fmt.Errorf("unknown zero reward policy %q", s)
	}
}

// Receipt describes a completed operation.
type Receipt struct {
	Op            string         `json:"op"`
	Account       types.Address  `json:"account"`
	Time          uint64         `json:"time"`
	Reward        *uint256.Int   `json:"reward"`
	Principal     *uint256.Int   `json:"principal"`
	Record        *ledger.Record `json:"record,omitempty"`
	ParamsVersion uint64         `json:"paramsVersion"`
}

// Pending is the reward an account could claim right now.
type Pending struct {
	Reward      *uint256.Int `json:"reward"`
	Claimable   bool         `json:"claimable"`
	ClaimableAt uint64       `json:"claimableAt"`
	Multiplier  *uint256.Int `json:"multiplier"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithZeroRewardPolicy sets how zero-value claims are treated.
func WithZeroRewardPolicy(p ZeroRewardPolicy) Option {
	return func(e *Engine) { e.zeroPolicy = p }
}

// WithLogger replaces the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRewardDecimals sets the reward token decimals used to report payouts
// in whole tokens to metrics.
func WithRewardDecimals(d uint8) Option {
	return func(e *Engine) { e.rewardUnit = types.Unit(d) }
}

// Engine runs staking operations. Operations on the same account are
// serialised; operations on different accounts run in parallel.
type Engine struct {
	ledger      *ledger.Ledger
	params      *params.Store
	clock       Clock
	stakeAsset  Transfer
	rewardAsset Transfer

	locks      *keyedMutex
	zeroPolicy ZeroRewardPolicy
	logger     zerolog.Logger
	rewardUnit *uint256.Int
}

// New creates an engine.
func New(l *ledger.Ledger, p *params.Store, clock Clock, stakeAsset, rewardAsset Transfer, opts ...Option) *Engine {
	e := &Engine{
		ledger:      l,
		params:      p,
		clock:       clock,
		stakeAsset:  stakeAsset,
		rewardAsset: rewardAsset,
		locks:       newKeyedMutex(),
		logger:      log.Staking,
		rewardUnit:  types.Unit(18),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stake locks amount of the stake asset for caller. An existing stake is
// settled first: its pending reward is paid, then the principal grows and
// both the lock and claim clocks restart.
func (e *Engine) Stake(caller types.Address, amount *uint256.Int) (r *Receipt, err error) {
	defer func() { e.record(OpStake, err) }()
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	unlock := e.locks.Lock(caller)
	defer unlock()

	now := e.clock.Now()
	snap := e.params.Current()
	logger := log.WithAccount(e.logger, caller.String())

	tx := e.ledger.Begin()
	defer tx.Discard()

	rec, err := tx.Peek(caller)
	if err != nil {
		return nil, err
	}

	owed := new(uint256.Int)
	if rec != nil {
		if err := checkDelay(rec, now, snap); err != nil {
			return nil, err
		}
		if owed, err = accrued(rec, now, snap); err != nil {
			return nil, err
		}
		if _, overflow := new(uint256.Int).AddOverflow(rec.Principal, amount); overflow {
			return nil, fmt.Errorf("top up: %w", ledger.ErrOverflow)
		}
	}

	if err := e.stakeAsset.TransferIn(caller, amount); err != nil {
		return nil, fmt.Errorf("%w: pull stake: %w", ErrTransferFailed, err)
	}

	if rec == nil {
		if err := tx.Open(caller, amount, now); err != nil {
			if errors.Is(err, ledger.ErrDuplicateStake) {
				logger.Error().Err(err).Msg("Stake record opened twice")
				err = fmt.Errorf("%w: %w", ErrDuplicateStakeOpen, err)
			}
			return nil, e.revertIn(e.stakeAsset, "stake", caller, amount, err)
		}
	} else {
		if !owed.IsZero() {
			if err := e.rewardAsset.TransferOut(caller, owed); err != nil {
				return nil, e.revertIn(e.stakeAsset, "stake", caller, amount, fmt.Errorf("%w: pay reward: %w", ErrTransferFailed, err))
			}
		}
		err := tx.Settle(caller, owed, now)
		if err == nil {
			err = tx.TopUp(caller, amount, now)
		}
		if err != nil {
			err = e.revertOut(e.rewardAsset, "reward", caller, owed, err)
			return nil, e.revertIn(e.stakeAsset, "stake", caller, amount, err)
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error().Err(err).Msg("Stake commit failed after transfers")
		err = e.revertOut(e.rewardAsset, "reward", caller, owed, err)
		return nil, e.revertIn(e.stakeAsset, "stake", caller, amount, err)
	}

	after, _ := tx.Peek(caller)
	if rec == nil {
		metrics.AdjustStakers(1)
	}
	e.paid(owed)
	logger.Info().
		Str("amount", amount.Dec()).
		Str("principal", after.Principal.Dec()).
		Str("reward", owed.Dec()).
		Bool("top_up", rec != nil).
		Msg("Staked")

	return &Receipt{
		Op:            OpStake,
		Account:       caller,
		Time:          now,
		Reward:        owed,
		Principal:     after.Principal,
		Record:        after,
		ParamsVersion: snap.Version,
	}, nil
}

// Claim pays caller the reward accrued since its last claim.
func (e *Engine) Claim(caller types.Address) (r *Receipt, err error) {
	defer func() { e.record(OpClaim, err) }()

	unlock := e.locks.Lock(caller)
	defer unlock()

	now := e.clock.Now()
	snap := e.params.Current()
	logger := log.WithAccount(e.logger, caller.String())

	tx := e.ledger.Begin()
	defer tx.Discard()

	rec, err := tx.Peek(caller)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoExistingStake
	}
	if err := checkDelay(rec, now, snap); err != nil {
		return nil, err
	}
	owed, err := accrued(rec, now, snap)
	if err != nil {
		return nil, err
	}

	if owed.IsZero() && e.zeroPolicy == KeepOnZero {
		logger.Debug().Msg("Zero reward claim left record unchanged")
		return &Receipt{Op: OpClaim, Account: caller, Time: now, Reward: owed,
			Principal: rec.Principal, Record: rec, ParamsVersion: snap.Version}, nil
	}

	if !owed.IsZero() {
		if err := e.rewardAsset.TransferOut(caller, owed); err != nil {
			return nil, fmt.Errorf("%w: pay reward: %w", ErrTransferFailed, err)
		}
	}
	if err := tx.Settle(caller, owed, now); err != nil {
		return nil, e.revertOut(e.rewardAsset, "reward", caller, owed, err)
	}
	if err := tx.Commit(); err != nil {
		logger.Error().Err(err).Str("reward", owed.Dec()).Msg("Claim commit failed after payout")
		return nil, e.revertOut(e.rewardAsset, "reward", caller, owed, err)
	}

	after, _ := tx.Peek(caller)
	e.paid(owed)
	logger.Info().
		Str("reward", owed.Dec()).
		Str("claimed_total", after.ClaimedAmount.Dec()).
		Msg("Claimed")

	return &Receipt{
		Op:            OpClaim,
		Account:       caller,
		Time:          now,
		Reward:        owed,
		Principal:     after.Principal,
		Record:        after,
		ParamsVersion: snap.Version,
	}, nil
}

// Unstake pays caller's pending reward, returns its full principal and
// deletes its record.
//
// The reward is paid before the principal. If either transfer fails, the
// transfers already made are taken back and the record is left as it was.
func (e *Engine) Unstake(caller types.Address) (r *Receipt, err error) {
	defer func() { e.record(OpUnstake, err) }()

	unlock := e.locks.Lock(caller)
	defer unlock()

	now := e.clock.Now()
	snap := e.params.Current()
	logger := log.WithAccount(e.logger, caller.String())

	tx := e.ledger.Begin()
	defer tx.Discard()

	rec, err := tx.Peek(caller)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoExistingStake
	}
	if err := checkDelay(rec, now, snap); err != nil {
		return nil, err
	}
	owed, err := accrued(rec, now, snap)
	if err != nil {
		return nil, err
	}

	if !owed.IsZero() {
		if err := e.rewardAsset.TransferOut(caller, owed); err != nil {
			return nil, fmt.Errorf("%w: pay reward: %w", ErrTransferFailed, err)
		}
	}
	if err := e.stakeAsset.TransferOut(caller, rec.Principal); err != nil {
		err = fmt.Errorf("%w: return principal: %w", ErrTransferFailed, err)
		return nil, e.revertOut(e.rewardAsset, "reward", caller, owed, err)
	}

	var final *ledger.Record
	err = tx.Settle(caller, owed, now)
	if err == nil {
		final, err = tx.Close(caller)
	}
	if err == nil {
		err = tx.Commit()
		if err != nil {
			logger.Error().Err(err).Msg("Unstake commit failed after transfers")
		}
	}
	if err != nil {
		err = e.revertOut(e.stakeAsset, "principal", caller, rec.Principal, err)
		return nil, e.revertOut(e.rewardAsset, "reward", caller, owed, err)
	}

	metrics.AdjustStakers(-1)
	e.paid(owed)
	logger.Info().
		Str("principal", rec.Principal.Dec()).
		Str("reward", owed.Dec()).
		Str("claimed_total", final.ClaimedAmount.Dec()).
		Msg("Unstaked")

	return &Receipt{
		Op:            OpUnstake,
		Account:       caller,
		Time:          now,
		Reward:        owed,
		Principal:     rec.Principal,
		ParamsVersion: snap.Version,
	}, nil
}

// UpdateParameters replaces the pool parameters. Only the administrator
// may call it; the new values affect accrual from now on.
func (e *Engine) UpdateParameters(caller types.Address, p params.Parameters) (snap *params.Snapshot, err error) {
	defer func() { e.record(OpUpdate, err) }()
	snap, err = e.params.Update(caller, p, e.clock.Now())
	if err != nil {
		return nil, err
	}
	metrics.SetParamsVersion(snap.Version)
	return snap, nil
}

// Record returns caller's stake record, or nil when it has none.
func (e *Engine) Record(addr types.Address) (*ledger.Record, error) {
	return e.ledger.Peek(addr)
}

// Parameters returns the active parameter snapshot.
func (e *Engine) Parameters() *params.Snapshot {
	return e.params.Current()
}

// TotalRewardsClaimed returns the sum of all rewards paid by the pool.
func (e *Engine) TotalRewardsClaimed() *uint256.Int {
	return e.ledger.TotalRewardsClaimed()
}

// Stats returns ledger totals.
func (e *Engine) Stats() (ledger.Stats, error) {
	return e.ledger.Stats()
}

// List returns a page of stake records.
func (e *Engine) List(offset, limit int) ([]ledger.Entry, error) {
	return e.ledger.List(offset, limit)
}

// ListAfter returns up to limit stake records ordered after the given
// account, or from the first record when after is nil.
func (e *Engine) ListAfter(after *types.Address, limit int) ([]ledger.Entry, error) {
	return e.ledger.ListAfter(after, limit)
}

// Stakers returns the number of open stakes.
func (e *Engine) Stakers() int {
	return e.ledger.Stakers()
}

// Now returns the engine clock reading.
func (e *Engine) Now() uint64 {
	return e.clock.Now()
}

// PendingReward reports what addr would receive if it claimed now.
func (e *Engine) PendingReward(addr types.Address) (*Pending, error) {
	rec, err := e.ledger.Peek(addr)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoExistingStake
	}
	now := e.clock.Now()
	snap := e.params.Current()
	owed, err := accrued(rec, now, snap)
	if err != nil {
		return nil, err
	}
	at := rec.LastClaimTime + snap.ClaimDelay
	if at < rec.LastClaimTime {
		at = ^uint64(0)
	}
	return &Pending{
		Reward:      owed,
		Claimable:   now >= at,
		ClaimableAt: at,
		Multiplier:  reward.Multiplier(since(now, rec.StakeTime), snap.Schedule()),
	}, nil
}

// since returns now - then, or 0 if the clock reads earlier than then.
func since(now, then uint64) uint64 {
	if now < then {
		return 0
	}
	return now - then
}

func checkDelay(rec *ledger.Record, now uint64, snap *params.Snapshot) error {
	if elapsed := since(now, rec.LastClaimTime); elapsed < snap.ClaimDelay {
		return fmt.Errorf("%w: %d of %d seconds elapsed", ErrClaimTooEarly, elapsed, snap.ClaimDelay)
	}
	return nil
}

func accrued(rec *ledger.Record, now uint64, snap *params.Snapshot) (*uint256.Int, error) {
	return reward.Reward(rec.Principal, since(now, rec.LastClaimTime), since(now, rec.StakeTime), snap.Schedule())
}

// revertIn gives back amount pulled from caller earlier in a failed
// operation and returns cause, joined with any error from the refund.
func (e *Engine) revertIn(asset Transfer, what string, caller types.Address, amount *uint256.Int, cause error) error {
	if err := asset.RevertIn(caller, amount); err != nil {
		e.logger.Error().Err(err).Str("account", caller.String()).Str(what, amount.Dec()).Msg("Refund failed")
		return errors.Join(cause, fmt.Errorf("%w: refund %s: %w", ErrTransferFailed, what, err))
	}
	return cause
}

// revertOut takes back amount paid to caller earlier in a failed operation.
func (e *Engine) revertOut(asset Transfer, what string, caller types.Address, amount *uint256.Int, cause error) error {
	if amount.IsZero() {
		return cause
	}
	if err := asset.RevertOut(caller, amount); err != nil {
		e.logger.Error().Err(err).Str("account", caller.String()).Str(what, amount.Dec()).Msg("Taking back payout failed")
		return errors.Join(cause, fmt.Errorf("%w: take back %s: %w", ErrTransferFailed, what, err))
	}
	return cause
}

func (e *Engine) paid(amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount.ToBig()), new(big.Float).SetInt(e.rewardUnit.ToBig())).Float64()
	metrics.RewardPaid(f)
}

func (e *Engine) record(op string, err error) {
	metrics.Operation(op, resultLabel(err))
	if err != nil {
		e.logger.Debug().Err(err).Str("op", op).Msg("Operation rejected")
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrNoExistingStake):
		return "no_stake"
	case errors.Is(err, ErrClaimTooEarly):
		return "claim_too_early"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	default:
		return "error"
	}
}
