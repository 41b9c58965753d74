package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/Klingon-tech/klingnet-staking/internal/ledger"
	"github.com/Klingon-tech/klingnet-staking/internal/reward"
	"github.com/Klingon-tech/klingnet-staking/internal/staking"
	"github.com/Klingon-tech/klingnet-staking/internal/token"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

// Paging limits for staking_listStakes.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ── Staking endpoints ───────────────────────────────────────────────────

func (s *Server) handleStakingStake(req *Request) (interface{}, *Error) {
	var p AmountParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.authenticate(req)
	if rpcErr != nil {
		return nil, rpcErr
	}

	receipt, err := s.engine.Stake(caller, amount)
	if err != nil {
		return nil, engineError(err)
	}
	return NewReceiptResult(receipt), nil
}

func (s *Server) handleStakingClaim(req *Request) (interface{}, *Error) {
	caller, rpcErr := s.authenticate(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	receipt, err := s.engine.Claim(caller)
	if err != nil {
		return nil, engineError(err)
	}
	return NewReceiptResult(receipt), nil
}

func (s *Server) handleStakingUnstake(req *Request) (interface{}, *Error) {
	caller, rpcErr := s.authenticate(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	receipt, err := s.engine.Unstake(caller)
	if err != nil {
		return nil, engineError(err)
	}
	return NewReceiptResult(receipt), nil
}

func (s *Server) handleStakingGetStake(req *Request) (interface{}, *Error) {
	var p AddressParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	addr, rpcErr := decodeAddress(p.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	rec, err := s.engine.Record(addr)
	if err != nil {
		return nil, engineError(err)
	}
	return NewStakeResult(addr.String(), rec), nil
}

func (s *Server) handleStakingPendingReward(req *Request) (interface{}, *Error) {
	var p AddressParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	addr, rpcErr := decodeAddress(p.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pending, err := s.engine.PendingReward(addr)
	if err != nil {
		return nil, engineError(err)
	}
	return &PendingResult{
		Address:     addr.String(),
		Reward:      pending.Reward.Dec(),
		Claimable:   pending.Claimable,
		ClaimableAt: pending.ClaimableAt,
		Multiplier:  pending.Multiplier.Dec(),
		Now:         s.engine.Now(),
	}, nil
}

func (s *Server) handleStakingListStakes(req *Request) (interface{}, *Error) {
	var p ListParam
	if len(req.Params) > 0 {
		if err := parseParams(req, &p); err != nil {
			return nil, err
		}
	}
	if p.Offset < 0 || p.Limit < 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "offset and limit must not be negative"}
	}
	if p.Limit == 0 {
		p.Limit = defaultListLimit
	}
	if p.Limit > maxListLimit {
		p.Limit = maxListLimit
	}

	var (
		entries []ledger.Entry
		err     error
	)
	if p.After != "" {
		if p.Offset != 0 {
			return nil, &Error{Code: CodeInvalidParams, Message: "after and offset cannot be combined"}
		}
		after, perr := types.ParseAddress(p.After)
		if perr != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid after: %v", perr)}
		}
		entries, err = s.engine.ListAfter(&after, p.Limit)
	} else {
		entries, err = s.engine.List(p.Offset, p.Limit)
	}
	if err != nil {
		return nil, engineError(err)
	}

	out := &ListStakesResult{Stakes: make([]*StakeResult, 0, len(entries)), Total: s.engine.Stakers()}
	for _, e := range entries {
		out.Stakes = append(out.Stakes, NewStakeResult(e.Account.String(), e.Record))
	}
	if len(entries) == p.Limit {
		out.Next = entries[len(entries)-1].Account.String()
	}
	return out, nil
}

func (s *Server) handleStakingGetParameters(_ *Request) (interface{}, *Error) {
	return NewParametersResult(s.engine.Parameters()), nil
}

func (s *Server) handleStakingGetAccounting(_ *Request) (interface{}, *Error) {
	stats, err := s.engine.Stats()
	if err != nil {
		return nil, engineError(err)
	}
	stakeHeld, err := s.tokens[TokenStake].Balance()
	if err != nil {
		return nil, internalError("stake custody balance", err)
	}
	rewardHeld, err := s.tokens[TokenReward].Balance()
	if err != nil {
		return nil, internalError("reward custody balance", err)
	}
	return &AccountingResult{
		TotalRewardsClaimed: stats.TotalRewardsClaimed.Dec(),
		Stakers:             stats.Stakers,
		TotalPrincipal:      stats.TotalPrincipal.Dec(),
		StakeCustody:        stakeHeld.Dec(),
		RewardCustody:       rewardHeld.Dec(),
	}, nil
}

// ── Admin endpoints ─────────────────────────────────────────────────────

func (s *Server) handleAdminUpdateParameters(req *Request) (interface{}, *Error) {
	var p UpdateParametersParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	caller, rpcErr := s.authenticate(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	snap, err := s.engine.UpdateParameters(caller, p.Parameters)
	if err != nil {
		return nil, engineError(err)
	}
	return NewParametersResult(snap), nil
}

// ── Token endpoints ─────────────────────────────────────────────────────

func (s *Server) handleTokenGetInfo(req *Request) (interface{}, *Error) {
	var p TokenParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	c, rpcErr := s.resolveToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	supply, err := c.Token.TotalSupply()
	if err != nil {
		return nil, internalError("total supply", err)
	}
	meta := c.Token.Metadata()
	return &TokenInfoResult{
		Token:       p.Token,
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Decimals:    meta.Decimals,
		TotalSupply: supply.Dec(),
		Custody:     c.Holder.String(),
	}, nil
}

func (s *Server) handleTokenGetBalance(req *Request) (interface{}, *Error) {
	var p TokenBalanceParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	c, rpcErr := s.resolveToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := decodeAddress(p.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bal, err := c.Token.BalanceOf(addr)
	if err != nil {
		return nil, internalError("balance", err)
	}
	return tokenAmount(p.Token, c, bal), nil
}

func (s *Server) handleTokenGetAllowance(req *Request) (interface{}, *Error) {
	var p TokenAllowanceParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	c, rpcErr := s.resolveToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := decodeAddress(p.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender := c.Holder
	if p.Spender != "" {
		if spender, rpcErr = decodeAddress(p.Spender); rpcErr != nil {
			return nil, rpcErr
		}
	}
	allowance, err := c.Token.Allowance(owner, spender)
	if err != nil {
		return nil, internalError("allowance", err)
	}
	return tokenAmount(p.Token, c, allowance), nil
}

func (s *Server) handleTokenApprove(req *Request) (interface{}, *Error) {
	var p TokenApproveParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	c, rpcErr := s.resolveToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender := c.Holder
	if p.Spender != "" {
		if spender, rpcErr = decodeAddress(p.Spender); rpcErr != nil {
			return nil, rpcErr
		}
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.authenticate(req)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := c.Token.Approve(caller, spender, amount); err != nil {
		return nil, engineError(err)
	}
	s.logger.Info().Str("token", p.Token).Str("owner", caller.String()).
		Str("spender", spender.String()).Str("amount", amount.Dec()).Msg("Allowance set")
	return &TokenTxResult{Token: p.Token, From: caller.String(), To: spender.String(), Amount: amount.Dec()}, nil
}

func (s *Server) handleTokenTransfer(req *Request) (interface{}, *Error) {
	var p TokenTransferParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	c, rpcErr := s.resolveToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := decodeAddress(p.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.authenticate(req)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := c.Token.Transfer(caller, to, amount); err != nil {
		return nil, engineError(err)
	}
	s.logger.Info().Str("token", p.Token).Str("from", caller.String()).
		Str("to", to.String()).Str("amount", amount.Dec()).Msg("Token transfer")
	return &TokenTxResult{Token: p.Token, From: caller.String(), To: to.String(), Amount: amount.Dec()}, nil
}

// ── Account / node endpoints ────────────────────────────────────────────

func (s *Server) handleAccountGetNonce(req *Request) (interface{}, *Error) {
	var p AddressParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	addr, rpcErr := decodeAddress(p.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	n, err := s.nonces.Get(addr)
	if err != nil {
		return nil, internalError("nonce", err)
	}
	return &NonceResult{Address: addr.String(), Nonce: n}, nil
}

func (s *Server) handleNodeGetInfo(_ *Request) (interface{}, *Error) {
	return &NodeInfoResult{
		Version:          s.info.Version,
		Network:          s.info.Network,
		Pool:             s.info.Pool,
		PoolHash:         s.info.PoolHash.String(),
		Admin:            s.info.Admin,
		ZeroRewardPolicy: s.info.ZeroRewardPolicy,
		Time:             s.engine.Now(),
		Uptime:           uint64(time.Since(s.info.Started).Seconds()),
	}, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────

// decodeAddress parses a bech32 or hex address param.
func decodeAddress(s string) (types.Address, *Error) {
	if s == "" {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}
	addr, err := types.ParseAddress(s)
	if err != nil {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid address: %v", err)}
	}
	return addr, nil
}

// parseAmount parses a base-unit decimal amount.
func parseAmount(s string) (*uint256.Int, *Error) {
	if s == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "amount is required"}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, &Error{Code: CodeInvalidAmount, Message: fmt.Sprintf("invalid amount %q: %v", s, err)}
	}
	return v, nil
}

func (s *Server) resolveToken(name string) (*token.Custody, *Error) {
	c, ok := s.tokens[name]
	if !ok || c == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("token must be %q or %q", TokenStake, TokenReward)}
	}
	return c, nil
}

func tokenAmount(name string, c *token.Custody, v *uint256.Int) *TokenAmountResult {
	return &TokenAmountResult{
		Token:     name,
		Amount:    v.Dec(),
		Formatted: types.FormatAmount(v, c.Token.Metadata().Decimals),
	}
}

func internalError(what string, err error) *Error {
	return &Error{Code: CodeInternalError, Message: fmt.Sprintf("%s: %v", what, err)}
}

// engineError maps engine and token errors to JSON-RPC errors.
func engineError(err error) *Error {
	code := CodeInternalError
	switch {
	case errors.Is(err, staking.ErrInvalidAmount),
		errors.Is(err, reward.ErrOverflow),
		errors.Is(err, ledger.ErrOverflow),
		errors.Is(err, token.ErrSupplyOverflow):
		code = CodeInvalidAmount
	case errors.Is(err, staking.ErrNoExistingStake):
		code = CodeNoStake
	case errors.Is(err, staking.ErrClaimTooEarly):
		code = CodeClaimTooEarly
	case errors.Is(err, staking.ErrTransferFailed),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		code = CodeTransferFailed
	case errors.Is(err, staking.ErrUnauthorized):
		code = CodeUnauthorized
	case errors.Is(err, staking.ErrInvalidParameters):
		code = CodeInvalidParameters
	case errors.Is(err, token.ErrZeroAddress):
		code = CodeInvalidParams
	}
	return &Error{Code: code, Message: err.Error()}
}
