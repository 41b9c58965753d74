package rpc

import (
	"encoding/json"

	"github.com/Klingon-tech/klingnet-staking/internal/ledger"
	"github.com/Klingon-tech/klingnet-staking/internal/params"
	"github.com/Klingon-tech/klingnet-staking/internal/staking"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Staking error codes.
const (
	CodeInvalidAmount     = -32010
	CodeNoStake           = -32011
	CodeClaimTooEarly     = -32012
	CodeTransferFailed    = -32013
	CodeUnauthorized      = -32014
	CodeBadAuth           = -32015
	CodeInvalidParameters = -32016
)

// Request is a JSON-RPC 2.0 request. Mutating methods carry Auth.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Auth    *Auth           `json:"auth,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Auth authenticates a mutating request.
type Auth struct {
	PubKey    string `json:"pubkey"`    // Compressed secp256k1 public key, hex.
	Nonce     uint64 `json:"nonce"`     // Must be the account's current nonce + 1.
	Signature string `json:"signature"` // Schnorr signature over SigningDigest, hex.
}

// Token selectors.
const (
	TokenStake  = "stake"
	TokenReward = "reward"
)

// ── Param types ─────────────────────────────────────────────────────────

// AddressParam is used by endpoints that take a single address.
type AddressParam struct {
	Address string `json:"address"`
}

// AmountParam is used by staking_stake. Amount is in base units.
type AmountParam struct {
	Amount string `json:"amount"`
}

// ListParam is used by staking_listStakes. After, when set, continues
// from a previous page's Next and cannot be combined with Offset.
type ListParam struct {
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
	After  string `json:"after,omitempty"`
}

// UpdateParametersParam is used by admin_updateParameters.
type UpdateParametersParam struct {
	Parameters params.Parameters `json:"parameters"`
}

// TokenParam selects one of the pool tokens.
type TokenParam struct {
	Token string `json:"token"`
}

// TokenBalanceParam is used by token_getBalance.
type TokenBalanceParam struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

// TokenAllowanceParam is used by token_getAllowance. An empty spender means
// the token's pool custody account.
type TokenAllowanceParam struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
}

// TokenApproveParam is used by token_approve. An empty spender means the
// token's pool custody account.
type TokenApproveParam struct {
	Token   string `json:"token"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

// TokenTransferParam is used by token_transfer.
type TokenTransferParam struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// ── Result types ────────────────────────────────────────────────────────

// StakeResult describes an account's stake record.
type StakeResult struct {
	Address       string `json:"address"`
	Staked        bool   `json:"staked"`
	Principal     string `json:"principal"`
	StakeTime     uint64 `json:"stake_time"`
	LastClaimTime uint64 `json:"last_claim_time"`
	ClaimedAmount string `json:"claimed_amount"`
}

// NewStakeResult converts a ledger record. A nil record reports Staked=false.
func NewStakeResult(addr string, rec *ledger.Record) *StakeResult {
	if rec == nil {
		return &StakeResult{Address: addr, Principal: "0", ClaimedAmount: "0"}
	}
	return &StakeResult{
		Address:       addr,
		Staked:        true,
		Principal:     rec.Principal.Dec(),
		StakeTime:     rec.StakeTime,
		LastClaimTime: rec.LastClaimTime,
		ClaimedAmount: rec.ClaimedAmount.Dec(),
	}
}

// ReceiptResult is returned by staking_stake, staking_claim and staking_unstake.
type ReceiptResult struct {
	Op            string       `json:"op"`
	Address       string       `json:"address"`
	Time          uint64       `json:"time"`
	Reward        string       `json:"reward"`
	Principal     string       `json:"principal"`
	Stake         *StakeResult `json:"stake"`
	ParamsVersion uint64       `json:"params_version"`
}

// NewReceiptResult converts an engine receipt.
func NewReceiptResult(r *staking.Receipt) *ReceiptResult {
	addr := r.Account.String()
	return &ReceiptResult{
		Op:            r.Op,
		Address:       addr,
		Time:          r.Time,
		Reward:        r.Reward.Dec(),
		Principal:     r.Principal.Dec(),
		Stake:         NewStakeResult(addr, r.Record),
		ParamsVersion: r.ParamsVersion,
	}
}

// PendingResult is returned by staking_pendingReward.
type PendingResult struct {
	Address     string `json:"address"`
	Reward      string `json:"reward"`
	Claimable   bool   `json:"claimable"`
	ClaimableAt uint64 `json:"claimable_at"`
	Multiplier  string `json:"multiplier"` // Fixed point, 1e18 = 1x.
	Now         uint64 `json:"now"`
}

// ListStakesResult is returned by staking_listStakes.
type ListStakesResult struct {
	Stakes []*StakeResult `json:"stakes"`
	Total  int            `json:"total"`
	Next   string         `json:"next,omitempty"` // Cursor for the following page; empty on the last one.
}

// ParametersResult is returned by staking_getParameters and admin_updateParameters.
type ParametersResult struct {
	params.Parameters
	Version   uint64 `json:"version"`
	UpdatedAt uint64 `json:"updated_at"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// NewParametersResult converts a parameter snapshot.
func NewParametersResult(s *params.Snapshot) *ParametersResult {
	r := &ParametersResult{
		Parameters: s.Parameters,
		Version:    s.Version,
		UpdatedAt:  s.UpdatedAt,
	}
	if !s.UpdatedBy.IsZero() {
		r.UpdatedBy = s.UpdatedBy.String()
	}
	return r
}

// AccountingResult is returned by staking_getAccounting.
type AccountingResult struct {
	TotalRewardsClaimed string `json:"total_rewards_claimed"`
	Stakers             int    `json:"stakers"`
	TotalPrincipal      string `json:"total_principal"`
	StakeCustody        string `json:"stake_custody"`
	RewardCustody       string `json:"reward_custody"`
}

// TokenInfoResult is returned by token_getInfo.
type TokenInfoResult struct {
	Token       string `json:"token"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
	Custody     string `json:"custody"`
}

// TokenAmountResult is returned by token balance and allowance queries.
type TokenAmountResult struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
}

// TokenTxResult is returned by token_approve and token_transfer.
type TokenTxResult struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// NonceResult is returned by account_getNonce.
type NonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// NodeInfoResult is returned by node_getInfo.
type NodeInfoResult struct {
	Version          string `json:"version"`
	Network          string `json:"network"`
	Pool             string `json:"pool"`
	PoolHash         string `json:"pool_hash"`
	Admin            string `json:"admin"`
	ZeroRewardPolicy string `json:"zero_reward_policy"`
	Time             uint64 `json:"time"`
	Uptime           uint64 `json:"uptime"`
}
