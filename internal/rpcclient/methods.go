package rpcclient

import (
	"github.com/Klingon-tech/klingnet-staking/internal/params"
	"github.com/Klingon-tech/klingnet-staking/internal/rpc"
	"github.com/Klingon-tech/klingnet-staking/pkg/crypto"
)

// NodeInfo calls node_getInfo.
func (c *Client) NodeInfo() (*rpc.NodeInfoResult, error) {
	var out rpc.NodeInfoResult
	return &out, c.Call("node_getInfo", nil, &out)
}

// Nonce calls account_getNonce and returns the last used nonce.
func (c *Client) Nonce(address string) (uint64, error) {
	var out rpc.NonceResult
	if err := c.Call("account_getNonce", rpc.AddressParam{Address: address}, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// GetStake calls staking_getStake.
func (c *Client) GetStake(address string) (*rpc.StakeResult, error) {
	var out rpc.StakeResult
	return &out, c.Call("staking_getStake", rpc.AddressParam{Address: address}, &out)
}

// PendingReward calls staking_pendingReward.
func (c *Client) PendingReward(address string) (*rpc.PendingResult, error) {
	var out rpc.PendingResult
	return &out, c.Call("staking_pendingReward", rpc.AddressParam{Address: address}, &out)
}

// ListStakes calls staking_listStakes.
func (c *Client) ListStakes(offset, limit int) (*rpc.ListStakesResult, error) {
	var out rpc.ListStakesResult
	return &out, c.Call("staking_listStakes", rpc.ListParam{Offset: offset, Limit: limit}, &out)
}

// ListStakesAfter calls staking_listStakes with a cursor from a previous
// page's Next.
func (c *Client) ListStakesAfter(after string, limit int) (*rpc.ListStakesResult, error) {
	var out rpc.ListStakesResult
	return &out, c.Call("staking_listStakes", rpc.ListParam{After: after, Limit: limit}, &out)
}

// Parameters calls staking_getParameters.
func (c *Client) Parameters() (*rpc.ParametersResult, error) {
	var out rpc.ParametersResult
	return &out, c.Call("staking_getParameters", nil, &out)
}

// Accounting calls staking_getAccounting.
func (c *Client) Accounting() (*rpc.AccountingResult, error) {
	var out rpc.AccountingResult
	return &out, c.Call("staking_getAccounting", nil, &out)
}

// TokenInfo calls token_getInfo for "stake" or "reward".
func (c *Client) TokenInfo(tok string) (*rpc.TokenInfoResult, error) {
	var out rpc.TokenInfoResult
	return &out, c.Call("token_getInfo", rpc.TokenParam{Token: tok}, &out)
}

// Balance calls token_getBalance.
func (c *Client) Balance(tok, address string) (*rpc.TokenAmountResult, error) {
	var out rpc.TokenAmountResult
	return &out, c.Call("token_getBalance", rpc.TokenBalanceParam{Token: tok, Address: address}, &out)
}

// Allowance calls token_getAllowance. An empty spender means the pool custody.
func (c *Client) Allowance(tok, owner, spender string) (*rpc.TokenAmountResult, error) {
	var out rpc.TokenAmountResult
	return &out, c.Call("token_getAllowance", rpc.TokenAllowanceParam{Token: tok, Owner: owner, Spender: spender}, &out)
}

// Stake calls staking_stake with a base-unit amount.
func (c *Client) Stake(key *crypto.PrivateKey, amount string) (*rpc.ReceiptResult, error) {
	var out rpc.ReceiptResult
	return &out, c.CallSigned("staking_stake", rpc.AmountParam{Amount: amount}, key, &out)
}

// Claim calls staking_claim.
func (c *Client) Claim(key *crypto.PrivateKey) (*rpc.ReceiptResult, error) {
	var out rpc.ReceiptResult
	return &out, c.CallSigned("staking_claim", struct{}{}, key, &out)
}

// Unstake calls staking_unstake.
func (c *Client) Unstake(key *crypto.PrivateKey) (*rpc.ReceiptResult, error) {
	var out rpc.ReceiptResult
	return &out, c.CallSigned("staking_unstake", struct{}{}, key, &out)
}

// Approve calls token_approve. An empty spender means the pool custody.
func (c *Client) Approve(key *crypto.PrivateKey, tok, spender, amount string) (*rpc.TokenTxResult, error) {
	var out rpc.TokenTxResult
	return &out, c.CallSigned("token_approve", rpc.TokenApproveParam{Token: tok, Spender: spender, Amount: amount}, key, &out)
}

// Transfer calls token_transfer.
func (c *Client) Transfer(key *crypto.PrivateKey, tok, to, amount string) (*rpc.TokenTxResult, error) {
	var out rpc.TokenTxResult
	return &out, c.CallSigned("token_transfer", rpc.TokenTransferParam{Token: tok, To: to, Amount: amount}, key, &out)
}

// UpdateParameters calls admin_updateParameters.
func (c *Client) UpdateParameters(key *crypto.PrivateKey, p params.Parameters) (*rpc.ParametersResult, error) {
	var out rpc.ParametersResult
	return &out, c.CallSigned("admin_updateParameters", rpc.UpdateParametersParam{Parameters: p}, key, &out)
}
