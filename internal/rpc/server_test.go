package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/Klingon-tech/klingnet-staking/config"
	"github.com/Klingon-tech/klingnet-staking/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/internal/params"
	"github.com/Klingon-tech/klingnet-staking/internal/staking"
	"github.com/Klingon-tech/klingnet-staking/internal/storage"
	"github.com/Klingon-tech/klingnet-staking/internal/token"
	"github.com/Klingon-tech/klingnet-staking/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

var (
	testPool     = crypto.Hash([]byte("rpc test pool"))
	stakeHolder  = types.Address{0x51}
	rewardHolder = types.Address{0x52}

	testParams = params.Parameters{
		AnnualRateBps:     2000,
		ClaimDelay:        864_000,
		MaxLockingPeriod:  31_540_000,
		MaxLockMultiplier: 5,
	}
)

func tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), types.Unit(18))
}

// testEnv holds all components for an RPC test.
type testEnv struct {
	server      *Server
	clock       *staking.ManualClock
	stakeToken  *token.Token
	rewardToken *token.Token
	nonces      *NonceStore
	adminKey    *crypto.PrivateKey
	aliceKey    *crypto.PrivateKey
	alice       types.Address
	url         string
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithConfig(t, config.RPCConfig{})
}

func setupTestEnvWithConfig(t *testing.T, rpcCfg config.RPCConfig) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	adminKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	aliceKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	alice := aliceKey.Address()

	db := storage.NewMemory()
	stakeToken, err := token.Open(storage.NewPrefixDB(db, []byte("t/stk/")),
		token.Metadata{Name: "StakingToken", Symbol: "STK", Decimals: 18})
	if err != nil {
		t.Fatalf("open stake token: %v", err)
	}
	rewardToken, err := token.Open(storage.NewPrefixDB(db, []byte("t/rwd/")),
		token.Metadata{Name: "RewardToken", Symbol: "RWD", Decimals: 18})
	if err != nil {
		t.Fatalf("open reward token: %v", err)
	}
	if err := stakeToken.Mint(alice, tokens(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := rewardToken.Mint(rewardHolder, tokens(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	l, err := ledger.New(storage.NewPrefixDB(db, []byte("l/")))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	ps, err := params.NewStore(storage.NewPrefixDB(db, []byte("p/")),
		params.StaticAdmin(adminKey.Address()), testParams)
	if err != nil {
		t.Fatalf("open params: %v", err)
	}

	clock := staking.NewManualClock(1_000)
	stake := &token.Custody{Token: stakeToken, Holder: stakeHolder}
	rwd := &token.Custody{Token: rewardToken, Holder: rewardHolder}
	engine := staking.New(l, ps, clock, stake, rwd)
	nonces := NewNonceStore(storage.NewPrefixDB(db, []byte("n/")))

	srv := New("127.0.0.1:0", Backend{
		Engine: engine,
		Stake:  stake,
		Reward: rwd,
		Nonces: nonces,
		Info: NodeInfo{
			Version:          "test",
			Network:          "testnet",
			Pool:             "RPC Test Pool",
			PoolHash:         testPool,
			Admin:            adminKey.Address().String(),
			ZeroRewardPolicy: staking.ResetOnZero.String(),
		},
	}, rpcCfg)
	srv.HandleMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "staking_stakers 0\n")
	}))
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })

	return &testEnv{
		server:      srv,
		clock:       clock,
		stakeToken:  stakeToken,
		rewardToken: rewardToken,
		nonces:      nonces,
		adminKey:    adminKey,
		aliceKey:    aliceKey,
		alice:       alice,
		url:         fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

func post(t *testing.T, url string, req Request) Response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", req.Method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

func rawParams(t *testing.T, params interface{}) json.RawMessage {
	t.Helper()
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	return post(t, url, Request{JSONRPC: "2.0", Method: method, Params: rawParams(t, params), ID: 1})
}

// signedCall signs with the next nonce for key's address.
func (env *testEnv) signedCall(t *testing.T, key *crypto.PrivateKey, method string, params interface{}) Response {
	t.Helper()
	last, err := env.nonces.Get(key.Address())
	if err != nil {
		t.Fatalf("get nonce: %v", err)
	}
	req := Request{JSONRPC: "2.0", Method: method, Params: rawParams(t, params), ID: 1}
	if err := SignRequest(&req, testPool, key, last+1); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return post(t, env.url, req)
}

func decodeResult(t *testing.T, resp Response, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
}

func wantCode(t *testing.T, resp Response, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error code %d, got success", code)
	}
	if resp.Error.Code != code {
		t.Fatalf("error code = %d (%s), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

// approveAndStake approves the stake custody and stakes n whole tokens for alice.
func (env *testEnv) approveAndStake(t *testing.T, n uint64) ReceiptResult {
	t.Helper()
	resp := env.signedCall(t, env.aliceKey, "token_approve", TokenApproveParam{
		Token: TokenStake, Amount: tokens(n).Dec(),
	})
	if resp.Error != nil {
		t.Fatalf("approve: %s", resp.Error.Message)
	}
	var r ReceiptResult
	decodeResult(t, env.signedCall(t, env.aliceKey, "staking_stake", AmountParam{Amount: tokens(n).Dec()}), &r)
	return r
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestRPC_NodeGetInfo(t *testing.T) {
	env := setupTestEnv(t)

	var info NodeInfoResult
	decodeResult(t, rpcCall(t, env.url, "node_getInfo", nil), &info)
	if info.Network != "testnet" || info.Pool != "RPC Test Pool" {
		t.Errorf("info = %+v", info)
	}
	if info.Time != 1_000 {
		t.Errorf("time = %d, want 1000", info.Time)
	}
	if info.ZeroRewardPolicy != "reset" {
		t.Errorf("zero_reward_policy = %q, want reset", info.ZeroRewardPolicy)
	}
	if info.PoolHash != testPool.String() {
		t.Errorf("pool_hash = %s, want %s", info.PoolHash, testPool)
	}
}

func TestServer_ErrReportsServeFailure(t *testing.T) {
	env := setupTestEnv(t)

	// Closing the listener under the server ends Serve with an error.
	env.server.ln.Close()
	select {
	case err := <-env.server.Err():
		if err == nil {
			t.Fatal("Err delivered nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve failure was not reported")
	}
}

func TestServer_ErrQuietAfterStop(t *testing.T) {
	env := setupTestEnv(t)
	if err := env.server.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-env.server.Err():
		t.Fatalf("unexpected error after Stop: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRPC_StakeClaimUnstakeFlow(t *testing.T) {
	env := setupTestEnv(t)

	r := env.approveAndStake(t, 100)
	if r.Op != staking.OpStake || r.Principal != tokens(100).Dec() || r.Reward != "0" {
		t.Fatalf("stake receipt = %+v", r)
	}

	var st StakeResult
	decodeResult(t, rpcCall(t, env.url, "staking_getStake", AddressParam{Address: env.alice.String()}), &st)
	if !st.Staked || st.StakeTime != 1_000 || st.LastClaimTime != 1_000 {
		t.Fatalf("stake = %+v", st)
	}

	// Claim before the delay.
	wantCode(t, env.signedCall(t, env.aliceKey, "staking_claim", struct{}{}), CodeClaimTooEarly)

	env.clock.Advance(864_000)
	var pending PendingResult
	decodeResult(t, rpcCall(t, env.url, "staking_pendingReward", AddressParam{Address: env.alice.String()}), &pending)
	if pending.Reward != "607986379548475081" || !pending.Claimable {
		t.Fatalf("pending = %+v", pending)
	}

	var claim ReceiptResult
	decodeResult(t, env.signedCall(t, env.aliceKey, "staking_claim", struct{}{}), &claim)
	if claim.Reward != "607986379548475081" {
		t.Fatalf("claim reward = %s, want 607986379548475081", claim.Reward)
	}
	bal, _ := env.rewardToken.BalanceOf(env.alice)
	if bal.Dec() != "607986379548475081" {
		t.Fatalf("alice reward balance = %s", bal.Dec())
	}

	// Unstake is gated by the same delay.
	wantCode(t, env.signedCall(t, env.aliceKey, "staking_unstake", struct{}{}), CodeClaimTooEarly)
	env.clock.Advance(864_000)

	var out ReceiptResult
	decodeResult(t, env.signedCall(t, env.aliceKey, "staking_unstake", struct{}{}), &out)
	if out.Principal != tokens(100).Dec() || out.Stake.Staked {
		t.Fatalf("unstake receipt = %+v", out)
	}
	stakeBal, _ := env.stakeToken.BalanceOf(env.alice)
	if !stakeBal.Eq(tokens(1000)) {
		t.Fatalf("alice stake balance = %s, want all returned", stakeBal.Dec())
	}

	decodeResult(t, rpcCall(t, env.url, "staking_getStake", AddressParam{Address: env.alice.String()}), &st)
	if st.Staked {
		t.Fatal("record should be gone after unstake")
	}

	var acct AccountingResult
	decodeResult(t, rpcCall(t, env.url, "staking_getAccounting", nil), &acct)
	if acct.Stakers != 0 || acct.TotalPrincipal != "0" || acct.StakeCustody != "0" {
		t.Fatalf("accounting = %+v", acct)
	}
	if acct.TotalRewardsClaimed == "0" {
		t.Fatal("total rewards claimed should be positive")
	}
}

func TestRPC_StakeErrors(t *testing.T) {
	env := setupTestEnv(t)

	// No allowance yet.
	wantCode(t, env.signedCall(t, env.aliceKey, "staking_stake", AmountParam{Amount: "1"}), CodeTransferFailed)
	wantCode(t, env.signedCall(t, env.aliceKey, "staking_stake", AmountParam{Amount: "0"}), CodeInvalidAmount)
	wantCode(t, env.signedCall(t, env.aliceKey, "staking_stake", AmountParam{Amount: "-5"}), CodeInvalidAmount)
	wantCode(t, env.signedCall(t, env.aliceKey, "staking_claim", struct{}{}), CodeNoStake)
	wantCode(t, rpcCall(t, env.url, "staking_pendingReward", AddressParam{Address: env.alice.String()}), CodeNoStake)
}

func TestRPC_Auth(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("missing", func(t *testing.T) {
		wantCode(t, rpcCall(t, env.url, "staking_claim", struct{}{}), CodeBadAuth)
	})

	t.Run("replayed nonce", func(t *testing.T) {
		req := Request{JSONRPC: "2.0", Method: "token_approve", ID: 1,
			Params: rawParams(t, TokenApproveParam{Token: TokenStake, Amount: "1"})}
		if err := SignRequest(&req, testPool, env.aliceKey, 1); err != nil {
			t.Fatal(err)
		}
		if resp := post(t, env.url, req); resp.Error != nil {
			t.Fatalf("first use: %s", resp.Error.Message)
		}
		wantCode(t, post(t, env.url, req), CodeBadAuth)
	})

	t.Run("tampered params", func(t *testing.T) {
		req := Request{JSONRPC: "2.0", Method: "token_approve", ID: 1,
			Params: rawParams(t, TokenApproveParam{Token: TokenStake, Amount: "1"})}
		if err := SignRequest(&req, testPool, env.aliceKey, 2); err != nil {
			t.Fatal(err)
		}
		req.Params = rawParams(t, TokenApproveParam{Token: TokenStake, Amount: "1000"})
		wantCode(t, post(t, env.url, req), CodeBadAuth)
	})

	t.Run("other pool", func(t *testing.T) {
		req := Request{JSONRPC: "2.0", Method: "staking_claim", ID: 1, Params: rawParams(t, struct{}{})}
		if err := SignRequest(&req, crypto.Hash([]byte("another pool")), env.aliceKey, 2); err != nil {
			t.Fatal(err)
		}
		wantCode(t, post(t, env.url, req), CodeBadAuth)
	})

	t.Run("method swapped", func(t *testing.T) {
		req := Request{JSONRPC: "2.0", Method: "staking_claim", ID: 1, Params: rawParams(t, struct{}{})}
		if err := SignRequest(&req, testPool, env.aliceKey, 2); err != nil {
			t.Fatal(err)
		}
		req.Method = "staking_unstake"
		wantCode(t, post(t, env.url, req), CodeBadAuth)
	})

	var n NonceResult
	decodeResult(t, rpcCall(t, env.url, "account_getNonce", AddressParam{Address: env.alice.String()}), &n)
	if n.Nonce != 1 {
		t.Fatalf("nonce = %d, want 1 (rejected requests must not consume nonces)", n.Nonce)
	}
}

func TestSigningDigest_CompactsParams(t *testing.T) {
	a, err := SigningDigest(testPool, "m", []byte(`{"a": 1,  "b": "x"}`), 7)
	if err != nil {
		t.Fatal(err)
	}
	b, err := SigningDigest(testPool, "m", []byte(`{"a":1,"b":"x"}`), 7)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("digest should ignore insignificant whitespace")
	}
	c, _ := SigningDigest(testPool, "m", []byte(`{"a":1,"b":"x"}`), 8)
	if a == c {
		t.Fatal("digest must bind the nonce")
	}
	d, _ := SigningDigest(types.Hash{0x01}, "m", []byte(`{"a":1,"b":"x"}`), 7)
	if a == d {
		t.Fatal("digest must bind the pool")
	}
}

func TestRPC_AdminUpdateParameters(t *testing.T) {
	env := setupTestEnv(t)

	update := testParams
	update.AnnualRateBps = 1000

	wantCode(t, env.signedCall(t, env.aliceKey, "admin_updateParameters",
		UpdateParametersParam{Parameters: update}), CodeUnauthorized)

	bad := update
	bad.MaxLockingPeriod = 0
	wantCode(t, env.signedCall(t, env.adminKey, "admin_updateParameters",
		UpdateParametersParam{Parameters: bad}), CodeInvalidParameters)

	var res ParametersResult
	decodeResult(t, env.signedCall(t, env.adminKey, "admin_updateParameters",
		UpdateParametersParam{Parameters: update}), &res)
	if res.AnnualRateBps != 1000 || res.Version != 2 {
		t.Fatalf("update result = %+v", res)
	}
	if res.UpdatedBy != env.adminKey.Address().String() {
		t.Errorf("updated_by = %q", res.UpdatedBy)
	}

	decodeResult(t, rpcCall(t, env.url, "staking_getParameters", nil), &res)
	if res.AnnualRateBps != 1000 {
		t.Fatalf("parameters after update = %+v", res)
	}
}

func TestRPC_Tokens(t *testing.T) {
	env := setupTestEnv(t)
	bob := types.Address{0xb0}

	var info TokenInfoResult
	decodeResult(t, rpcCall(t, env.url, "token_getInfo", TokenParam{Token: TokenReward}), &info)
	if info.Symbol != "RWD" || info.Decimals != 18 || info.Custody != rewardHolder.String() {
		t.Fatalf("token info = %+v", info)
	}
	if info.TotalSupply != tokens(100).Dec() {
		t.Fatalf("total supply = %s", info.TotalSupply)
	}

	var tx TokenTxResult
	decodeResult(t, env.signedCall(t, env.aliceKey, "token_transfer", TokenTransferParam{
		Token: TokenStake, To: bob.String(), Amount: tokens(5).Dec(),
	}), &tx)

	var bal TokenAmountResult
	decodeResult(t, rpcCall(t, env.url, "token_getBalance", TokenBalanceParam{Token: TokenStake, Address: bob.Hex()}), &bal)
	if bal.Formatted != "5" {
		t.Fatalf("bob balance = %+v, want 5", bal)
	}

	wantCode(t, env.signedCall(t, env.aliceKey, "token_transfer", TokenTransferParam{
		Token: TokenStake, To: bob.String(), Amount: tokens(10_000).Dec(),
	}), CodeTransferFailed)

	decodeResult(t, env.signedCall(t, env.aliceKey, "token_approve", TokenApproveParam{
		Token: TokenStake, Amount: tokens(3).Dec(),
	}), &tx)
	if tx.To != stakeHolder.String() {
		t.Fatalf("default spender = %s, want stake custody", tx.To)
	}
	decodeResult(t, rpcCall(t, env.url, "token_getAllowance", TokenAllowanceParam{
		Token: TokenStake, Owner: env.alice.String(),
	}), &bal)
	if bal.Amount != tokens(3).Dec() {
		t.Fatalf("allowance = %s", bal.Amount)
	}

	wantCode(t, rpcCall(t, env.url, "token_getInfo", TokenParam{Token: "gold"}), CodeInvalidParams)
}

func TestRPC_ListStakes(t *testing.T) {
	env := setupTestEnv(t)
	env.approveAndStake(t, 10)

	var list ListStakesResult
	decodeResult(t, rpcCall(t, env.url, "staking_listStakes", nil), &list)
	if list.Total != 1 || len(list.Stakes) != 1 || list.Stakes[0].Address != env.alice.String() {
		t.Fatalf("list = %+v", list)
	}

	decodeResult(t, rpcCall(t, env.url, "staking_listStakes", ListParam{Offset: 1}), &list)
	if len(list.Stakes) != 0 {
		t.Fatalf("offset 1 should be empty, got %d", len(list.Stakes))
	}
	wantCode(t, rpcCall(t, env.url, "staking_listStakes", ListParam{Offset: -1}), CodeInvalidParams)

	var full ListStakesResult
	decodeResult(t, rpcCall(t, env.url, "staking_listStakes", ListParam{Limit: 1}), &full)
	if full.Next != env.alice.String() {
		t.Fatalf("next = %q, want %s", full.Next, env.alice)
	}
	var rest ListStakesResult
	decodeResult(t, rpcCall(t, env.url, "staking_listStakes", ListParam{After: full.Next, Limit: 1}), &rest)
	if len(rest.Stakes) != 0 || rest.Next != "" || rest.Total != 1 {
		t.Fatalf("page after last = %+v", rest)
	}
	wantCode(t, rpcCall(t, env.url, "staking_listStakes", ListParam{After: full.Next, Offset: 1}), CodeInvalidParams)
	wantCode(t, rpcCall(t, env.url, "staking_listStakes", ListParam{After: "nope"}), CodeInvalidParams)
}

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)
	wantCode(t, rpcCall(t, env.url, "chain_getInfo", nil), CodeMethodNotFound)
}

func TestRPC_InvalidParams(t *testing.T) {
	env := setupTestEnv(t)
	wantCode(t, rpcCall(t, env.url, "staking_getStake", nil), CodeInvalidParams)
	wantCode(t, rpcCall(t, env.url, "staking_getStake", AddressParam{Address: "nope"}), CodeInvalidParams)
}

func TestRPC_InvalidJSON(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Post(env.url, "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	wantCode(t, rpcResp, CodeParseError)
}

func TestRPC_GetMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	wantCode(t, rpcResp, CodeInvalidRequest)
}

func TestRPC_Metrics(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(strings.TrimSuffix(env.url, "/") + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "staking_stakers") {
		t.Fatalf("metrics status %d body %q", resp.StatusCode, body)
	}
}

// --- IP Filtering ---

func TestRPC_IPFilter_Allowed(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"127.0.0.1"},
	})

	resp := rpcCall(t, env.url, "node_getInfo", nil)
	if resp.Error != nil {
		t.Errorf("expected success for 127.0.0.1, got error: %s", resp.Error.Message)
	}
}

func TestRPC_IPFilter_Blocked(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"10.0.0.0/8"}, // Only allow 10.x.x.x.
	})

	// Request comes from 127.0.0.1 → should be blocked.
	for _, path := range []string{"", "metrics"} {
		req := Request{JSONRPC: "2.0", Method: "node_getInfo", ID: 1}
		body, _ := json.Marshal(req)
		resp, err := http.Post(env.url+path, "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("/%s: expected 403, got %d", path, resp.StatusCode)
		}
	}
}

// --- CORS ---

func TestRPC_CORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "http://example.com", "*"},
		{"specific", []string{"http://a.test", "http://b.test"}, "http://b.test", "http://b.test"},
		{"not listed", []string{"http://a.test"}, "http://evil.test", ""},
		{"disabled", nil, "http://a.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnvWithConfig(t, config.RPCConfig{CORSOrigins: tt.origins})

			req, _ := http.NewRequest(http.MethodOptions, env.url, nil)
			req.Header.Set("Origin", tt.origin)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("preflight: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusNoContent {
				t.Errorf("status = %d, want 204", resp.StatusCode)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRPC_ConcurrentClaimsPayOnce(t *testing.T) {
	env := setupTestEnv(t)
	env.approveAndStake(t, 100)
	env.clock.Advance(864_000)

	// Sign two claims with consecutive nonces, then race them.
	reqs := make([]Request, 2)
	for i := range reqs {
		reqs[i] = Request{JSONRPC: "2.0", Method: "staking_claim", ID: i, Params: rawParams(t, struct{}{})}
		if err := SignRequest(&reqs[i], testPool, env.aliceKey, uint64(3+i)); err != nil {
			t.Fatal(err)
		}
	}

	results := make(chan Response, 2)
	for _, r := range reqs {
		go func(r Request) { results <- post(t, env.url, r) }(r)
	}

	ok := 0
	for i := 0; i < 2; i++ {
		select {
		case resp := <-results:
			if resp.Error == nil {
				ok++
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout")
		}
	}
	if ok != 1 {
		t.Fatalf("%d claims succeeded, want exactly 1", ok)
	}
}
