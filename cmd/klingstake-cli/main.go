// klingstake-cli is a command-line client for a klingstaked node.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-staking/config"
	klog "github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/internal/rpc"
	"github.com/Klingon-tech/klingnet-staking/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-staking/internal/wallet"
	"github.com/Klingon-tech/klingnet-staking/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// keystoreDir returns the keystore path matching klingstaked's layout:
// <datadir>/<network>/keystore
func keystoreDir(dataDir, network string) string {
	return filepath.Join(dataDir, network, "keystore")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := ""
	dataDir := config.DefaultDataDir()
	network := "mainnet"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--testnet":
			network = "testnet"
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	klog.SetLogger(klog.NewConsoleLogger(os.Stderr, "warn"))
	if network == "testnet" {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}
	if rpcURL == "" {
		rpcURL = fmt.Sprintf("http://127.0.0.1:%d", config.Default(config.NetworkType(network)).RPC.Port)
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	c := &cli{
		client: rpcclient.New(rpcURL),
		ksDir:  keystoreDir(dataDir, network),
	}
	cmd, cmdArgs := args[0], args[1:]

	switch cmd {
	case "status":
		c.status()
	case "wallet":
		c.wallet(cmdArgs)
	case "stake":
		c.stake(cmdArgs)
	case "claim":
		c.claim(cmdArgs)
	case "unstake":
		c.unstake(cmdArgs)
	case "approve":
		c.approve(cmdArgs)
	case "transfer":
		c.transfer(cmdArgs)
	case "balance":
		c.balance(cmdArgs)
	case "stake-info":
		c.stakeInfo(cmdArgs)
	case "stakes":
		c.stakes(cmdArgs)
	case "params":
		c.params()
	case "update-params":
		c.updateParams(cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingstake-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8555, testnet 8655)
  --datadir <path>    Data directory (default: ~/.klingstake)
  --network <net>     mainnet (default) or testnet
  --testnet           Shorthand for --network testnet

Commands:
  status                          Show node, pool and parameter summary

  wallet create --name <n>        Create a new wallet
  wallet import --name <n> --mnemonic "..."
                                  Import wallet from mnemonic
  wallet list                     List wallets
  wallet address --wallet <w>     List wallet accounts
  wallet new-address --wallet <w> [--label <l>]
                                  Derive the next account

  balance <address>               Show stake and reward token balances
  stake-info <address>            Show stake record and pending reward
  stakes [--offset n] [--limit n] List all stakes
  params                          Show reward parameters

  approve --wallet <w> --token stake|reward --amount <amt> [--spender <addr>]
                                  Approve the pool (or spender) to pull tokens
  transfer --wallet <w> --token stake|reward --to <addr> --amount <amt>
                                  Transfer tokens
  stake --wallet <w> --amount <amt> [--no-approve]
                                  Stake tokens (approves the pool first)
  claim --wallet <w>              Claim the pending reward
  unstake --wallet <w>            Withdraw principal and the pending reward
  update-params --wallet <w> [--rate <bps>] [--delay <s>] [--period <s>] [--multiplier <x>]
                                  Replace the reward parameters (admin only)

Signing commands accept --account <index> (default 0) to pick the wallet account.
Amounts are in whole tokens (e.g. 1.5).
`)
}

type cli struct {
	client *rpcclient.Client
	ksDir  string
}

// ── status ──────────────────────────────────────────────────────────────

func (c *cli) status() {
	var (
		info *rpc.NodeInfoResult
		ps   *rpc.ParametersResult
		acct *rpc.AccountingResult
		stk  *rpc.TokenInfoResult
		rwd  *rpc.TokenInfoResult
	)
	var g errgroup.Group
	g.Go(func() (err error) { info, err = c.client.NodeInfo(); return })
	g.Go(func() (err error) { ps, err = c.client.Parameters(); return })
	g.Go(func() (err error) { acct, err = c.client.Accounting(); return })
	g.Go(func() (err error) { stk, err = c.client.TokenInfo(rpc.TokenStake); return })
	g.Go(func() (err error) { rwd, err = c.client.TokenInfo(rpc.TokenReward); return })
	if err := g.Wait(); err != nil {
		fatal("%v", err)
	}

	fmt.Printf("Node:        %s (%s)\n", info.Version, info.Network)
	fmt.Printf("Pool:        %s\n", info.Pool)
	fmt.Printf("Pool hash:   %s\n", info.PoolHash)
	fmt.Printf("Admin:       %s\n", info.Admin)
	fmt.Printf("Uptime:      %s\n", time.Duration(info.Uptime)*time.Second)
	fmt.Println()
	fmt.Printf("Stake token:  %s (%s)\n", stk.Name, stk.Symbol)
	fmt.Printf("Reward token: %s (%s)\n", rwd.Name, rwd.Symbol)
	fmt.Printf("Stakers:      %d\n", acct.Stakers)
	fmt.Printf("Staked:       %s %s\n", formatUnits(acct.TotalPrincipal, stk.Decimals), stk.Symbol)
	fmt.Printf("Stake vault:  %s %s\n", formatUnits(acct.StakeCustody, stk.Decimals), stk.Symbol)
	fmt.Printf("Reward vault: %s %s\n", formatUnits(acct.RewardCustody, rwd.Decimals), rwd.Symbol)
	fmt.Printf("Paid out:     %s %s\n", formatUnits(acct.TotalRewardsClaimed, rwd.Decimals), rwd.Symbol)
	fmt.Println()
	printParams(ps)
}

func printParams(ps *rpc.ParametersResult) {
	fmt.Printf("Parameters v%d\n", ps.Version)
	fmt.Printf("  Annual rate:     %d bps (%.2f%%)\n", ps.AnnualRateBps, float64(ps.AnnualRateBps)/100)
	fmt.Printf("  Claim delay:     %s\n", time.Duration(ps.ClaimDelay)*time.Second)
	fmt.Printf("  Max lock period: %s\n", time.Duration(ps.MaxLockingPeriod)*time.Second)
	fmt.Printf("  Max multiplier:  %dx\n", ps.MaxLockMultiplier)
	if ps.UpdatedBy != "" {
		fmt.Printf("  Updated by:      %s at %d\n", ps.UpdatedBy, ps.UpdatedAt)
	}
}

// ── queries ─────────────────────────────────────────────────────────────

func (c *cli) balance(args []string) {
	if len(args) < 1 {
		fatal("Usage: klingstake-cli balance <address>")
	}
	for _, tok := range []string{rpc.TokenStake, rpc.TokenReward} {
		info, err := c.client.TokenInfo(tok)
		if err != nil {
			fatal("token_getInfo: %v", err)
		}
		bal, err := c.client.Balance(tok, args[0])
		if err != nil {
			fatal("token_getBalance: %v", err)
		}
		fmt.Printf("%-6s %s\n", info.Symbol, bal.Formatted)
	}
}

func (c *cli) stakeInfo(args []string) {
	if len(args) < 1 {
		fatal("Usage: klingstake-cli stake-info <address>")
	}
	st, err := c.client.GetStake(args[0])
	if err != nil {
		fatal("staking_getStake: %v", err)
	}
	if !st.Staked {
		fmt.Printf("%s has no stake\n", st.Address)
		return
	}
	pending, err := c.client.PendingReward(args[0])
	if err != nil {
		fatal("staking_pendingReward: %v", err)
	}
	stk := c.tokenInfo(rpc.TokenStake)
	rwd := c.tokenInfo(rpc.TokenReward)

	fmt.Printf("Address:     %s\n", st.Address)
	fmt.Printf("Principal:   %s %s\n", formatUnits(st.Principal, stk.Decimals), stk.Symbol)
	fmt.Printf("Staked at:   %s\n", formatTime(st.StakeTime))
	fmt.Printf("Last claim:  %s\n", formatTime(st.LastClaimTime))
	fmt.Printf("Claimed:     %s %s\n", formatUnits(st.ClaimedAmount, rwd.Decimals), rwd.Symbol)
	fmt.Printf("Pending:     %s %s\n", formatUnits(pending.Reward, rwd.Decimals), rwd.Symbol)
	fmt.Printf("Multiplier:  %sx\n", formatUnits(pending.Multiplier, 18))
	if pending.Claimable {
		fmt.Println("Claimable:   now")
	} else {
		fmt.Printf("Claimable:   %s\n", formatTime(pending.ClaimableAt))
	}
}

func (c *cli) stakes(args []string) {
	fs := flag.NewFlagSet("stakes", flag.ExitOnError)
	offset := fs.Int("offset", 0, "Skip this many stakes")
	after := fs.String("after", "", "Continue after this address (the previous page's next)")
	limit := fs.Int("limit", 100, "Maximum stakes to show")
	fs.Parse(args)

	var (
		res *rpc.ListStakesResult
		err error
	)
	if *after != "" {
		res, err = c.client.ListStakesAfter(*after, *limit)
	} else {
		res, err = c.client.ListStakes(*offset, *limit)
	}
	if err != nil {
		fatal("staking_listStakes: %v", err)
	}
	stk := c.tokenInfo(rpc.TokenStake)
	fmt.Printf("Stakes: %d\n", res.Total)
	for _, s := range res.Stakes {
		fmt.Printf("  %s  %s %s  since %s\n", s.Address, formatUnits(s.Principal, stk.Decimals), stk.Symbol, formatTime(s.StakeTime))
	}
	if res.Next != "" {
		fmt.Printf("Next page:   --after=%s\n", res.Next)
	}
}

func (c *cli) params() {
	ps, err := c.client.Parameters()
	if err != nil {
		fatal("staking_getParameters: %v", err)
	}
	printParams(ps)
}

// ── signed operations ───────────────────────────────────────────────────

// signerFlags registers the flags every signing command shares.
func signerFlags(fs *flag.FlagSet) (name *string, index *uint) {
	name = fs.String("wallet", "", "Wallet name")
	index = fs.Uint("account", 0, "Wallet account index")
	return
}

func (c *cli) stake(args []string) {
	fs := flag.NewFlagSet("stake", flag.ExitOnError)
	name, index := signerFlags(fs)
	amountStr := fs.String("amount", "", "Amount to stake (e.g. 100)")
	noApprove := fs.Bool("no-approve", false, "Skip the approval step")
	fs.Parse(args)
	if *name == "" || *amountStr == "" {
		fatal("Usage: klingstake-cli stake --wallet <name> --amount <amt>")
	}

	stk := c.tokenInfo(rpc.TokenStake)
	amount := parseUnits(*amountStr, stk.Decimals)
	key := c.unlock(*name, *index)
	defer key.Zero()

	if !*noApprove {
		if _, err := c.client.Approve(key, rpc.TokenStake, "", amount); err != nil {
			fatal("token_approve: %v", err)
		}
	}
	r, err := c.client.Stake(key, amount)
	if err != nil {
		fatal("staking_stake: %v", err)
	}
	c.printReceipt(r)
}

func (c *cli) claim(args []string) {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	name, index := signerFlags(fs)
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: klingstake-cli claim --wallet <name>")
	}
	key := c.unlock(*name, *index)
	defer key.Zero()
	r, err := c.client.Claim(key)
	if err != nil {
		fatal("staking_claim: %v", err)
	}
	c.printReceipt(r)
}

func (c *cli) unstake(args []string) {
	fs := flag.NewFlagSet("unstake", flag.ExitOnError)
	name, index := signerFlags(fs)
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: klingstake-cli unstake --wallet <name>")
	}
	key := c.unlock(*name, *index)
	defer key.Zero()
	r, err := c.client.Unstake(key)
	if err != nil {
		fatal("staking_unstake: %v", err)
	}
	c.printReceipt(r)
}

func (c *cli) approve(args []string) {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	name, index := signerFlags(fs)
	tok := fs.String("token", rpc.TokenStake, "Token: stake or reward")
	spender := fs.String("spender", "", "Spender address (default: pool)")
	amountStr := fs.String("amount", "", "Allowance (e.g. 100)")
	fs.Parse(args)
	if *name == "" || *amountStr == "" {
		fatal("Usage: klingstake-cli approve --wallet <name> --token <t> --amount <amt>")
	}
	info := c.tokenInfo(*tok)
	key := c.unlock(*name, *index)
	defer key.Zero()
	res, err := c.client.Approve(key, *tok, *spender, parseUnits(*amountStr, info.Decimals))
	if err != nil {
		fatal("token_approve: %v", err)
	}
	fmt.Printf("Approved %s %s for %s\n", formatUnits(res.Amount, info.Decimals), info.Symbol, res.To)
}

func (c *cli) transfer(args []string) {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	name, index := signerFlags(fs)
	tok := fs.String("token", rpc.TokenStake, "Token: stake or reward")
	to := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount (e.g. 1.5)")
	fs.Parse(args)
	if *name == "" || *to == "" || *amountStr == "" {
		fatal("Usage: klingstake-cli transfer --wallet <name> --token <t> --to <addr> --amount <amt>")
	}
	if _, err := types.ParseAddress(*to); err != nil {
		fatal("invalid recipient address: %v", err)
	}
	info := c.tokenInfo(*tok)
	key := c.unlock(*name, *index)
	defer key.Zero()
	res, err := c.client.Transfer(key, *tok, *to, parseUnits(*amountStr, info.Decimals))
	if err != nil {
		fatal("token_transfer: %v", err)
	}
	fmt.Printf("Sent %s %s to %s\n", formatUnits(res.Amount, info.Decimals), info.Symbol, res.To)
}

func (c *cli) updateParams(args []string) {
	cur, err := c.client.Parameters()
	if err != nil {
		fatal("staking_getParameters: %v", err)
	}
	fs := flag.NewFlagSet("update-params", flag.ExitOnError)
	name, index := signerFlags(fs)
	rate := fs.Uint64("rate", cur.AnnualRateBps, "Annual rate in basis points")
	delay := fs.Uint64("delay", cur.ClaimDelay, "Claim delay in seconds")
	period := fs.Uint64("period", cur.MaxLockingPeriod, "Max locking period in seconds")
	mult := fs.Uint64("multiplier", cur.MaxLockMultiplier, "Max lock multiplier")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: klingstake-cli update-params --wallet <name> [--rate ...]")
	}

	p := cur.Parameters
	p.AnnualRateBps, p.ClaimDelay, p.MaxLockingPeriod, p.MaxLockMultiplier = *rate, *delay, *period, *mult
	if err := p.Validate(); err != nil {
		fatal("%v", err)
	}
	key := c.unlock(*name, *index)
	defer key.Zero()
	res, err := c.client.UpdateParameters(key, p)
	if err != nil {
		fatal("admin_updateParameters: %v", err)
	}
	printParams(res)
}

func (c *cli) printReceipt(r *rpc.ReceiptResult) {
	stk := c.tokenInfo(rpc.TokenStake)
	rwd := c.tokenInfo(rpc.TokenReward)
	fmt.Printf("%s by %s at %s\n", r.Op, r.Address, formatTime(r.Time))
	fmt.Printf("  Reward:    %s %s\n", formatUnits(r.Reward, rwd.Decimals), rwd.Symbol)
	fmt.Printf("  Principal: %s %s\n", formatUnits(r.Principal, stk.Decimals), stk.Symbol)
}

// ── wallet ──────────────────────────────────────────────────────────────

func (c *cli) keystore() *wallet.Keystore {
	ks, err := wallet.NewKeystore(c.ksDir, wallet.DefaultKDF())
	if err != nil {
		fatal("open keystore: %v", err)
	}
	return ks
}

// unlock prompts for the wallet password and returns the account's key.
func (c *cli) unlock(name string, index uint) *crypto.PrivateKey {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	key, err := c.keystore().Key(name, password, uint32(index))
	if err != nil {
		fatal("unlock wallet: %v", err)
	}
	return key
}

func (c *cli) wallet(args []string) {
	if len(args) < 1 {
		fatal("Usage: klingstake-cli wallet create|import|list|address|new-address")
	}
	switch args[0] {
	case "create":
		c.walletCreate(args[1:])
	case "import":
		c.walletImport(args[1:])
	case "list":
		c.walletList()
	case "address":
		c.walletAddress(args[1:])
	case "new-address":
		c.walletNewAddress(args[1:])
	default:
		fatal("unknown wallet command: %s", args[0])
	}
}

func (c *cli) walletCreate(args []string) {
	fs := flag.NewFlagSet("wallet create", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: klingstake-cli wallet create --name <name>")
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}
	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	password := newPassword()
	acct, err := c.keystore().Import(*name, mnemonic, "", password)
	if err != nil {
		fatal("create wallet: %v", err)
	}
	fmt.Printf("\nWallet created: %s\n", *name)
	fmt.Printf("Address: %s\n", acct.Address)
}

func (c *cli) walletImport(args []string) {
	fs := flag.NewFlagSet("wallet import", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic")
	passphrase := fs.String("passphrase", "", "Optional BIP-39 passphrase")
	fs.Parse(args)
	if *name == "" || *mnemonic == "" {
		fatal("Usage: klingstake-cli wallet import --name <name> --mnemonic \"...\"")
	}
	if !wallet.ValidateMnemonic(*mnemonic) {
		fatal("invalid mnemonic")
	}
	password := newPassword()
	acct, err := c.keystore().Import(*name, *mnemonic, *passphrase, password)
	if err != nil {
		fatal("import wallet: %v", err)
	}
	fmt.Printf("Wallet imported: %s\n", *name)
	fmt.Printf("Address: %s\n", acct.Address)
}

func (c *cli) walletList() {
	names, err := c.keystore().List()
	if err != nil {
		fatal("list wallets: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No wallets found.")
		return
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func (c *cli) walletAddress(args []string) {
	fs := flag.NewFlagSet("wallet address", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: klingstake-cli wallet address --wallet <name>")
	}
	accts, err := c.keystore().Accounts(*name)
	if err != nil {
		fatal("%v", err)
	}
	for _, a := range accts {
		fmt.Printf("  [%d] %-12s %s  %s\n", a.Index, a.Name, a.Address, a.Path())
	}
}

func (c *cli) walletNewAddress(args []string) {
	fs := flag.NewFlagSet("wallet new-address", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	label := fs.String("label", "", "Account label")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: klingstake-cli wallet new-address --wallet <name>")
	}
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	acct, err := c.keystore().NewAccount(*name, password, *label)
	if err != nil {
		fatal("new account: %v", err)
	}
	fmt.Printf("[%d] %s\n", acct.Index, acct.Address)
}

// ── helpers ─────────────────────────────────────────────────────────────

func (c *cli) tokenInfo(tok string) *rpc.TokenInfoResult {
	info, err := c.client.TokenInfo(tok)
	if err != nil {
		fatal("token_getInfo: %v", err)
	}
	return info
}

// parseUnits converts a whole-token amount to a base-unit decimal string.
func parseUnits(s string, decimals uint8) string {
	v, err := types.ParseAmount(s, decimals)
	if err != nil {
		fatal("invalid amount %q: %v", s, err)
	}
	return v.Dec()
}

// formatUnits renders a base-unit decimal string in whole tokens.
func formatUnits(s string, decimals uint8) string {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return s
	}
	return types.FormatAmount(v, decimals)
}

func formatTime(ts uint64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

func newPassword() []byte {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	return password
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
