// Package node wires storage, tokens, the staking engine and the RPC server
// into a runnable staking node that any binary can embed.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Klingon-tech/klingnet-staking/config"
	"github.com/Klingon-tech/klingnet-staking/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/internal/metrics"
	"github.com/Klingon-tech/klingnet-staking/internal/params"
	"github.com/Klingon-tech/klingnet-staking/internal/rpc"
	"github.com/Klingon-tech/klingnet-staking/internal/staking"
	"github.com/Klingon-tech/klingnet-staking/internal/storage"
	"github.com/Klingon-tech/klingnet-staking/internal/token"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/rs/zerolog"
)

// Option customises a Node.
type Option func(*options)

type options struct {
	clock staking.Clock
	db    storage.DB
}

// WithClock replaces the system clock. Used by simulations and tests.
func WithClock(c staking.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithDB runs the node on db instead of opening badger under the data dir.
// The node takes ownership and closes it on Stop.
func WithDB(db storage.DB) Option {
	return func(o *options) { o.db = db }
}

// Node is a fully-initialized staking node.
type Node struct {
	cfg    *config.Config
	pool   *config.Pool
	logger zerolog.Logger

	db       storage.DB
	stake    *token.Custody
	reward   *token.Custody
	engine   *staking.Engine
	poolHash types.Hash

	rpcServer *rpc.Server
	started   time.Time
}

// New creates and initializes a node: it opens storage, bootstraps the pool
// on first run and builds the engine and RPC server. Nothing listens until
// Start is called.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// ── 1. Address HRP ──────────────────────────────────────────────
	setAddressHRP(cfg.Network)

	logger := klog.Node

	// ── 2. Pool definition ──────────────────────────────────────────
	pool, err := config.PoolFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve pool: %w", err)
	}
	admin, err := pool.AdminAddress()
	if err != nil {
		return nil, err
	}
	zeroPolicy, err := staking.ParseZeroRewardPolicy(cfg.Staking.ZeroReward)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("pool", pool.Name).
		Str("admin", admin.String()).
		Msg("Starting Klingnet staking node")

	// ── 3. Storage ──────────────────────────────────────────────────
	db := o.db
	if db == nil {
		dir := expandHome(cfg.DBDir())
		bdb, err := storage.NewBadger(dir)
		if err != nil {
			return nil, fmt.Errorf("open database at %s: %w", dir, err)
		}
		db = bdb
		logger.Info().Str("path", dir).Msg("Database opened")
	}

	n := &Node{cfg: cfg, pool: pool, logger: logger, db: db, started: time.Now()}
	if err := n.build(admin, zeroPolicy, o.clock); err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) build(admin types.Address, zeroPolicy staking.ZeroRewardPolicy, clock staking.Clock) error {
	cfg, pool := n.cfg, n.pool

	// ── 4. Tokens and custody accounts ──────────────────────────────
	stakeToken, err := token.Open(storage.NewPrefixDB(n.db, prefixStakeToken), token.Metadata{
		Name: pool.StakeToken.Name, Symbol: pool.StakeToken.Symbol,
		Decimals: pool.StakeToken.Decimals, Creator: admin,
	})
	if err != nil {
		return fmt.Errorf("open stake token: %w", err)
	}
	rewardToken, err := token.Open(storage.NewPrefixDB(n.db, prefixRewardToken), token.Metadata{
		Name: pool.RewardToken.Name, Symbol: pool.RewardToken.Symbol,
		Decimals: pool.RewardToken.Decimals, Creator: admin,
	})
	if err != nil {
		return fmt.Errorf("open reward token: %w", err)
	}
	n.stake = &token.Custody{Token: stakeToken, Holder: CustodyAddress(pool.StakeToken.Symbol)}
	n.reward = &token.Custody{Token: rewardToken, Holder: CustodyAddress(pool.RewardToken.Symbol)}

	// ── 5. Bootstrap ────────────────────────────────────────────────
	n.poolHash, err = bootstrapPool(storage.NewPrefixDB(n.db, prefixMeta), pool, n.stake, n.reward, n.logger)
	if err != nil {
		return err
	}

	// ── 6. Ledger, parameters, engine ───────────────────────────────
	l, err := ledger.New(storage.NewPrefixDB(n.db, prefixLedger))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	ps, err := params.NewStore(storage.NewPrefixDB(n.db, prefixParams), params.StaticAdmin(admin), pool.Parameters)
	if err != nil {
		return fmt.Errorf("open parameters: %w", err)
	}
	if clock == nil {
		clock = staking.NewSystemClock(cfg.Clock.Offset)
	}
	n.engine = staking.New(l, ps, clock, n.stake, n.reward,
		staking.WithZeroRewardPolicy(zeroPolicy),
		staking.WithRewardDecimals(pool.RewardToken.Decimals),
	)

	snap := n.engine.Parameters()
	stats, err := n.engine.Stats()
	if err != nil {
		return fmt.Errorf("ledger stats: %w", err)
	}
	metrics.SetStakers(stats.Stakers)
	metrics.SetParamsVersion(snap.Version)

	n.logger.Info().
		Uint64("params_version", snap.Version).
		Uint64("annual_rate_bps", snap.AnnualRateBps).
		Uint64("claim_delay", snap.ClaimDelay).
		Int("stakers", stats.Stakers).
		Str("zero_reward", zeroPolicy.String()).
		Msg("Staking engine ready")

	// ── 7. RPC server ───────────────────────────────────────────────
	if !cfg.RPC.Enabled {
		n.logger.Warn().Msg("RPC disabled by config")
		return nil
	}
	n.rpcServer = rpc.New(fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port), rpc.Backend{
		Engine: n.engine,
		Stake:  n.stake,
		Reward: n.reward,
		Nonces: rpc.NewNonceStore(storage.NewPrefixDB(n.db, prefixNonces)),
		Info: rpc.NodeInfo{
			Version:          config.Version,
			Network:          string(cfg.Network),
			Pool:             pool.Name,
			PoolHash:         n.poolHash,
			Admin:            admin.String(),
			ZeroRewardPolicy: zeroPolicy.String(),
			Started:          n.started,
		},
	}, cfg.RPC)
	if cfg.Metrics.Enabled {
		metrics.InitializePrometheus()
		n.rpcServer.HandleMetrics(metrics.Handler())
	}
	return nil
}

// Start opens the RPC listener.
func (n *Node) Start() error {
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start RPC: %w", err)
		}
		n.logger.Info().
			Str("addr", n.rpcServer.Addr()).
			Bool("metrics", n.cfg.Metrics.Enabled).
			Msg("RPC server started")
	}
	n.logger.Info().Str("pool_hash", n.poolHash.String()).Msg("Node started successfully")
	return nil
}

// Stop shuts the RPC server down and closes storage.
func (n *Node) Stop(ctx context.Context) error {
	var errs []error
	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop RPC: %w", err))
		}
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	n.logger.Info().Msg("Goodbye!")
	return errors.Join(errs...)
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Err reports a fatal RPC server error. It never fires when RPC is
// disabled.
func (n *Node) Err() <-chan error {
	if n.rpcServer == nil {
		return nil
	}
	return n.rpcServer.Err()
}

// Engine returns the staking engine.
func (n *Node) Engine() *staking.Engine { return n.engine }

// StakeCustody returns the stake token and its pool account.
func (n *Node) StakeCustody() *token.Custody { return n.stake }

// RewardCustody returns the reward token and its pool account.
func (n *Node) RewardCustody() *token.Custody { return n.reward }

// PoolHash identifies the pool definition the database was bootstrapped from.
func (n *Node) PoolHash() types.Hash { return n.poolHash }

// LogFile returns the log file the daemon should write to.
func LogFile(cfg *config.Config) (string, error) {
	if cfg.Log.File != "" {
		return expandHome(cfg.Log.File), nil
	}
	dir := cfg.LogsDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating logs dir: %w", err)
	}
	return filepath.Join(dir, "klingstaked.log"), nil
}
