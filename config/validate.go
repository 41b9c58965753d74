package config

import (
	"fmt"
	"net"

	"github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	for i, ip := range cfg.RPC.AllowedIPs {
		if net.ParseIP(ip) == nil {
			if _, _, err := net.ParseCIDR(ip); err != nil {
				return fmt.Errorf("rpc.allowed[%d] %q is not an IP or CIDR", i, ip)
			}
		}
	}
	if cfg.Metrics.Enabled && !cfg.RPC.Enabled {
		return fmt.Errorf("metrics.enabled requires rpc.enabled")
	}

	if cfg.Pool.Admin != "" {
		if _, err := types.ParseAddress(cfg.Pool.Admin); err != nil {
			return fmt.Errorf("pool.admin: %w", err)
		}
	}

	switch cfg.Staking.ZeroReward {
	case "":
		cfg.Staking.ZeroReward = "reset"
	case "reset", "keep":
	default:
		return fmt.Errorf("staking.zero_reward must be reset or keep")
	}

	if cfg.Clock.Offset != 0 && cfg.Network == Mainnet {
		return fmt.Errorf("clock.offset is only allowed on testnet")
	}
	if cfg.Clock.Offset < 0 {
		return fmt.Errorf("clock.offset must not be negative")
	}

	if cfg.Log.Level != "" && !log.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	return nil
}
