// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Pool definition: tokens, allocations and initial reward parameters,
//     fixed when the pool is first bootstrapped (see Pool)
//   - Node settings: runtime configuration that can change between restarts
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// RPC server
	RPC RPCConfig

	// Prometheus metrics
	Metrics MetricsConfig

	// Pool definition and engine behaviour
	Pool    PoolConfig
	Staking StakingConfig

	// Clock adjustments
	Clock ClockConfig

	// Logging
	Log LogConfig
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// MetricsConfig controls the /metrics endpoint on the RPC listener.
type MetricsConfig struct {
	Enabled bool `conf:"metrics.enabled"`
}

// PoolConfig points at the pool definition file.
type PoolConfig struct {
	File  string `conf:"pool.file"`  // JSON or YAML; empty uses DefaultPool.
	Admin string `conf:"pool.admin"` // Admin of DefaultPool when File is empty.
}

// StakingConfig holds engine options that are not pool parameters.
type StakingConfig struct {
	ZeroReward string `conf:"staking.zero_reward"` // "reset" or "keep"
}

// ClockConfig shifts the engine clock, for simulations on testnet.
type ClockConfig struct {
	Offset time.Duration `conf:"clock.offset"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingstake
//	macOS:   ~/Library/Application Support/Klingstake
//	Windows: %APPDATA%\Klingstake
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingstake"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingstake")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingstake")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingstake")
	default:
		return filepath.Join(home, ".klingstake")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the key-value database directory.
func (c *Config) DBDir() string {
	return filepath.Join(c.NetworkDataDir(), "db")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingstake.conf")
}

// EnvFile returns the .env file path.
func (c *Config) EnvFile() string {
	return filepath.Join(c.DataDir, ".env")
}
