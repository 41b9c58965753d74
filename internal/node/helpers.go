package node

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-staking/config"
	"github.com/Klingon-tech/klingnet-staking/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// CustodyAddress returns the pool's holding account for one token. It is
// derived from a label, so no private key exists for it and only the
// engine can move its funds.
func CustodyAddress(symbol string) types.Address {
	h := crypto.HashParts([]byte("klingstake/custody"), []byte(symbol))
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

func setAddressHRP(network config.NetworkType) {
	if network == config.Testnet {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}
}
