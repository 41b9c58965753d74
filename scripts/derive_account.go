// derive_account.go prints the staking account derived from a mnemonic, for
// filling in pool.admin or a pool file's allocations.
// Usage: KLINGSTAKE_MNEMONIC="..." go run scripts/derive_account.go [index]
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/Klingon-tech/klingnet-staking/internal/wallet"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

func main() {
	mnemonic := os.Getenv("KLINGSTAKE_MNEMONIC")
	if mnemonic == "" {
		fmt.Fprintln(os.Stderr, "usage: KLINGSTAKE_MNEMONIC=\"...\" derive_account [index]")
		os.Exit(1)
	}
	var index uint32
	if len(os.Args) > 1 {
		n, err := strconv.ParseUint(os.Args[1], 10, 31)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		index = uint32(n)
	}

	seed, err := wallet.SeedFromMnemonic(mnemonic, os.Getenv("KLINGSTAKE_PASSPHRASE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	path := wallet.AccountPath(index)
	key, err := master.Derive(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	addr := key.Address()
	fmt.Printf("path=%s\n", path)
	fmt.Printf("pubkey=%s\n", hex.EncodeToString(key.PublicKey()))
	fmt.Printf("hex=%s\n", addr.Hex())
	types.SetAddressHRP(types.MainnetHRP)
	fmt.Printf("mainnet=%s\n", addr.String())
	types.SetAddressHRP(types.TestnetHRP)
	fmt.Printf("testnet=%s\n", addr.String())
}
