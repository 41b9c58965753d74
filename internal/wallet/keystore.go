package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	klog "github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

const (
	walletExt     = ".wallet"
	walletVersion = 2
)

// Keystore errors.
var (
	ErrWalletExists   = errors.New("wallet already exists")
	ErrWalletNotFound = errors.New("wallet not found")
	ErrBadWalletName  = errors.New("invalid wallet name")
)

// walletFile is the on-disk JSON format.
type walletFile struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	SealedSeed []byte    `json:"sealed_seed"`
	Accounts   []Account `json:"accounts"`
	NextIndex  uint32    `json:"next_index"`
}

// Account is a derived staking account recorded in a wallet file.
type Account struct {
	Index   uint32        `json:"index"`
	Name    string        `json:"name"`
	Address types.Address `json:"address"`
}

// Path returns the account's derivation path.
func (a Account) Path() Path { return AccountPath(a.Index) }

// Keystore keeps encrypted wallets in a directory, one file per wallet.
type Keystore struct {
	dir string
	kdf KDFParams
}

// NewKeystore opens (creating if needed) the keystore directory.
func NewKeystore(dir string, kdf KDFParams) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{dir: dir, kdf: kdf}, nil
}

func (ks *Keystore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrBadWalletName, name)
	}
	return filepath.Join(ks.dir, name+walletExt), nil
}

// Create stores a new wallet holding seed and derives account 0.
func (ks *Keystore) Create(name string, seed, password []byte) (Account, error) {
	path, err := ks.path(name)
	if err != nil {
		return Account{}, err
	}
	if _, err := os.Stat(path); err == nil {
		return Account{}, fmt.Errorf("%w: %s", ErrWalletExists, name)
	}
	key, err := AccountKey(seed, 0)
	if err != nil {
		return Account{}, err
	}
	sealed, err := Seal(seed, password, ks.kdf)
	if err != nil {
		return Account{}, fmt.Errorf("seal seed: %w", err)
	}
	acct := Account{Index: 0, Name: "default", Address: key.Address()}
	wf := walletFile{
		Version:    walletVersion,
		CreatedAt:  time.Now().UTC(),
		SealedSeed: sealed,
		Accounts:   []Account{acct},
		NextIndex:  1,
	}
	if err := writeWallet(path, &wf); err != nil {
		return Account{}, err
	}
	klog.Wallet.Info().Str("wallet", name).Str("address", acct.Address.String()).Msg("Wallet created")
	return acct, nil
}

// Import creates a wallet from an existing mnemonic.
func (ks *Keystore) Import(name, mnemonic, passphrase string, password []byte) (Account, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return Account{}, err
	}
	defer zero(seed)
	return ks.Create(name, seed, password)
}

// Unlock decrypts the wallet's seed.
func (ks *Keystore) Unlock(name string, password []byte) ([]byte, error) {
	wf, _, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	return Open(wf.SealedSeed, password)
}

// Key returns the signing key for account index of the named wallet.
func (ks *Keystore) Key(name string, password []byte, index uint32) (*crypto.PrivateKey, error) {
	seed, err := ks.Unlock(name, password)
	if err != nil {
		return nil, err
	}
	defer zero(seed)
	return AccountKey(seed, index)
}

// NewAccount derives the next account and records it.
func (ks *Keystore) NewAccount(name string, password []byte, label string) (Account, error) {
	wf, path, err := ks.read(name)
	if err != nil {
		return Account{}, err
	}
	seed, err := Open(wf.SealedSeed, password)
	if err != nil {
		return Account{}, err
	}
	defer zero(seed)

	key, err := AccountKey(seed, wf.NextIndex)
	if err != nil {
		return Account{}, err
	}
	if label == "" {
		label = fmt.Sprintf("account-%d", wf.NextIndex)
	}
	acct := Account{Index: wf.NextIndex, Name: label, Address: key.Address()}
	wf.Accounts = append(wf.Accounts, acct)
	wf.NextIndex++
	if err := writeWallet(path, wf); err != nil {
		return Account{}, err
	}
	klog.Wallet.Info().Str("wallet", name).Uint32("index", acct.Index).Str("address", acct.Address.String()).Msg("Account derived")
	return acct, nil
}

// Accounts lists the recorded accounts of a wallet. No password needed.
func (ks *Keystore) Accounts(name string) ([]Account, error) {
	wf, _, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	return wf.Accounts, nil
}

// Find returns the account with the given address.
func (ks *Keystore) Find(name string, addr types.Address) (Account, error) {
	accts, err := ks.Accounts(name)
	if err != nil {
		return Account{}, err
	}
	for _, a := range accts {
		if a.Address == addr {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("address %s not in wallet %s", addr, name)
}

// List returns the sorted wallet names in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.dir)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), walletExt) {
			names = append(names, strings.TrimSuffix(e.Name(), walletExt))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a wallet file.
func (ks *Keystore) Delete(name string) error {
	path, err := ks.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, name)
		}
		return fmt.Errorf("remove wallet: %w", err)
	}
	klog.Wallet.Info().Str("wallet", name).Msg("Wallet deleted")
	return nil
}

func (ks *Keystore) read(name string) (*walletFile, string, error) {
	path, err := ks.path(name)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrWalletNotFound, name)
		}
		return nil, "", fmt.Errorf("read wallet: %w", err)
	}
	var wf walletFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, "", fmt.Errorf("parse wallet %s: %w", name, err)
	}
	if wf.Version != walletVersion {
		return nil, "", fmt.Errorf("wallet %s: unsupported version %d", name, wf.Version)
	}
	return &wf, path, nil
}

// writeWallet replaces the file atomically via rename.
func writeWallet(path string, wf *walletFile) error {
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}
