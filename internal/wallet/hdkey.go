package wallet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Klingon-tech/klingnet-staking/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 path components. Staking accounts live at
// m/44'/8888'/0'/0/index.
const (
	PurposeBIP44 = bip32.FirstHardenedChild + 44
	CoinType     = bip32.FirstHardenedChild + 8888
	AccountZero  = bip32.FirstHardenedChild
	ChainExtern  = 0
)

// Path is a BIP-32 derivation path.
type Path []uint32

// AccountPath returns the path of the index-th staking account.
func AccountPath(index uint32) Path {
	return Path{PurposeBIP44, CoinType, AccountZero, ChainExtern, index}
}

// String renders the path in m/44'/8888'/0'/0/i notation.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, c := range p {
		b.WriteByte('/')
		if c >= bip32.FirstHardenedChild {
			b.WriteString(strconv.FormatUint(uint64(c-bip32.FirstHardenedChild), 10))
			b.WriteByte('\'')
		} else {
			b.WriteString(strconv.FormatUint(uint64(c), 10))
		}
	}
	return b.String()
}

// ParsePath parses m/a'/b/... notation. Both ' and h mark hardened steps.
func ParsePath(s string) (Path, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("path %q must start with m", s)
	}
	out := make(Path, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}
		n, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("path %q: bad component %q", s, part)
		}
		c := uint32(n)
		if hardened {
			c += bip32.FirstHardenedChild
		}
		out = append(out, c)
	}
	return out, nil
}

// HDKey is a BIP-32 extended key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// Derive walks path from k.
func (k *HDKey) Derive(path Path) (*HDKey, error) {
	cur := k.key
	for _, idx := range path {
		child, err := cur.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", path, err)
		}
		cur = child
	}
	return &HDKey{key: cur}, nil
}

// PrivateKey returns the signing key. Fails for a neutered key.
func (k *HDKey) PrivateKey() (*crypto.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("public-only key cannot sign")
	}
	// bip32 stores private keys as 33 bytes with a leading zero.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	if len(raw) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(raw):], raw)
		raw = padded
	}
	return crypto.PrivateKeyFromBytes(raw)
}

// PublicKey returns the compressed 33-byte public key.
func (k *HDKey) PublicKey() []byte {
	return k.key.PublicKey().Key
}

// Address returns the staking address for this key.
func (k *HDKey) Address() types.Address {
	return crypto.AddressFromPubKey(k.PublicKey())
}

// Neuter returns a public-only copy.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}

// AccountKey derives the index-th staking account key from a seed.
func AccountKey(seed []byte, index uint32) (*crypto.PrivateKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	acct, err := master.Derive(AccountPath(index))
	if err != nil {
		return nil, err
	}
	return acct.PrivateKey()
}
