package types

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// Bech32Encode encodes 8-bit data under hrp (BIP-173 checksum).
func Bech32Encode(hrp string, data []byte) (string, error) {
	if hrp == "" {
		return "", errors.New("bech32: empty hrp")
	}
	words, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("bech32: %w", err)
	}
	return bech32.Encode(hrp, words)
}

// Bech32Decode decodes s and returns its hrp and 8-bit payload. Mixed-case
// strings and bad checksums are rejected.
func Bech32Decode(s string) (string, []byte, error) {
	hrp, words, err := bech32.Decode(s)
	if err != nil {
		return "", nil, fmt.Errorf("bech32: %w", err)
	}
	data, err := bech32.ConvertBits(words, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("bech32: %w", err)
	}
	return hrp, data, nil
}
