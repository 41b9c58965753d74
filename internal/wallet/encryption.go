package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrWrongPassword is returned when a sealed blob fails authentication.
var ErrWrongPassword = errors.New("wrong password or corrupted key file")

// Sealed layout:
//
//	salt(32) | memory(4 LE) | iterations(4 LE) | parallelism(1) | nonce(24) | ciphertext
const (
	SaltSize   = 32
	headerSize = SaltSize + 4 + 4 + 1
)

// KDFParams are the Argon2id cost parameters stored with each sealed blob.
type KDFParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultKDF returns the Argon2id parameters new key files use.
func DefaultKDF() KDFParams {
	return KDFParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}
}

// LightKDF is a cheap setting for tests.
func LightKDF() KDFParams {
	return KDFParams{Memory: 1024, Iterations: 1, Parallelism: 1}
}

func (p KDFParams) key(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Seal encrypts plaintext under password with Argon2id and XChaCha20-Poly1305.
// The header is bound to the ciphertext as associated data.
func Seal(plaintext, password []byte, p KDFParams) ([]byte, error) {
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return nil, fmt.Errorf("invalid kdf params %+v", p)
	}

	header := make([]byte, headerSize, headerSize+chacha20poly1305.NonceSizeX+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(header[:SaltSize]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	binary.LittleEndian.PutUint32(header[SaltSize:], p.Memory)
	binary.LittleEndian.PutUint32(header[SaltSize+4:], p.Iterations)
	header[SaltSize+8] = p.Parallelism

	key := p.key(password, header[:SaltSize])
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ad := append([]byte(nil), header...)
	out := append(header, nonce...)
	return aead.Seal(out, nonce, plaintext, ad), nil
}

// Open decrypts a blob produced by Seal.
func Open(sealed, password []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	if min := headerSize + nonceSize + chacha20poly1305.Overhead; len(sealed) < min {
		return nil, fmt.Errorf("sealed data too short: %d bytes, need at least %d", len(sealed), min)
	}

	header := sealed[:headerSize]
	p := KDFParams{
		Memory:      binary.LittleEndian.Uint32(header[SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(header[SaltSize+4:]),
		Parallelism: header[SaltSize+8],
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return nil, fmt.Errorf("invalid kdf params in header")
	}
	nonce := sealed[headerSize : headerSize+nonceSize]
	ciphertext := sealed[headerSize+nonceSize:]

	key := p.key(password, header[:SaltSize])
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}
