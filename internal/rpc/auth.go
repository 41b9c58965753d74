package rpc

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-staking/internal/storage"
	"github.com/Klingon-tech/klingnet-staking/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

// ErrBadNonce is returned when a request nonce is not the next one.
var ErrBadNonce = errors.New("nonce out of sequence")

// SigningDigest is the hash a mutating request signs:
//
//	blake3(pool hash || method || 0x00 || compact(params) || nonce as 8 big-endian bytes)
//
// The pool hash ties a signature to one pool, so a request signed for
// one network's pool cannot be replayed against another.
func SigningDigest(pool types.Hash, method string, params []byte, nonce uint64) (types.Hash, error) {
	var compact bytes.Buffer
	if len(params) > 0 {
		if err := json.Compact(&compact, params); err != nil {
			return types.Hash{}, fmt.Errorf("compact params: %w", err)
		}
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return crypto.HashParts(pool[:], []byte(method), []byte{0}, compact.Bytes(), n[:]), nil
}

// SignRequest fills req.Auth with a signature by key for the given pool
// and nonce.
func SignRequest(req *Request, pool types.Hash, key *crypto.PrivateKey, nonce uint64) error {
	digest, err := SigningDigest(pool, req.Method, req.Params, nonce)
	if err != nil {
		return err
	}
	sig, err := key.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Auth = &Auth{
		PubKey:    hex.EncodeToString(key.PublicKey()),
		Nonce:     nonce,
		Signature: hex.EncodeToString(sig),
	}
	return nil
}

// NonceStore persists the last used request nonce per account.
//
// Key layout: "<addr20>" → uint64 big-endian.
type NonceStore struct {
	db storage.DB
	mu sync.Mutex
}

// NewNonceStore creates a nonce store backed by db.
func NewNonceStore(db storage.DB) *NonceStore {
	return &NonceStore{db: db}
}

// Get returns the last nonce used by addr (0 if none).
func (n *NonceStore) Get(addr types.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.get(addr)
}

func (n *NonceStore) get(addr types.Address) (uint64, error) {
	data, err := n.db.Get(addr[:])
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt nonce for %s", addr)
	}
	return binary.BigEndian.Uint64(data), nil
}

// Use consumes nonce for addr. It must be exactly one more than the last
// used nonce.
func (n *NonceStore) Use(addr types.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	last, err := n.get(addr)
	if err != nil {
		return err
	}
	if nonce != last+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrBadNonce, nonce, last+1)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return n.db.Put(addr[:], buf[:])
}

// authenticate verifies req.Auth and consumes its nonce. It returns the
// signer's address.
func (s *Server) authenticate(req *Request) (types.Address, *Error) {
	a := req.Auth
	if a == nil {
		return types.Address{}, &Error{Code: CodeBadAuth, Message: "auth is required"}
	}
	pub, err := hex.DecodeString(a.PubKey)
	if err != nil {
		return types.Address{}, &Error{Code: CodeBadAuth, Message: "invalid pubkey: must be hex"}
	}
	if err := crypto.ValidatePublicKey(pub); err != nil {
		return types.Address{}, &Error{Code: CodeBadAuth, Message: fmt.Sprintf("invalid pubkey: %v", err)}
	}
	sig, err := hex.DecodeString(a.Signature)
	if err != nil {
		return types.Address{}, &Error{Code: CodeBadAuth, Message: "invalid signature: must be hex"}
	}

	digest, err := SigningDigest(s.info.PoolHash, req.Method, req.Params, a.Nonce)
	if err != nil {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	if !crypto.VerifySignature(digest[:], sig, pub) {
		return types.Address{}, &Error{Code: CodeBadAuth, Message: "signature verification failed"}
	}

	addr := crypto.AddressFromPubKey(pub)
	if err := s.nonces.Use(addr, a.Nonce); err != nil {
		if errors.Is(err, ErrBadNonce) {
			return types.Address{}, &Error{Code: CodeBadAuth, Message: err.Error()}
		}
		return types.Address{}, &Error{Code: CodeInternalError, Message: fmt.Sprintf("nonce store: %v", err)}
	}
	return addr, nil
}
