// Package storage provides the key-value abstractions the ledger, parameter
// store, token balances and RPC nonces are persisted through.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Writer is the write half of a DB. Both DB and Batch satisfy it.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// DB is the interface for key-value storage.
type DB interface {
	Writer
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// ForEachFrom is ForEach starting at the first key >= start.
	ForEachFrom(prefix, start []byte, fn func(key, value []byte) error) error
	Close() error
}
