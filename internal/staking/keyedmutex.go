package staking

import (
	"sync"

	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

// keyedMutex hands out one mutex per account. Entries are reference
// counted and dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[types.Address]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[types.Address]*refMutex)}
}

// Lock blocks until addr is free and returns the matching unlock func.
func (k *keyedMutex) Lock(addr types.Address) func() {
	k.mu.Lock()
	m, ok := k.locks[addr]
	if !ok {
		m = &refMutex{}
		k.locks[addr] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, addr)
		}
		k.mu.Unlock()
	}
}

// size returns the number of tracked accounts.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
