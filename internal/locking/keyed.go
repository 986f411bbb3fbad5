// Package locking provides per-key mutual exclusion.
//
// Each order (with its hold, shipment, and active dispute) is the unit of
// concurrency control: all mutations on one order id serialize while orders
// for different buyers and sellers proceed in parallel. The same discipline
// applies per wallet for ledger writes. Single-instance only; horizontal
// scaling replaces this with distributed locking or database-level
// optimistic concurrency.
package locking

import "sync"

// KeyedMutex serializes callers per key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking until it is available.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key. The entry is dropped once no caller
// holds or waits on it, so the map does not grow with order count.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
