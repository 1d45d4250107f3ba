/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package lockutil serializes work per key.
package lockutil

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed is a set of mutexes indexed by key. Entries are dropped once no one holds or waits for them.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// Lock locks key and returns the function unlocking it.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()

	if k.locks == nil {
		k.locks = map[string]*entry{}
	}

	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}

	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--

		if e.refs == 0 {
			delete(k.locks, key)
		}

		k.mu.Unlock()
	}
}

// Len returns the number of keys held or waited for.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}
