/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package identity resolves party names, keys and endpoints, and keeps the mapping from
// one-time anonymous identities back to the well-known parties that own them.
package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"github.com/cts-etf/basket-iou/pkg/ledger"
)

// ErrPartyNotFound is returned when a party is unknown to the directory.
var ErrPartyNotFound = errors.New("party not found")

// Directory is the network map of well-known parties.
type Directory interface {
	// Party returns the well-known party registered under name.
	Party(name string) (ledger.Party, error)
	// PartyFromKey returns the well-known party owning key.
	PartyFromKey(key ledger.PublicKey) (ledger.Party, error)
	// Endpoint returns the transport endpoint of the named party.
	Endpoint(name string) (string, error)
}

// Entry is a directory record.
type Entry struct {
	Party    ledger.Party
	Endpoint string
}

// StaticDirectory is an in-memory Directory populated by Add.
type StaticDirectory struct {
	mu      sync.RWMutex
	byName  map[string]Entry
	keyName map[string]string
}

// NewStaticDirectory returns a directory holding entries.
func NewStaticDirectory(entries ...Entry) *StaticDirectory {
	d := &StaticDirectory{
		byName:  map[string]Entry{},
		keyName: map[string]string{},
	}

	for _, e := range entries {
		d.Add(e)
	}

	return d
}

// Add registers or replaces an entry.
func (d *StaticDirectory) Add(e Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.byName[e.Party.Name]; ok {
		delete(d.keyName, old.Party.Key.String())
	}

	d.byName[e.Party.Name] = e
	d.keyName[e.Party.Key.String()] = e.Party.Name
}

// Party implements Directory.
func (d *StaticDirectory) Party(name string) (ledger.Party, error) {
	e, err := d.entry(name)
	if err != nil {
		return ledger.Party{}, err
	}

	return e.Party, nil
}

// PartyFromKey implements Directory.
func (d *StaticDirectory) PartyFromKey(key ledger.PublicKey) (ledger.Party, error) {
	d.mu.RLock()
	name, ok := d.keyName[key.String()]
	d.mu.RUnlock()

	if !ok {
		return ledger.Party{}, fmt.Errorf("%w: key %s", ErrPartyNotFound, key)
	}

	return d.Party(name)
}

// Endpoint implements Directory.
func (d *StaticDirectory) Endpoint(name string) (string, error) {
	e, err := d.entry(name)
	if err != nil {
		return "", err
	}

	if e.Endpoint == "" {
		return "", fmt.Errorf("%w: %s has no endpoint", ErrPartyNotFound, name)
	}

	return e.Endpoint, nil
}

func (d *StaticDirectory) entry(name string) (Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.byName[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrPartyNotFound, name)
	}

	return e, nil
}

const (
	defaultCacheSize = 100
	defaultCacheTTL  = 5 * time.Minute
)

// CachingDirectory caches the lookups of another Directory.
type CachingDirectory struct {
	next    Directory
	parties gcache.Cache
	owners  gcache.Cache
}

// CacheOpt configures a CachingDirectory.
type CacheOpt func(*cacheOpts)

type cacheOpts struct {
	size int
	ttl  time.Duration
}

// WithCacheSize sets the number of entries kept per lookup kind.
func WithCacheSize(size int) CacheOpt {
	return func(o *cacheOpts) {
		o.size = size
	}
}

// WithCacheTTL sets how long an entry stays cached.
func WithCacheTTL(ttl time.Duration) CacheOpt {
	return func(o *cacheOpts) {
		o.ttl = ttl
	}
}

// NewCachingDirectory returns a directory caching next.
func NewCachingDirectory(next Directory, opts ...CacheOpt) *CachingDirectory {
	o := &cacheOpts{size: defaultCacheSize, ttl: defaultCacheTTL}

	for _, opt := range opts {
		opt(o)
	}

	return &CachingDirectory{
		next: next,
		parties: gcache.New(o.size).LRU().Expiration(o.ttl).
			LoaderFunc(func(k interface{}) (interface{}, error) {
				return next.Party(k.(string))
			}).Build(),
		owners: gcache.New(o.size).LRU().Expiration(o.ttl).
			LoaderFunc(func(k interface{}) (interface{}, error) {
				key, err := ledger.ParsePublicKey(k.(string))
				if err != nil {
					return nil, err
				}

				return next.PartyFromKey(key)
			}).Build(),
	}
}

// Party implements Directory.
func (c *CachingDirectory) Party(name string) (ledger.Party, error) {
	v, err := c.parties.Get(name)
	if err != nil {
		return ledger.Party{}, err
	}

	return v.(ledger.Party), nil
}

// PartyFromKey implements Directory.
func (c *CachingDirectory) PartyFromKey(key ledger.PublicKey) (ledger.Party, error) {
	v, err := c.owners.Get(key.String())
	if err != nil {
		return ledger.Party{}, err
	}

	return v.(ledger.Party), nil
}

// Endpoint implements Directory. Endpoints are not cached.
func (c *CachingDirectory) Endpoint(name string) (string, error) {
	return c.next.Endpoint(name)
}

// Purge drops every cached entry.
func (c *CachingDirectory) Purge() {
	c.parties.Purge()
	c.owners.Purge()
}
