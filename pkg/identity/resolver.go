/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package identity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

var logger = log.New("basket-iou/identity")

const (
	// ResolverStore is the store name used by Resolver.
	ResolverStore = "identity_resolver"
	runTag        = "piid"
)

// mapping is the stored link from an anonymous key to its owner.
type mapping struct {
	Anonymous ledger.AnonymousParty `json:"anonymous"`
	Party     ledger.Party          `json:"party"`
	RunID     string                `json:"runId"`
}

// Resolver resolves anonymous identities learned during identity exchanges.
type Resolver struct {
	store storage.Store
}

// NewResolver opens the resolver store of p.
func NewResolver(p storage.Provider) (*Resolver, error) {
	store, err := p.OpenStore(ResolverStore)
	if err != nil {
		return nil, fmt.Errorf("open resolver store: %w", err)
	}

	if err := p.SetStoreConfig(ResolverStore, storage.StoreConfiguration{TagNames: []string{runTag}}); err != nil {
		return nil, fmt.Errorf("set resolver store config: %w", err)
	}

	return &Resolver{store: store}, nil
}

// Register links anon to party. runID is the exchange that established the link.
func (r *Resolver) Register(anon ledger.AnonymousParty, party ledger.Party, runID string) error {
	raw, err := json.Marshal(&mapping{Anonymous: anon, Party: party, RunID: runID})
	if err != nil {
		return fmt.Errorf("marshal identity mapping: %w", err)
	}

	if err := r.store.Put(anon.Key.String(), raw, storage.Tag{Name: runTag, Value: runID}); err != nil {
		return fmt.Errorf("store identity mapping: %w", err)
	}

	return nil
}

// WellKnown returns the well-known party behind p. Named parties resolve to themselves.
func (r *Resolver) WellKnown(p ledger.AbstractParty) (ledger.Party, error) {
	if !p.Anonymous() {
		return ledger.Party{Name: p.Name, Key: p.Key}, nil
	}

	raw, err := r.store.Get(p.Key.String())
	if errors.Is(err, storage.ErrDataNotFound) {
		return ledger.Party{}, fmt.Errorf("%w: %s", ErrPartyNotFound, p)
	}

	if err != nil {
		return ledger.Party{}, fmt.Errorf("read identity mapping: %w", err)
	}

	var m mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return ledger.Party{}, fmt.Errorf("unmarshal identity mapping: %w", err)
	}

	return m.Party, nil
}

// Mappings returns the anonymous identities registered by the run runID, keyed by owner name.
func (r *Resolver) Mappings(runID string) (map[string]ledger.AnonymousParty, error) {
	iter, err := r.store.Query(fmt.Sprintf("%s:%s", runTag, runID))
	if err != nil {
		return nil, fmt.Errorf("query identity mappings: %w", err)
	}

	defer storage.Close(iter, logger)

	result := map[string]ledger.AnonymousParty{}

	more, err := iter.Next()
	if err != nil {
		return nil, fmt.Errorf("iterate identity mappings: %w", err)
	}

	for more {
		raw, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("read identity mapping: %w", err)
		}

		var m mapping
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("unmarshal identity mapping: %w", err)
		}

		result[m.Party.Name] = m.Anonymous

		more, err = iter.Next()
		if err != nil {
			return nil, fmt.Errorf("iterate identity mappings: %w", err)
		}
	}

	return result, nil
}
