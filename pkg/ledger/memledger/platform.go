/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package memledger is a single process ledger platform: one notary enforcing uniqueness and
// time windows, and a vault per party recording finalised transactions.
package memledger

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/kms"
	"github.com/cts-etf/basket-iou/pkg/ledger"
	"github.com/cts-etf/basket-iou/pkg/ledger/contract"
)

const (
	// NotaryStore holds the notary commit log.
	NotaryStore = "memledger_notary"
	// VaultStore holds the finalised transactions of every party.
	VaultStore = "memledger_vault"

	txPrefix   = "tx_"
	saltPrefix = "salt_"
	partyTag   = "party"
)

var logger = log.New("basket-iou/ledger/memledger")

// Opt configures a Platform.
type Opt func(*Platform)

// WithClock sets the clock the notary checks time windows against.
func WithClock(clock func() time.Time) Opt {
	return func(p *Platform) {
		p.clock = clock
	}
}

// WithValidator replaces the security basket contract.
func WithValidator(v ledger.Validator) Opt {
	return func(p *Platform) {
		p.validator = v
	}
}

// WithStoreProvider sets where the notary log and the vaults are kept.
func WithStoreProvider(sp storage.Provider) Opt {
	return func(p *Platform) {
		p.storeProvider = sp
	}
}

type waiterKey struct {
	party string
	id    ledger.TxID
}

// Platform is shared by every party of a network.
type Platform struct {
	notary        ledger.Party
	notaryKey     ed25519.PrivateKey
	clock         func() time.Time
	validator     ledger.Validator
	storeProvider storage.Provider

	notaryLog storage.Store
	vault     storage.Store

	mu      sync.Mutex
	waiters map[waiterKey][]chan *ledger.FinalizedRecord
}

// New creates a platform notarised by notary, which signs with notaryKey.
func New(notary ledger.Party, notaryKey ed25519.PrivateKey, opts ...Opt) (*Platform, error) {
	if notary.IsZero() {
		return nil, errors.New("memledger: notary is required")
	}

	if len(notaryKey) != ed25519.PrivateKeySize ||
		!ledger.PublicKey(notaryKey.Public().(ed25519.PublicKey)).Equal(notary.Key) {
		return nil, errors.New("memledger: notary key does not match notary identity")
	}

	p := &Platform{
		notary:    notary,
		notaryKey: notaryKey,
		clock:     time.Now,
		validator: contract.New(),
		waiters:   map[waiterKey][]chan *ledger.FinalizedRecord{},
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.storeProvider == nil {
		p.storeProvider = mem.NewProvider()
	}

	var err error

	p.notaryLog, err = p.storeProvider.OpenStore(NotaryStore)
	if err != nil {
		return nil, fmt.Errorf("open notary store: %w", err)
	}

	p.vault, err = p.storeProvider.OpenStore(VaultStore)
	if err != nil {
		return nil, fmt.Errorf("open vault store: %w", err)
	}

	err = p.storeProvider.SetStoreConfig(VaultStore, storage.StoreConfiguration{TagNames: []string{partyTag}})
	if err != nil {
		return nil, fmt.Errorf("set vault store config: %w", err)
	}

	return p, nil
}

// Notary returns the notary of the platform.
func (p *Platform) Notary() ledger.Party {
	return p.notary
}

// Validator returns the contract applied by the platform.
func (p *Platform) Validator() ledger.Validator {
	return p.validator
}

// ForParty returns the ledger view of self, signing with keys held by km.
func (p *Platform) ForParty(self ledger.Party, km kms.KeyManager) *Ledger {
	return &Ledger{platform: p, self: self, km: km}
}

// Committed reports whether the notary has committed id.
func (p *Platform) Committed(id ledger.TxID) bool {
	_, err := p.notaryLog.Get(txPrefix + string(id))

	return err == nil
}

// Record returns the transaction recorded in the vault of party.
func (p *Platform) Record(party string, id ledger.TxID) (*ledger.FinalizedRecord, error) {
	return readRecord(p.vault, vaultKey(party, id))
}

func (p *Platform) notarize(ctx context.Context, stx *ledger.SignedTransaction,
	recordTo []ledger.Party) (*ledger.FinalizedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := stx.VerifySignatures(); err != nil {
		return nil, err
	}

	if err := p.validator.Verify(&stx.Tx); err != nil {
		return nil, err
	}

	if !stx.Tx.Notary.Key.Equal(p.notary.Key) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrWrongNotary, stx.Tx.Notary)
	}

	id, err := stx.ID()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.commit(id, stx)
	if err != nil {
		return nil, err
	}

	for _, party := range recordTo {
		if err := p.record(party.Name, id, rec); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

// commit returns the notarised record of id, committing it first if needed.
func (p *Platform) commit(id ledger.TxID, stx *ledger.SignedTransaction) (*ledger.FinalizedRecord, error) {
	committedID, err := p.notaryLog.Get(saltPrefix + stx.Tx.Salt)

	switch {
	case err == nil && ledger.TxID(committedID) != id:
		return nil, fmt.Errorf("%w: salt already used by %s", ledger.ErrConflict, committedID)
	case err == nil:
		logger.Debugf("transaction %s already notarised", id)

		return readRecord(p.notaryLog, txPrefix+string(id))
	case !errors.Is(err, storage.ErrDataNotFound):
		return nil, fmt.Errorf("read notary log: %w", err)
	}

	now := p.clock()
	if !stx.Tx.TimeWindow.Contains(now) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s)", ledger.ErrTimeWindow, now.Format(time.RFC3339Nano),
			stx.Tx.TimeWindow.From.Format(time.RFC3339Nano), stx.Tx.TimeWindow.Until.Format(time.RFC3339Nano))
	}

	sig, err := ledger.NewSignature(p.notaryKey, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("notary signature: %w", err)
	}

	rec := &ledger.FinalizedRecord{
		Transaction:     *stx,
		NotarySignature: sig,
		CommittedAt:     now.UTC(),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	err = p.notaryLog.Batch([]storage.Operation{
		{Key: txPrefix + string(id), Value: raw},
		{Key: saltPrefix + stx.Tx.Salt, Value: []byte(id)},
	})
	if err != nil {
		return nil, fmt.Errorf("write notary log: %w", err)
	}

	logger.Infof("notarised transaction %s", id)

	return rec, nil
}

func (p *Platform) record(party string, id ledger.TxID, rec *ledger.FinalizedRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := p.vault.Put(vaultKey(party, id), raw, storage.Tag{Name: partyTag, Value: party}); err != nil {
		return fmt.Errorf("write vault of %s: %w", party, err)
	}

	key := waiterKey{party: party, id: id}

	for _, ch := range p.waiters[key] {
		ch <- rec
	}

	delete(p.waiters, key)

	return nil
}

func (p *Platform) waitFor(ctx context.Context, party string, id ledger.TxID) (*ledger.FinalizedRecord, error) {
	ch := make(chan *ledger.FinalizedRecord, 1)
	key := waiterKey{party: party, id: id}

	p.mu.Lock()
	p.waiters[key] = append(p.waiters[key], ch)
	p.mu.Unlock()

	rec, err := p.Record(party, id)
	if err == nil {
		p.removeWaiter(key, ch)

		return rec, nil
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		p.removeWaiter(key, ch)

		return nil, err
	}

	select {
	case rec := <-ch:
		return rec, nil
	case <-ctx.Done():
		p.removeWaiter(key, ch)

		return nil, ctx.Err()
	}
}

func (p *Platform) removeWaiter(key waiterKey, ch chan *ledger.FinalizedRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	waiters := p.waiters[key]

	for i, w := range waiters {
		if w == ch {
			p.waiters[key] = append(waiters[:i], waiters[i+1:]...)

			break
		}
	}

	if len(p.waiters[key]) == 0 {
		delete(p.waiters, key)
	}
}

func vaultKey(party string, id ledger.TxID) string {
	return party + "/" + string(id)
}

func readRecord(store storage.Store, key string) (*ledger.FinalizedRecord, error) {
	raw, err := store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}

	rec := &ledger.FinalizedRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}

	return rec, nil
}
