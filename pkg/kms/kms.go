/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package kms keeps the ed25519 signing keys of a party. Private key material never
// leaves the key manager; callers refer to keys by their public half.
package kms

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/cts-etf/basket-iou/pkg/ledger"
)

// Namespace is the store name used by LocalKMS.
const Namespace = "kms"

// KeyManager creates keys and signs with them.
type KeyManager interface {
	// Create generates a new key pair and returns its public key.
	Create() (ledger.PublicKey, error)
	// Sign signs payload with the private half of key.
	Sign(key ledger.PublicKey, payload []byte) (ledger.Signature, error)
	// Has reports whether the private half of key is held.
	Has(key ledger.PublicKey) bool
}

// LocalKMS stores key seeds in a local store.
type LocalKMS struct {
	store storage.Store
}

// New opens the kms store of p.
func New(p storage.Provider) (*LocalKMS, error) {
	store, err := p.OpenStore(Namespace)
	if err != nil {
		return nil, fmt.Errorf("open kms store: %w", err)
	}

	return &LocalKMS{store: store}, nil
}

// Create implements KeyManager.
func (k *LocalKMS) Create() (ledger.PublicKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	return k.Import(priv)
}

// Import stores an existing private key and returns its public key.
func (k *LocalKMS) Import(priv ed25519.PrivateKey) (ledger.PublicKey, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("import key: invalid private key size %d", len(priv))
	}

	pub := ledger.PublicKey(priv.Public().(ed25519.PublicKey))

	if err := k.store.Put(pub.String(), priv.Seed()); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}

	return pub, nil
}

// Sign implements KeyManager.
func (k *LocalKMS) Sign(key ledger.PublicKey, payload []byte) (ledger.Signature, error) {
	priv, err := k.privateKey(key)
	if err != nil {
		return ledger.Signature{}, err
	}

	return ledger.NewSignature(priv, payload)
}

// Has implements KeyManager.
func (k *LocalKMS) Has(key ledger.PublicKey) bool {
	_, err := k.privateKey(key)

	return err == nil
}

func (k *LocalKMS) privateKey(key ledger.PublicKey) (ed25519.PrivateKey, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %s", ledger.ErrKeyNotFound, key)
	}

	seed, err := k.store.Get(key.String())
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrKeyNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("read key: corrupt seed for %s", key)
	}

	return ed25519.NewKeyFromSeed(seed), nil
}
