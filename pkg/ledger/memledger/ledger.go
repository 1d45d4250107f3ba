/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memledger

import (
	"context"
	"fmt"

	"github.com/cts-etf/basket-iou/pkg/kms"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

var _ ledger.Ledger = (*Ledger)(nil)

// Ledger is the view of a Platform held by one party.
type Ledger struct {
	platform *Platform
	self     ledger.Party
	km       kms.KeyManager
}

// SignInitialTransaction implements ledger.Ledger.
func (l *Ledger) SignInitialTransaction(tx *ledger.UnsignedTransaction,
	key ledger.PublicKey) (*ledger.SignedTransaction, error) {
	if err := l.platform.validator.Verify(tx); err != nil {
		return nil, err
	}

	sig, err := l.sign(tx, key)
	if err != nil {
		return nil, err
	}

	return ledger.NewSignedTransaction(tx).WithSignature(sig)
}

// CreateSignature implements ledger.Ledger.
func (l *Ledger) CreateSignature(stx *ledger.SignedTransaction, key ledger.PublicKey) (ledger.Signature, error) {
	if err := l.platform.validator.Verify(&stx.Tx); err != nil {
		return ledger.Signature{}, err
	}

	return l.sign(&stx.Tx, key)
}

// NotarizeAndFinalize implements ledger.Ledger. The record is also kept in the vault of the caller.
func (l *Ledger) NotarizeAndFinalize(ctx context.Context, stx *ledger.SignedTransaction,
	recordTo []ledger.Party) (*ledger.FinalizedRecord, error) {
	recipients := []ledger.Party{l.self}

	for _, p := range recordTo {
		if p.Name != l.self.Name {
			recipients = append(recipients, p)
		}
	}

	return l.platform.notarize(ctx, stx, recipients)
}

// WaitForCommit implements ledger.Ledger.
func (l *Ledger) WaitForCommit(ctx context.Context, id ledger.TxID) (*ledger.FinalizedRecord, error) {
	return l.platform.waitFor(ctx, l.self.Name, id)
}

func (l *Ledger) sign(tx *ledger.UnsignedTransaction, key ledger.PublicKey) (ledger.Signature, error) {
	if !tx.IsRequiredSigner(key) {
		return ledger.Signature{}, fmt.Errorf("%w: %s", ledger.ErrSignerNotRequired, key)
	}

	payload, err := tx.SigningBytes()
	if err != nil {
		return ledger.Signature{}, err
	}

	return l.km.Sign(key, payload)
}
