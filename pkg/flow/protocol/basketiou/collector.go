/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"errors"
	"fmt"

	"github.com/cts-etf/basket-iou/pkg/ledger"
	"github.com/cts-etf/basket-iou/pkg/metrics"
)

// ErrDuplicateSignature is returned for a signature by a signer that has already signed.
var ErrDuplicateSignature = errors.New("signer has already signed")

// Collector drives the initiator's transaction to full signature coverage.
type Collector struct {
	ledger  ledger.Ledger
	metrics *metrics.Metrics
}

// NewCollector returns a collector signing through l.
func NewCollector(l ledger.Ledger, m *metrics.Metrics) *Collector {
	return &Collector{ledger: l, metrics: m}
}

// SignInitial signs tx with the borrower key.
func (c *Collector) SignInitial(tx *ledger.UnsignedTransaction, key ledger.PublicKey) (*ledger.SignedTransaction, error) {
	if !tx.IsRequiredSigner(key) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrSignerNotRequired, key)
	}

	stx, err := c.ledger.SignInitialTransaction(tx, key)
	if err != nil {
		return nil, fmt.Errorf("sign initial transaction: %w", err)
	}

	if !stx.HasSignatureBy(key) {
		return nil, fmt.Errorf("ledger returned no signature by %s", key)
	}

	others := stx.Missing()

	if err := stx.VerifySignatures(others...); err != nil {
		return nil, fmt.Errorf("verify initial signature: %w", err)
	}

	return stx, nil
}

// Request returns the sign-request carrying stx.
func (c *Collector) Request(stx *ledger.SignedTransaction) (*SignRequest, error) {
	id, err := stx.ID()
	if err != nil {
		return nil, err
	}

	return &SignRequest{
		Type:        SignRequestMsgType,
		TxID:        id,
		Transaction: *stx,
	}, nil
}

// Accept adds sig to stx. The signer must be a required signer that has not signed yet and the
// signature must cover the exact signing bytes of the transaction. The result must be fully signed.
func (c *Collector) Accept(stx *ledger.SignedTransaction, sig ledger.Signature) (*ledger.SignedTransaction, error) {
	signed, err := c.accept(stx, sig)
	if err != nil {
		c.metrics.RecordRejectedSignature()

		return nil, withKind(KindSignatureInvalid, err)
	}

	return signed, nil
}

func (c *Collector) accept(stx *ledger.SignedTransaction, sig ledger.Signature) (*ledger.SignedTransaction, error) {
	if !stx.Tx.IsRequiredSigner(sig.By) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrSignerNotRequired, sig.By)
	}

	if stx.HasSignatureBy(sig.By) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSignature, sig.By)
	}

	signed, err := stx.WithSignature(sig)
	if err != nil {
		return nil, err
	}

	if err := signed.VerifySignatures(); err != nil {
		return nil, err
	}

	return signed, nil
}
