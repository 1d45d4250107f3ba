/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/kms"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

// Responder decides whether the lender signs a requested transaction.
type Responder struct {
	ledger     ledger.Ledger
	km         kms.KeyManager
	mu         sync.RWMutex
	middleware Handler
}

// NewResponder returns a responder signing through l with keys held by km. Requests must pass
// every middleware, in order.
func NewResponder(l ledger.Ledger, km kms.KeyManager, items ...Middleware) *Responder {
	return &Responder{ledger: l, km: km, middleware: chain(items...)}
}

// Use replaces the acceptance middlewares.
func (r *Responder) Use(items ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.middleware = chain(items...)
}

func (r *Responder) handler() Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.middleware
}

type signingRequest struct {
	piID         string
	counterparty string
	msg          service.MsgMap
	stx          *ledger.SignedTransaction
}

func (r *signingRequest) PIID() string                           { return r.piID }
func (r *signingRequest) Counterparty() string                   { return r.counterparty }
func (r *signingRequest) Message() service.MsgMap                { return r.msg }
func (r *signingRequest) Transaction() *ledger.SignedTransaction { return r.stx }

// Countersign checks req and returns the local signature over its transaction. Every refusal
// wraps ErrRejected.
func (r *Responder) Countersign(piID, counterparty string, msg service.MsgMap, req *SignRequest) (
	ledger.Signature, error) {
	sig, err := r.countersign(piID, counterparty, msg, req)
	if err != nil {
		return ledger.Signature{}, withKind(KindCounterpartyRejected, fmt.Errorf("%w: %s", ErrRejected, err.Error()))
	}

	return sig, nil
}

func (r *Responder) countersign(piID, counterparty string, msg service.MsgMap, req *SignRequest) (
	ledger.Signature, error) {
	stx := &req.Transaction

	id, err := stx.ID()
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("decode transaction: %w", err)
	}

	if id != req.TxID {
		return ledger.Signature{}, fmt.Errorf("%w: request names %s, transaction is %s", ErrTxMismatch, req.TxID, id)
	}

	if err := signersMatchParticipants(&stx.Tx); err != nil {
		return ledger.Signature{}, err
	}

	if !stx.HasSignatureBy(stx.Tx.Output.Borrower.Key) {
		return ledger.Signature{}, fmt.Errorf("%w: no signature by the borrower", ledger.ErrNotFullySigned)
	}

	if err := stx.VerifySignatures(stx.Missing()...); err != nil {
		return ledger.Signature{}, fmt.Errorf("verify sender signatures: %w", err)
	}

	own, err := r.ownKey(stx)
	if err != nil {
		return ledger.Signature{}, err
	}

	err = r.handler().Handle(&signingRequest{piID: piID, counterparty: counterparty, msg: msg, stx: stx})
	if err != nil {
		return ledger.Signature{}, err
	}

	sig, err := r.ledger.CreateSignature(stx, own)
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("create signature: %w", err)
	}

	payload, err := stx.Tx.SigningBytes()
	if err != nil {
		return ledger.Signature{}, err
	}

	if !sig.By.Equal(own) {
		return ledger.Signature{}, fmt.Errorf("ledger signed with %s instead of %s", sig.By, own)
	}

	if err := sig.Verify(payload); err != nil {
		return ledger.Signature{}, fmt.Errorf("verify own signature: %w", err)
	}

	return sig, nil
}

// ownKey returns the missing required signer held by the local KMS.
func (r *Responder) ownKey(stx *ledger.SignedTransaction) (ledger.PublicKey, error) {
	for _, key := range stx.Missing() {
		if r.km.Has(key) {
			return key, nil
		}
	}

	return nil, fmt.Errorf("%w: no required signer is held locally", ledger.ErrKeyNotFound)
}

// signersMatchParticipants checks that the required signers are exactly the output participants.
func signersMatchParticipants(tx *ledger.UnsignedTransaction) error {
	participants := tx.Output.ParticipantKeys()
	signers := tx.RequiredSigners()

	if len(signers) != len(participants) {
		return fmt.Errorf("%d required signers for %d participants", len(signers), len(participants))
	}

	for _, key := range participants {
		if !slices.ContainsFunc(signers, key.Equal) {
			return fmt.Errorf("participant %s is not a required signer", key)
		}
	}

	if participants[0].Equal(participants[1]) {
		return fmt.Errorf("borrower and lender share key %s", participants[0])
	}

	return nil
}
