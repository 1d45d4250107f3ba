/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ledger holds the basket record data model and the narrow interfaces through which
// the coordination protocol consumes the ledger platform.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrPayloadMismatch is returned when a signature verifies but covers different bytes.
	ErrPayloadMismatch = errors.New("signature is over a different payload")
	// ErrSignerNotRequired is returned when a signature is made by a key outside the required-signer set.
	ErrSignerNotRequired = errors.New("signer is not a required signer")
	// ErrNotFullySigned is returned when required signatures are missing.
	ErrNotFullySigned = errors.New("transaction is not fully signed")
	// ErrContractRejected is returned when the contract validator rejects a transaction.
	ErrContractRejected = errors.New("contract rejected transaction")
	// ErrTimeWindow is returned when a transaction is notarised outside of its time window.
	ErrTimeWindow = errors.New("transaction is outside of its time window")
	// ErrWrongNotary is returned when a transaction names a different notary.
	ErrWrongNotary = errors.New("transaction is assigned to a different notary")
	// ErrConflict is returned when a transaction id was already committed with different content.
	ErrConflict = errors.New("transaction conflicts with a committed transaction")
	// ErrKeyNotFound is returned when a signing key is not held locally.
	ErrKeyNotFound = errors.New("signing key not found")
)

// Validator applies the contract rules to a transaction.
type Validator interface {
	Verify(tx *UnsignedTransaction) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(tx *UnsignedTransaction) error

// Verify calls f(tx).
func (f ValidatorFunc) Verify(tx *UnsignedTransaction) error {
	return f(tx)
}

// Ledger is the view of the ledger platform held by one party.
type Ledger interface {
	// SignInitialTransaction validates tx against its contract and signs it with key.
	SignInitialTransaction(tx *UnsignedTransaction, key PublicKey) (*SignedTransaction, error)
	// CreateSignature validates stx and returns a signature by key over its signing bytes.
	CreateSignature(stx *SignedTransaction, key PublicKey) (Signature, error)
	// NotarizeAndFinalize notarises stx and records the result with every party in recordTo.
	NotarizeAndFinalize(ctx context.Context, stx *SignedTransaction, recordTo []Party) (*FinalizedRecord, error)
	// WaitForCommit blocks until the transaction is recorded locally or ctx is done.
	WaitForCommit(ctx context.Context, id TxID) (*FinalizedRecord, error)
}
