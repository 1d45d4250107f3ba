/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"errors"
	"fmt"
)

// Kind classifies the failure of a run.
type Kind string

const (
	// KindIdentityResolution is a failure to resolve the participants of a run.
	KindIdentityResolution Kind = "identity-resolution"
	// KindCounterpartyRejected is a signing request declined by the lender.
	KindCounterpartyRejected Kind = "counterparty-rejected"
	// KindSignatureInvalid is a signature that does not cover the transaction or comes from the wrong key.
	KindSignatureInvalid Kind = "signature-invalid"
	// KindFinality is a transaction the notary refused.
	KindFinality Kind = "finality"
	// KindInternal is any other failure.
	KindInternal Kind = "internal"
)

var (
	// ErrInvalidBasketHash is returned when a basket hash is not valid UTF-8 text.
	ErrInvalidBasketHash = errors.New("basket hash must be valid UTF-8")
	// ErrIdentityCount is returned when an identity exchange does not yield exactly two identities.
	ErrIdentityCount = errors.New("identity exchange must yield exactly two identities")
	// ErrMissingOwnIdentity is returned when the local party has no identity after an exchange.
	ErrMissingOwnIdentity = errors.New("own identity is missing")
	// ErrMissingCounterpartyIdentity is returned when the lender has no identity after an exchange.
	ErrMissingCounterpartyIdentity = errors.New("counterparty identity is missing")
	// ErrRejected is returned when the lender declines to sign.
	ErrRejected = errors.New("signing request rejected")
	// ErrRunNotFound is returned when no run exists for an id.
	ErrRunNotFound = errors.New("run not found")
	// ErrTxMismatch is returned when a message or record refers to another transaction.
	ErrTxMismatch = errors.New("transaction id mismatch")
)

// ProtocolError is the result of a failed run.
type ProtocolError struct {
	PIID  string
	State string
	Kind  Kind
	Err   error
	// Remote is set when the failure was reported by the other party.
	Remote bool
}

func (e *ProtocolError) Error() string {
	origin := "local"
	if e.Remote {
		origin = "remote"
	}

	return fmt.Sprintf("basket-iou run %s failed at %s (%s, %s): %v", e.PIID, e.State, e.Kind, origin, e.Err)
}

// Unwrap returns the cause.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// failure is the persisted form of a ProtocolError.
type failure struct {
	State   string `json:"state"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Remote  bool   `json:"remote,omitempty"`
}

func (f *failure) protocolError(piID string) *ProtocolError {
	return &ProtocolError{PIID: piID, State: f.State, Kind: f.Kind, Err: errors.New(f.Message), Remote: f.Remote}
}

// kindError tags a cause with the kind a failing run reports.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return e.err.Error()
}

func (e *kindError) Unwrap() error {
	return e.err
}

func withKind(kind Kind, err error) error {
	return &kindError{kind: kind, err: err}
}

// kindOf returns the kind err was tagged with, KindInternal otherwise.
func kindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}

	return KindInternal
}

const (
	codeRejected         = "rejected"
	codeSignatureInvalid = "signature-invalid"
	codeFinalityFailed   = "finality-failed"
	codeIdentity         = "identity-resolution"
	codeInternal         = "internal"
)

func codeFromKind(kind Kind) string {
	switch kind {
	case KindCounterpartyRejected:
		return codeRejected
	case KindSignatureInvalid:
		return codeSignatureInvalid
	case KindFinality:
		return codeFinalityFailed
	case KindIdentityResolution:
		return codeIdentity
	default:
		return codeInternal
	}
}

func kindFromCode(code string) Kind {
	switch code {
	case codeRejected:
		return KindCounterpartyRejected
	case codeSignatureInvalid:
		return KindSignatureInvalid
	case codeFinalityFailed:
		return KindFinality
	case codeIdentity:
		return KindIdentityResolution
	default:
		return KindInternal
	}
}
