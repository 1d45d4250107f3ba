/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	// SecurityBasketContractID identifies the contract that governs basket records.
	SecurityBasketContractID = "com.cts.etf.contracts.SecurityBasketContract"
	// IouCommand is the command issuing a basket IOU.
	IouCommand = "Iou"
)

// TxID identifies a transaction; it is derived from the signing bytes.
type TxID string

// BasketRecord is the IOU over a content addressed security basket.
type BasketRecord struct {
	BasketHash string        `json:"basketHash"`
	Lender     AbstractParty `json:"lender"`
	Borrower   AbstractParty `json:"borrower"`
}

// ParticipantKeys returns the keys required to sign the record, borrower first.
func (r *BasketRecord) ParticipantKeys() []PublicKey {
	return []PublicKey{r.Borrower.Key, r.Lender.Key}
}

// Command names the intent of a transaction and the keys that must sign it.
type Command struct {
	Name    string      `json:"name"`
	Signers []PublicKey `json:"signers"`
}

// TimeWindow bounds when a transaction may be notarised.
type TimeWindow struct {
	From  time.Time `json:"from"`
	Until time.Time `json:"until"`
}

// NewTimeWindow returns the window starting at from and lasting d.
func NewTimeWindow(from time.Time, d time.Duration) TimeWindow {
	return TimeWindow{From: from, Until: from.Add(d)}
}

// Contains reports whether t lies within [From, Until).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.Until)
}

// UnsignedTransaction is built once per run and never mutated.
type UnsignedTransaction struct {
	// Salt keeps otherwise identical transactions distinct.
	Salt       string       `json:"salt"`
	ContractID string       `json:"contractId"`
	Output     BasketRecord `json:"output"`
	Command    Command      `json:"command"`
	Notary     Party        `json:"notary"`
	TimeWindow TimeWindow   `json:"timeWindow"`
}

// SigningBytes returns the canonical bytes every signature is made over.
func (tx *UnsignedTransaction) SigningBytes() ([]byte, error) {
	b, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}

	return b, nil
}

// ID returns the transaction identifier.
func (tx *UnsignedTransaction) ID() (TxID, error) {
	b, err := tx.SigningBytes()
	if err != nil {
		return "", err
	}

	sum := blake2b.Sum256(b)

	return TxID(base58.Encode(sum[:])), nil
}

// RequiredSigners returns the keys named by the command.
func (tx *UnsignedTransaction) RequiredSigners() []PublicKey {
	return tx.Command.Signers
}

// IsRequiredSigner reports whether key is named by the command.
func (tx *UnsignedTransaction) IsRequiredSigner(key PublicKey) bool {
	return slices.ContainsFunc(tx.Command.Signers, key.Equal)
}

// SignedTransaction is an UnsignedTransaction with the signatures collected so far,
// keyed by the text form of the signing key.
type SignedTransaction struct {
	Tx         UnsignedTransaction  `json:"tx"`
	Signatures map[string]Signature `json:"signatures"`
}

// NewSignedTransaction wraps tx without any signature.
func NewSignedTransaction(tx *UnsignedTransaction) *SignedTransaction {
	return &SignedTransaction{Tx: *tx, Signatures: map[string]Signature{}}
}

// ID returns the identifier of the wrapped transaction.
func (stx *SignedTransaction) ID() (TxID, error) {
	return stx.Tx.ID()
}

// HasSignatureBy reports whether a signature by key is present.
func (stx *SignedTransaction) HasSignatureBy(key PublicKey) bool {
	_, ok := stx.Signatures[key.String()]

	return ok
}

// WithSignature returns a copy of stx carrying sig. The signature must be made by a
// required signer over the exact signing bytes of the wrapped transaction.
func (stx *SignedTransaction) WithSignature(sig Signature) (*SignedTransaction, error) {
	if !stx.Tx.IsRequiredSigner(sig.By) {
		return nil, fmt.Errorf("%w: %s", ErrSignerNotRequired, sig.By)
	}

	payload, err := stx.Tx.SigningBytes()
	if err != nil {
		return nil, err
	}

	if err := sig.Verify(payload); err != nil {
		return nil, err
	}

	signatures := maps.Clone(stx.Signatures)
	if signatures == nil {
		signatures = map[string]Signature{}
	}

	signatures[sig.By.String()] = sig

	return &SignedTransaction{Tx: stx.Tx, Signatures: signatures}, nil
}

// Missing returns the required signers without a signature, in command order.
func (stx *SignedTransaction) Missing() []PublicKey {
	var missing []PublicKey

	for _, key := range stx.Tx.Command.Signers {
		if !stx.HasSignatureBy(key) {
			missing = append(missing, key)
		}
	}

	return missing
}

// VerifySignatures checks every present signature and that all required signers,
// except the allowed missing ones, have signed.
func (stx *SignedTransaction) VerifySignatures(allowedMissing ...PublicKey) error {
	payload, err := stx.Tx.SigningBytes()
	if err != nil {
		return err
	}

	for encoded, sig := range stx.Signatures {
		if encoded != sig.By.String() {
			return fmt.Errorf("%w: signature stored under %s was made by %s", ErrInvalidSignature, encoded, sig.By)
		}

		if !stx.Tx.IsRequiredSigner(sig.By) {
			return fmt.Errorf("%w: %s", ErrSignerNotRequired, sig.By)
		}

		if err := sig.Verify(payload); err != nil {
			return err
		}
	}

	for _, key := range stx.Missing() {
		if !slices.ContainsFunc(allowedMissing, key.Equal) {
			return fmt.Errorf("%w: missing signature by %s", ErrNotFullySigned, key)
		}
	}

	return nil
}

// FullySigned reports whether every required signer has signed.
func (stx *SignedTransaction) FullySigned() bool {
	return len(stx.Missing()) == 0
}

// FinalizedRecord is a fully signed transaction with the notary's signature.
type FinalizedRecord struct {
	Transaction     SignedTransaction `json:"transaction"`
	NotarySignature Signature         `json:"notarySignature"`
	CommittedAt     time.Time         `json:"committedAt"`
}

// ID returns the identifier of the notarised transaction.
func (r *FinalizedRecord) ID() (TxID, error) {
	return r.Transaction.ID()
}

// Verify checks the participant signatures and the notary signature over the transaction id.
func (r *FinalizedRecord) Verify() error {
	if err := r.Transaction.VerifySignatures(); err != nil {
		return err
	}

	if !r.NotarySignature.By.Equal(r.Transaction.Tx.Notary.Key) {
		return fmt.Errorf("%w: notarised by %s instead of %s", ErrInvalidSignature,
			r.NotarySignature.By, r.Transaction.Tx.Notary.Key)
	}

	id, err := r.ID()
	if err != nil {
		return err
	}

	return r.NotarySignature.Verify([]byte(id))
}
