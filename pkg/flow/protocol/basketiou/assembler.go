/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cts-etf/basket-iou/pkg/ledger"
)

// DefaultValidityWindow is how long a built transaction may be notarised.
const DefaultValidityWindow = 30 * time.Second

// Assembler builds the record and the unsigned transaction of a run.
type Assembler struct {
	notary ledger.Party
	clock  func() time.Time
	window time.Duration
}

// NewAssembler returns an assembler assigning transactions to notary, with a validity window of
// window starting at the time returned by clock. A nil clock reads the system time.
func NewAssembler(notary ledger.Party, clock func() time.Time, window time.Duration) (*Assembler, error) {
	if notary.IsZero() {
		return nil, errors.New("assembler: notary is required")
	}

	if window <= 0 {
		return nil, errors.New("assembler: validity window must be positive")
	}

	if clock == nil {
		clock = time.Now
	}

	return &Assembler{notary: notary, clock: clock, window: window}, nil
}

// Notary returns the notary transactions are assigned to.
func (a *Assembler) Notary() ledger.Party {
	return a.notary
}

// Assemble returns the record, its required signers (borrower first) and the transaction over it.
// basketHash is not interpreted.
func (a *Assembler) Assemble(basketHash string, lender, borrower ledger.AbstractParty) (
	*ledger.BasketRecord, []ledger.PublicKey, *ledger.UnsignedTransaction) {
	record := &ledger.BasketRecord{
		BasketHash: basketHash,
		Lender:     lender,
		Borrower:   borrower,
	}

	signers := record.ParticipantKeys()

	tx := &ledger.UnsignedTransaction{
		Salt:       uuid.New().String(),
		ContractID: ledger.SecurityBasketContractID,
		Output:     *record,
		Command: ledger.Command{
			Name:    ledger.IouCommand,
			Signers: append([]ledger.PublicKey(nil), signers...),
		},
		Notary:     a.notary,
		TimeWindow: ledger.NewTimeWindow(a.clock().UTC(), a.window),
	}

	return record, signers, tx
}
