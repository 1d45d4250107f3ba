/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"context"
	"fmt"

	"github.com/cts-etf/basket-iou/pkg/ledger"
)

// FinalityCoordinator notarises fully signed transactions and observes their commit.
type FinalityCoordinator struct {
	ledger ledger.Ledger
}

// NewFinalityCoordinator returns a coordinator finalising through l.
func NewFinalityCoordinator(l ledger.Ledger) *FinalityCoordinator {
	return &FinalityCoordinator{ledger: l}
}

// Finalize notarises stx and has the notary and every party in recordTo record the result.
func (f *FinalityCoordinator) Finalize(ctx context.Context, stx *ledger.SignedTransaction,
	recordTo ...ledger.Party) (*ledger.FinalizedRecord, error) {
	if err := stx.VerifySignatures(); err != nil {
		return nil, withKind(KindFinality, err)
	}

	id, err := stx.ID()
	if err != nil {
		return nil, err
	}

	rec, err := f.ledger.NotarizeAndFinalize(ctx, stx, recipients(stx.Tx.Notary, recordTo))
	if err != nil {
		return nil, withKind(KindFinality, fmt.Errorf("notarise %s: %w", id, err))
	}

	if err := sameTransaction(id, rec); err != nil {
		return nil, withKind(KindFinality, err)
	}

	return rec, nil
}

// AwaitCommit blocks until id is recorded locally or ctx is done.
func (f *FinalityCoordinator) AwaitCommit(ctx context.Context, id ledger.TxID) (*ledger.FinalizedRecord, error) {
	rec, err := f.ledger.WaitForCommit(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := sameTransaction(id, rec); err != nil {
		return nil, withKind(KindFinality, err)
	}

	return rec, nil
}

func sameTransaction(id ledger.TxID, rec *ledger.FinalizedRecord) error {
	if rec == nil {
		return fmt.Errorf("no record for %s", id)
	}

	got, err := rec.ID()
	if err != nil {
		return err
	}

	if got != id {
		return fmt.Errorf("%w: expected %s, got %s", ErrTxMismatch, id, got)
	}

	return nil
}

// recipients returns the notary followed by parties, without duplicates.
func recipients(notary ledger.Party, parties []ledger.Party) []ledger.Party {
	out := []ledger.Party{notary}
	seen := map[string]bool{notary.Name: true}

	for _, p := range parties {
		if seen[p.Name] {
			continue
		}

		seen[p.Name] = true

		out = append(out, p)
	}

	return out
}
