/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package contract

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cts-etf/basket-iou/pkg/ledger"
)

func newKey(t *testing.T) ledger.PublicKey {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return ledger.PublicKey(pub)
}

func validTx(t *testing.T) *ledger.UnsignedTransaction {
	t.Helper()

	out := ledger.BasketRecord{
		BasketHash: "Qm123",
		Lender:     ledger.Party{Name: "PartyB", Key: newKey(t)}.Abstract(),
		Borrower:   ledger.AnonymousParty{Key: newKey(t)}.Abstract(),
	}

	return &ledger.UnsignedTransaction{
		Salt:       "salt",
		ContractID: ledger.SecurityBasketContractID,
		Output:     out,
		Command:    ledger.Command{Name: ledger.IouCommand, Signers: out.ParticipantKeys()},
		Notary:     ledger.Party{Name: "Notary", Key: newKey(t)},
		TimeWindow: ledger.NewTimeWindow(time.Now(), 30*time.Second),
	}
}

func TestSecurityBasket_Verify(t *testing.T) {
	c := New()

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, c.Verify(validTx(t)))
	})

	tests := []struct {
		name   string
		mutate func(tx *ledger.UnsignedTransaction)
		errMsg string
	}{
		{
			name:   "wrong contract",
			mutate: func(tx *ledger.UnsignedTransaction) { tx.ContractID = "other" },
			errMsg: "$.contractId",
		},
		{
			name:   "wrong command",
			mutate: func(tx *ledger.UnsignedTransaction) { tx.Command.Name = "Settle" },
			errMsg: "$.command.name",
		},
		{
			name:   "empty basket hash",
			mutate: func(tx *ledger.UnsignedTransaction) { tx.Output.BasketHash = "" },
			errMsg: "$.output.basketHash",
		},
		{
			name: "extra signer",
			mutate: func(tx *ledger.UnsignedTransaction) {
				tx.Command.Signers = append(tx.Command.Signers, tx.Notary.Key)
			},
			errMsg: "exactly 2",
		},
		{
			name: "participant not a signer",
			mutate: func(tx *ledger.UnsignedTransaction) {
				tx.Command.Signers = []ledger.PublicKey{tx.Output.Borrower.Key, tx.Notary.Key}
			},
			errMsg: "is not a signer",
		},
		{
			name: "same lender and borrower",
			mutate: func(tx *ledger.UnsignedTransaction) {
				tx.Output.Lender.Key = tx.Output.Borrower.Key
			},
			errMsg: "must differ",
		},
		{
			name: "empty time window",
			mutate: func(tx *ledger.UnsignedTransaction) {
				tx.TimeWindow.Until = tx.TimeWindow.From
			},
			errMsg: "empty time window",
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			tx := validTx(t)
			tc.mutate(tx)

			err := c.Verify(tx)
			require.ErrorIs(t, err, ledger.ErrContractRejected)
			require.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
