/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	mockledger "github.com/cts-etf/basket-iou/pkg/internal/gomocks/ledger"
	"github.com/cts-etf/basket-iou/pkg/ledger"
	"github.com/cts-etf/basket-iou/pkg/metrics"
)

func TestCollector_SignInitial(t *testing.T) {
	f := newLedgerFixture(t)
	tx := f.unsignedTx(t, "Qm123")

	t.Run("signs with the borrower key", func(t *testing.T) {
		c := NewCollector(f.ledgerOf(f.alice), nil)

		stx, err := c.SignInitial(tx, f.alice.party.Key)
		require.NoError(t, err)
		require.True(t, stx.HasSignatureBy(f.alice.party.Key))
		require.Equal(t, []ledger.PublicKey{f.bob.party.Key}, stx.Missing())
	})

	t.Run("key outside the required signers", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		c := NewCollector(mockledger.NewMockLedger(ctrl), nil)

		_, err := c.SignInitial(tx, newKey(t))
		require.ErrorIs(t, err, ledger.ErrSignerNotRequired)
	})

	t.Run("ledger error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		l := mockledger.NewMockLedger(ctrl)
		l.EXPECT().SignInitialTransaction(tx, f.alice.party.Key).Return(nil, ledger.ErrContractRejected)

		_, err := NewCollector(l, nil).SignInitial(tx, f.alice.party.Key)
		require.ErrorIs(t, err, ledger.ErrContractRejected)
	})

	t.Run("ledger returns no signature", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		l := mockledger.NewMockLedger(ctrl)
		l.EXPECT().SignInitialTransaction(tx, f.alice.party.Key).Return(ledger.NewSignedTransaction(tx), nil)

		_, err := NewCollector(l, nil).SignInitial(tx, f.alice.party.Key)
		require.EqualError(t, err, "ledger returned no signature by "+f.alice.party.Key.String())
	})

	t.Run("ledger returns a forged signature", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		forged := ledger.NewSignedTransaction(tx)
		forged.Signatures[f.alice.party.Key.String()] = ledger.Signature{By: f.alice.party.Key, JWS: "a.b.c"}

		l := mockledger.NewMockLedger(ctrl)
		l.EXPECT().SignInitialTransaction(tx, f.alice.party.Key).Return(forged, nil)

		_, err := NewCollector(l, nil).SignInitial(tx, f.alice.party.Key)
		require.ErrorIs(t, err, ledger.ErrInvalidSignature)
	})
}

func TestCollector_Accept(t *testing.T) {
	f := newLedgerFixture(t)
	tx := f.unsignedTx(t, "Qm123")

	stx, err := f.ledgerOf(f.alice).SignInitialTransaction(tx, f.alice.party.Key)
	require.NoError(t, err)

	bobSig, err := f.ledgerOf(f.bob).CreateSignature(stx, f.bob.party.Key)
	require.NoError(t, err)

	other := f.unsignedTx(t, "Qm123")
	otherStx, err := f.ledgerOf(f.alice).SignInitialTransaction(other, f.alice.party.Key)
	require.NoError(t, err)

	sigOverOther, err := f.ledgerOf(f.bob).CreateSignature(otherStx, f.bob.party.Key)
	require.NoError(t, err)

	stranger := newTestParty(t, "Mallory")
	payload, err := tx.SigningBytes()
	require.NoError(t, err)

	strangerSig, err := stranger.km.Sign(stranger.party.Key, payload)
	require.NoError(t, err)

	tests := []struct {
		name string
		sig  ledger.Signature
		err  error
	}{
		{name: "signer outside the required set", sig: strangerSig, err: ledger.ErrSignerNotRequired},
		{name: "signer already signed", sig: stx.Signatures[f.alice.party.Key.String()], err: ErrDuplicateSignature},
		{name: "signature over another transaction", sig: sigOverOther, err: ledger.ErrPayloadMismatch},
		{
			name: "signature claimed by the lender but made by another key",
			sig:  ledger.Signature{By: f.bob.party.Key, JWS: strangerSig.JWS},
			err:  ledger.ErrInvalidSignature,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry())

			_, err := NewCollector(nil, m).Accept(stx, tc.sig)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, KindSignatureInvalid, kindOf(err))
			require.Equal(t, 1.0, testutil.ToFloat64(m.SignaturesRejected))
		})
	}

	t.Run("lender signature completes the transaction", func(t *testing.T) {
		m := metrics.New(nil)

		signed, err := NewCollector(nil, m).Accept(stx, bobSig)
		require.NoError(t, err)
		require.True(t, signed.FullySigned())
		require.NoError(t, signed.VerifySignatures())
		require.False(t, stx.FullySigned(), "input must not be modified")
		require.Equal(t, 0.0, testutil.ToFloat64(m.SignaturesRejected))
	})

	t.Run("request carries the transaction and its id", func(t *testing.T) {
		req, err := NewCollector(nil, nil).Request(stx)
		require.NoError(t, err)

		id, err := tx.ID()
		require.NoError(t, err)

		require.Equal(t, SignRequestMsgType, req.Type)
		require.Equal(t, id, req.TxID)
		require.Equal(t, *stx, req.Transaction)
	})

	t.Run("errors are not swallowed by a nil metrics", func(t *testing.T) {
		_, err := NewCollector(nil, nil).Accept(stx, strangerSig)
		require.True(t, errors.Is(err, ledger.ErrSignerNotRequired))
	})
}
