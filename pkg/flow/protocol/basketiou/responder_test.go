/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/identity"
	mockkms "github.com/cts-etf/basket-iou/pkg/internal/gomocks/kms"
	mockledger "github.com/cts-etf/basket-iou/pkg/internal/gomocks/ledger"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

func TestResponder_Countersign(t *testing.T) {
	f := newLedgerFixture(t)

	request := func(t *testing.T) *SignRequest {
		t.Helper()

		stx := f.signedByAlice(t, "Qm123")

		id, err := stx.ID()
		require.NoError(t, err)

		return &SignRequest{Type: SignRequestMsgType, TxID: id, Transaction: *stx}
	}

	t.Run("signs the exact transaction received", func(t *testing.T) {
		req := request(t)

		sig, err := NewResponder(f.ledgerOf(f.bob), f.bob.km).Countersign("run-1", alice, nil, req)
		require.NoError(t, err)
		require.True(t, sig.By.Equal(f.bob.party.Key))

		payload, err := req.Transaction.Tx.SigningBytes()
		require.NoError(t, err)
		require.NoError(t, sig.Verify(payload))
	})

	rejections := []struct {
		name   string
		tamper func(t *testing.T, req *SignRequest)
		err    error
		msg    string
	}{
		{
			name: "request names another transaction",
			tamper: func(t *testing.T, req *SignRequest) {
				req.TxID = "another"
			},
			err: ErrTxMismatch,
		},
		{
			name: "extra required signer",
			tamper: func(t *testing.T, req *SignRequest) {
				req.Transaction.Tx.Command.Signers = append(req.Transaction.Tx.Command.Signers, newKey(t))
				resetID(t, req)
			},
			msg: "3 required signers for 2 participants",
		},
		{
			name: "required signer is not a participant",
			tamper: func(t *testing.T, req *SignRequest) {
				req.Transaction.Tx.Command.Signers[1] = newKey(t)
				resetID(t, req)
			},
			msg: "is not a required signer",
		},
		{
			name: "borrower has not signed",
			tamper: func(t *testing.T, req *SignRequest) {
				req.Transaction.Signatures = map[string]ledger.Signature{}
			},
			err: ledger.ErrNotFullySigned,
		},
		{
			name: "borrower signature does not verify",
			tamper: func(t *testing.T, req *SignRequest) {
				req.Transaction.Tx.Output.BasketHash = "QmOther"
				req.Transaction.Tx.Command.Signers = req.Transaction.Tx.Output.ParticipantKeys()
				resetID(t, req)
			},
			err: ledger.ErrPayloadMismatch,
		},
	}

	for _, tc := range rejections {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := request(t)
			tc.tamper(t, req)

			_, err := NewResponder(f.ledgerOf(f.bob), f.bob.km).Countersign("run-1", alice, nil, req)
			require.ErrorIs(t, err, ErrRejected)
			require.Equal(t, KindCounterpartyRejected, kindOf(err))

			if tc.err != nil {
				require.ErrorContains(t, err, tc.err.Error())
			}

			if tc.msg != "" {
				require.ErrorContains(t, err, tc.msg)
			}
		})
	}

	t.Run("no required signer held locally", func(t *testing.T) {
		_, err := NewResponder(f.ledgerOf(f.alice), newTestParty(t, "Carol").km).Countersign("run-1", alice, nil, request(t))
		require.ErrorIs(t, err, ErrRejected)
		require.ErrorContains(t, err, ledger.ErrKeyNotFound.Error())
	})

	t.Run("signs with the only missing key held locally", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		km := mockkms.NewMockKeyManager(ctrl)
		km.EXPECT().Has(gomock.Any()).DoAndReturn(func(key ledger.PublicKey) bool {
			return key.Equal(f.bob.party.Key)
		}).MinTimes(1)

		sig, err := NewResponder(f.ledgerOf(f.bob), km).Countersign("run-1", alice, nil, request(t))
		require.NoError(t, err)
		require.True(t, sig.By.Equal(f.bob.party.Key))
	})

	t.Run("middlewares run in order and see the request", func(t *testing.T) {
		var calls []string

		first := func(next Handler) Handler {
			return HandlerFunc(func(md Metadata) error {
				calls = append(calls, "first")

				require.Equal(t, "run-1", md.PIID())
				require.Equal(t, alice, md.Counterparty())
				require.Equal(t, "m-1", md.Message().ID())
				require.Equal(t, "Qm123", md.Transaction().Tx.Output.BasketHash)

				return next.Handle(md)
			})
		}

		second := func(next Handler) Handler {
			return HandlerFunc(func(md Metadata) error {
				calls = append(calls, "second")

				return errors.New("basket not on the allow list")
			})
		}

		l := f.ledgerOf(f.bob)

		_, err := NewResponder(l, f.bob.km, first, second).Countersign("run-1", alice,
			service.MsgMap{"@id": "m-1"}, request(t))
		require.ErrorIs(t, err, ErrRejected)
		require.ErrorContains(t, err, "basket not on the allow list")
		require.Equal(t, []string{"first", "second"}, calls)
	})

	t.Run("ledger refuses to sign", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		l := mockledger.NewMockLedger(ctrl)
		l.EXPECT().CreateSignature(gomock.Any(), f.bob.party.Key).Return(ledger.Signature{}, ledger.ErrContractRejected)

		_, err := NewResponder(l, f.bob.km).Countersign("run-1", alice, nil, request(t))
		require.ErrorIs(t, err, ErrRejected)
		require.ErrorContains(t, err, ledger.ErrContractRejected.Error())
	})

	t.Run("ledger signs another payload", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		other := f.signedByAlice(t, "QmOther")
		otherSig, err := f.ledgerOf(f.bob).CreateSignature(other, f.bob.party.Key)
		require.NoError(t, err)

		l := mockledger.NewMockLedger(ctrl)
		l.EXPECT().CreateSignature(gomock.Any(), f.bob.party.Key).Return(otherSig, nil)

		_, err = NewResponder(l, f.bob.km).Countersign("run-1", alice, nil, request(t))
		require.ErrorIs(t, err, ErrRejected)
		require.ErrorContains(t, err, ledger.ErrPayloadMismatch.Error())
	})
}

func TestBorrowerIsSender(t *testing.T) {
	f := newLedgerFixture(t)

	resolver, err := identity.NewResolver(f.bob.store)
	require.NoError(t, err)

	handle := func(tx *ledger.SignedTransaction, from string) error {
		return BorrowerIsSender(f.dir, resolver)(initialHandler).Handle(&signingRequest{
			piID:         "run-1",
			counterparty: from,
			stx:          tx,
		})
	}

	t.Run("named borrower", func(t *testing.T) {
		stx := f.signedByAlice(t, "Qm123")

		require.NoError(t, handle(stx, alice))
		require.ErrorContains(t, handle(stx, "Carol"), "is not the requesting party Carol")
	})

	t.Run("named borrower with the key of someone else", func(t *testing.T) {
		stx := f.signedByAlice(t, "Qm123")
		stx.Tx.Output.Borrower.Name = "Carol"

		require.ErrorContains(t, handle(stx, alice), "borrower named Carol holds the key of "+alice)
	})

	t.Run("unknown borrower key", func(t *testing.T) {
		stx := f.signedByAlice(t, "Qm123")
		stx.Tx.Output.Borrower.Key = newKey(t)

		require.ErrorIs(t, handle(stx, alice), identity.ErrPartyNotFound)
	})

	t.Run("anonymous borrower", func(t *testing.T) {
		anon := ledger.AnonymousParty{Key: newKey(t)}
		stx := f.signedByAlice(t, "Qm123")
		stx.Tx.Output.Borrower = anon.Abstract()

		require.ErrorIs(t, handle(stx, alice), identity.ErrPartyNotFound)

		require.NoError(t, resolver.Register(anon, f.alice.party, "run-1"))
		require.NoError(t, handle(stx, alice))
	})
}

// resetID makes the request name its tampered transaction.
func resetID(t *testing.T, req *SignRequest) {
	t.Helper()

	id, err := req.Transaction.ID()
	require.NoError(t, err)

	req.TxID = id
}
