/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"fmt"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/identity"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

// Handler describes middleware interface.
type Handler interface {
	Handle(metadata Metadata) error
}

// Middleware function receives next handler and returns handler that needs to be executed.
type Middleware func(next Handler) Handler

// HandlerFunc is a helper type which implements the middleware Handler interface.
type HandlerFunc func(metadata Metadata) error

// Handle implements function to satisfy the Handler interface.
func (hf HandlerFunc) Handle(metadata Metadata) error {
	return hf(metadata)
}

// Metadata describes a signing request under acceptance.
type Metadata interface {
	// PIID is the run the request belongs to.
	PIID() string
	// Counterparty is the name of the party asking for the signature.
	Counterparty() string
	// Message is the inbound sign-request.
	Message() service.MsgMap
	// Transaction is the transaction to be signed.
	Transaction() *ledger.SignedTransaction
}

// nolint:gochecknoglobals
var initialHandler = HandlerFunc(func(_ Metadata) error {
	return nil
})

// chain wraps the final handler with items, the first item running first.
func chain(items ...Middleware) Handler {
	var handler Handler = initialHandler

	for i := len(items) - 1; i >= 0; i-- {
		handler = items[i](handler)
	}

	return handler
}

// BorrowerIsSender rejects requests whose borrower is not the requesting party. Anonymous
// borrowers are resolved through resolver.
func BorrowerIsSender(directory identity.Directory, resolver *identity.Resolver) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(md Metadata) error {
			borrower := md.Transaction().Tx.Output.Borrower

			var (
				owner ledger.Party
				err   error
			)

			if borrower.Anonymous() {
				owner, err = resolver.WellKnown(borrower)
			} else {
				owner, err = directory.PartyFromKey(borrower.Key)
			}

			if err != nil {
				return fmt.Errorf("resolve borrower %s: %w", borrower, err)
			}

			if owner.Name != md.Counterparty() {
				return fmt.Errorf("borrower %s is not the requesting party %s", owner.Name, md.Counterparty())
			}

			if !borrower.Anonymous() && borrower.Name != owner.Name {
				return fmt.Errorf("borrower named %s holds the key of %s", borrower.Name, owner.Name)
			}

			return next.Handle(md)
		})
	}
}
