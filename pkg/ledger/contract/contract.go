/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package contract implements the security basket contract rules applied before a
// transaction is signed or notarised.
package contract

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
	"golang.org/x/exp/slices"

	"github.com/cts-etf/basket-iou/pkg/ledger"
)

// rule checks the value selected by a JSON path expression.
type rule struct {
	path  string
	check func(v interface{}) error
}

// SecurityBasket validates IOU transactions over security baskets.
type SecurityBasket struct {
	rules []rule
}

// New returns the contract with the IOU rules.
func New() *SecurityBasket {
	return &SecurityBasket{
		rules: []rule{
			{path: "$.contractId", check: equals(ledger.SecurityBasketContractID)},
			{path: "$.command.name", check: equals(ledger.IouCommand)},
			{path: "$.output.basketHash", check: nonEmpty},
			{path: "$.output.lender.key", check: nonEmpty},
			{path: "$.output.borrower.key", check: nonEmpty},
			{path: "$.notary.key", check: nonEmpty},
			{path: "$.command.signers", check: count(2)},
		},
	}
}

// Verify implements ledger.Validator.
func (c *SecurityBasket) Verify(tx *ledger.UnsignedTransaction) error {
	doc, err := toDocument(tx)
	if err != nil {
		return err
	}

	for _, r := range c.rules {
		v, err := jsonpath.Get(r.path, doc)
		if err != nil {
			return fmt.Errorf("%w: %s: %s", ledger.ErrContractRejected, r.path, err.Error())
		}

		if err := r.check(v); err != nil {
			return fmt.Errorf("%w: %s %s", ledger.ErrContractRejected, r.path, err.Error())
		}
	}

	out := tx.Output

	if out.Borrower.Key.Equal(out.Lender.Key) {
		return fmt.Errorf("%w: lender and borrower must differ", ledger.ErrContractRejected)
	}

	for _, key := range out.ParticipantKeys() {
		if !slices.ContainsFunc(tx.Command.Signers, key.Equal) {
			return fmt.Errorf("%w: participant %s is not a signer", ledger.ErrContractRejected, key)
		}
	}

	if !tx.TimeWindow.Until.After(tx.TimeWindow.From) {
		return fmt.Errorf("%w: empty time window", ledger.ErrContractRejected)
	}

	return nil
}

func toDocument(tx *ledger.UnsignedTransaction) (interface{}, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}

	return doc, nil
}

func equals(expected string) func(v interface{}) error {
	return func(v interface{}) error {
		if s, ok := v.(string); !ok || s != expected {
			return fmt.Errorf("must be %q, got %v", expected, v)
		}

		return nil
	}
}

func nonEmpty(v interface{}) error {
	if s, ok := v.(string); !ok || s == "" {
		return fmt.Errorf("must not be empty")
	}

	return nil
}

func count(n int) func(v interface{}) error {
	return func(v interface{}) error {
		if items, ok := v.([]interface{}); !ok || len(items) != n {
			return fmt.Errorf("must have exactly %d entries", n)
		}

		return nil
	}
}
