/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

// Thread thread data.
type Thread struct {
	ID  string `json:"thid,omitempty"`
	PID string `json:"pthid,omitempty"`
}

// SignRequest asks the lender to countersign a transaction already signed by the borrower.
type SignRequest struct {
	ID          string                   `json:"@id,omitempty"`
	Type        string                   `json:"@type,omitempty"`
	Thread      *Thread                  `json:"~thread,omitempty"`
	TxID        ledger.TxID              `json:"txId"`
	Transaction ledger.SignedTransaction `json:"transaction"`
}

// SignatureMsg carries the lender's signature over the requested transaction.
type SignatureMsg struct {
	ID        string           `json:"@id,omitempty"`
	Type      string           `json:"@type,omitempty"`
	Thread    *Thread          `json:"~thread,omitempty"`
	TxID      ledger.TxID      `json:"txId"`
	Signature ledger.Signature `json:"signature"`
}

// ProblemReport problem report definition.
type ProblemReport struct {
	ID      string  `json:"@id,omitempty"`
	Type    string  `json:"@type,omitempty"`
	Thread  *Thread `json:"~thread,omitempty"`
	Code    string  `json:"code"`
	Comment string  `json:"comment,omitempty"`
}
