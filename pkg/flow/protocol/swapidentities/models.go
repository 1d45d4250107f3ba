/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package swapidentities

import (
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

// Thread is the thread decorator.
type Thread struct {
	ID  string `json:"thid,omitempty"`
	PID string `json:"pthid,omitempty"`
}

// Identity announces a freshly minted anonymous key. Proof is made by the sender's well-known key
// and Possession by the anonymous key, both over the same payload.
type Identity struct {
	ID           string           `json:"@id,omitempty"`
	Type         string           `json:"@type,omitempty"`
	Thread       *Thread          `json:"~thread,omitempty"`
	AnonymousKey ledger.PublicKey `json:"anonymousKey"`
	Proof        ledger.Signature `json:"proof"`
	Possession   ledger.Signature `json:"possession"`
}

// ProblemReport aborts an exchange.
type ProblemReport struct {
	ID      string  `json:"@id,omitempty"`
	Type    string  `json:"@type,omitempty"`
	Thread  *Thread `json:"~thread,omitempty"`
	Code    string  `json:"code"`
	Comment string  `json:"comment,omitempty"`
}
