/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package swapidentities

import (
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

const (
	threadIDPropKey   = "piid"
	parentIDPropKey   = "parentThreadID"
	identitiesPropKey = "identities"
	errorPropKey      = "error"
)

type eventProps struct {
	piid       string
	parentID   string
	identities map[string]ledger.AnonymousParty
	err        error
}

func newEventProps(md *metaData) *eventProps {
	return &eventProps{
		piid:       md.ThreadID,
		parentID:   md.ParentThreadID,
		identities: identities(md),
		err:        md.err,
	}
}

// PIID returns the thread id of the exchange.
func (e eventProps) PIID() string {
	return e.piid
}

// ParentThreadID returns the thread the exchange is nested under.
func (e eventProps) ParentThreadID() string {
	return e.parentID
}

// Identities returns the identities known so far, keyed by owner name.
func (e eventProps) Identities() map[string]ledger.AnonymousParty {
	return e.identities
}

// Err returns the error that abandoned the exchange, if any.
func (e eventProps) Err() error {
	return e.err
}

// All implements EventProperties interface.
func (e eventProps) All() map[string]interface{} {
	all := map[string]interface{}{}
	if e.piid != "" {
		all[threadIDPropKey] = e.piid
	}

	if e.parentID != "" {
		all[parentIDPropKey] = e.parentID
	}

	if len(e.identities) > 0 {
		all[identitiesPropKey] = e.identities
	}

	if e.err != nil {
		all[errorPropKey] = e.err
	}

	return all
}
