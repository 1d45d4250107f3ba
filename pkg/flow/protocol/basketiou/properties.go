/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

const (
	piidPropKey     = "piid"
	rolePropKey     = "role"
	subStatePropKey = "subState"
	txIDPropKey     = "txID"
	lenderPropKey   = "lender"
	errorPropKey    = "error"
	kindPropKey     = "kind"
)

type eventProps struct {
	piid      string
	role      string
	subState  string
	them      string
	txID      ledger.TxID
	finalized *ledger.FinalizedRecord
	err       *ProtocolError
}

func newEventProps(md *metaData, subState string) *eventProps {
	return &eventProps{
		piid:      md.PIID,
		role:      md.Role,
		subState:  subState,
		them:      md.Them,
		txID:      md.TxID,
		finalized: md.Finalized,
		err:       md.err,
	}
}

// PIID returns the run id.
func (e eventProps) PIID() string {
	return e.piid
}

// Role returns the local role in the run.
func (e eventProps) Role() string {
	return e.role
}

// SubState returns the sub-state of a SubStateChanged event.
func (e eventProps) SubState() string {
	return e.subState
}

// TxID returns the id of the transaction once built.
func (e eventProps) TxID() ledger.TxID {
	return e.txID
}

// Record returns the finalized record of a done run.
func (e eventProps) Record() *ledger.FinalizedRecord {
	return e.finalized
}

// Err returns the failure of a failed run.
func (e eventProps) Err() error {
	if e.err == nil {
		return nil
	}

	return e.err
}

// All implements EventProperties interface.
func (e eventProps) All() map[string]interface{} {
	all := map[string]interface{}{
		piidPropKey: e.piid,
		rolePropKey: e.role,
	}

	if e.subState != "" {
		all[subStatePropKey] = e.subState
	}

	if e.them != "" && e.role == RoleInitiator {
		all[lenderPropKey] = e.them
	}

	if e.txID != "" {
		all[txIDPropKey] = string(e.txID)
	}

	if e.err != nil {
		all[errorPropKey] = e.err.Error()
		all[kindPropKey] = string(e.err.Kind)
	}

	return all
}
