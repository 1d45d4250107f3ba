/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dispatcher routes protocol messages between the messenger, the transports and the
// protocol services.
package dispatcher

import (
	"encoding/json"
	"errors"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
)

var (
	// ErrNoTransport is returned when no outbound transport accepts an endpoint.
	ErrNoTransport = errors.New("no transport found for endpoint")
	// ErrNoService is returned when no registered service accepts a message type.
	ErrNoService = errors.New("no service accepts message type")
)

// ProtocolService is a protocol service that can be registered with the dispatcher.
type ProtocolService interface {
	service.Handler
}

// Outbound sends messages to parties.
type Outbound interface {
	// Send delivers msg from me to them.
	Send(msg interface{}, me, them string) error
}

// Envelope is what travels over a transport.
type Envelope struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Message json.RawMessage `json:"message"`
}
