/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package transport defines the delivery contracts between parties. Transports carry opaque
// envelopes; threading and addressing live in the dispatcher.
package transport

// OutboundTransport delivers envelopes to remote endpoints.
type OutboundTransport interface {
	// Send delivers data to endpoint.
	Send(data []byte, endpoint string) error
	// Accept reports whether the transport can reach endpoint.
	Accept(endpoint string) bool
}

// InboundMessageHandler handles an envelope received by an inbound transport.
type InboundMessageHandler func(data []byte) error

// InboundTransport receives envelopes for the local party.
type InboundTransport interface {
	// Start starts delivering envelopes to h.
	Start(h InboundMessageHandler) error
	// Stop stops the transport.
	Stop() error
	// Endpoint returns the address remote parties send to.
	Endpoint() string
}
