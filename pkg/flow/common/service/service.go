/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package service holds the message model, event and messenger contracts shared by the
// protocol services and the messaging layer.
package service

// Context is the pair of parties a message travels between.
type Context interface {
	// Me is the name of the local party.
	Me() string
	// Them is the name of the remote party.
	Them() string
}

type context struct {
	me, them string
}

// NewContext returns the context of a message between me and them.
func NewContext(me, them string) Context {
	return &context{me: me, them: them}
}

func (c *context) Me() string {
	return c.me
}

func (c *context) Them() string {
	return c.them
}

// InboundHandler is a handler for inbound messages.
type InboundHandler interface {
	// HandleInbound handles the message and returns its thread id.
	HandleInbound(msg MsgMap, ctx Context) (string, error)
}

// Handler is a protocol service.
type Handler interface {
	InboundHandler
	// Name of the protocol.
	Name() string
	// Accept reports whether the service handles msgType.
	Accept(msgType string) bool
}

// Messenger provides methods for the communication.
type Messenger interface {
	// ReplyTo replies to the message by given msgID, on the same thread.
	ReplyTo(msgID string, msg MsgMap) error

	// Send sends the message from me to them. A thread decorator already on the message is kept,
	// otherwise the message opens a new thread.
	Send(msg MsgMap, me, them string) error
}

// InboundMessenger includes Messenger and records inbound messages so that they can be replied to.
type InboundMessenger interface {
	Messenger
	// HandleInbound records the inbound message.
	HandleInbound(msg MsgMap, ctx Context) error
}
