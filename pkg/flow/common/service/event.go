/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"errors"
	"sync"
)

// ErrNilChannel is returned when a nil channel is registered.
var ErrNilChannel = errors.New("channel is nil")

// StateMsgType state msg type.
type StateMsgType int

const (
	// PreState is sent before a state executes.
	PreState StateMsgType = iota
	// PostState is sent after a state executed.
	PostState
	// SubStateChanged is sent when a state reports progress within itself.
	SubStateChanged
)

func (t StateMsgType) String() string {
	switch t {
	case PreState:
		return "pre-state"
	case PostState:
		return "post-state"
	case SubStateChanged:
		return "sub-state"
	default:
		return "unknown"
	}
}

// StateMsg is used to pass state details to the consumer. Refer Event.RegisterMsgEvent.
type StateMsg struct {
	// Name of the protocol.
	ProtocolName string

	// Type of the message (pre, post or sub-state).
	Type StateMsgType

	// StateID is the current state.
	StateID string

	// Msg is the protocol message which triggered the state, if any.
	Msg MsgMap

	// Properties contains protocol specific values.
	Properties EventProperties
}

// EventProperties type for event related data.
// NOTE: Properties always should be serializable.
type EventProperties interface {
	All() map[string]interface{}
}

// Event event related apis.
type Event interface {
	// RegisterMsgEvent on protocol messages. Service will not expect any callback on these events.
	RegisterMsgEvent(ch chan<- StateMsg) error

	// UnregisterMsgEvent on protocol messages. Refer RegisterMsgEvent().
	UnregisterMsgEvent(ch chan<- StateMsg) error
}

// Message thread-safe message register structure.
type Message struct {
	mu     sync.RWMutex
	events []chan<- StateMsg
}

// MsgEvents returns event message channels.
func (m *Message) MsgEvents() []chan<- StateMsg {
	m.mu.RLock()
	events := append(m.events[:0:0], m.events...)
	m.mu.RUnlock()

	return events
}

// RegisterMsgEvent on protocol messages.
func (m *Message) RegisterMsgEvent(ch chan<- StateMsg) error {
	if ch == nil {
		return ErrNilChannel
	}

	m.mu.Lock()
	m.events = append(m.events, ch)
	m.mu.Unlock()

	return nil
}

// UnregisterMsgEvent on protocol messages. Refer RegisterMsgEvent().
// It returns once no emit is sending to ch, so ch must be drained until then.
func (m *Message) UnregisterMsgEvent(ch chan<- StateMsg) error {
	m.mu.Lock()
	for i := 0; i < len(m.events); i++ {
		if m.events[i] == ch {
			m.events = append(m.events[:i], m.events[i+1:]...)
			i--
		}
	}
	m.mu.Unlock()

	return nil
}

// Emit sends msg to every registered channel.
func (m *Message) Emit(msg StateMsg) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.events {
		ch <- msg
	}
}
