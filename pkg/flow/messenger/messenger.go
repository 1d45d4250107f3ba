/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messenger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/flow/dispatcher"
)

// MessengerStore is messenger store name.
const MessengerStore = "messenger_store"

// record is an internal structure and keeps payload about inbound message.
type record struct {
	Me             string `json:"me,omitempty"`
	Them           string `json:"them,omitempty"`
	ThreadID       string `json:"thread_id,omitempty"`
	ParentThreadID string `json:"parent_thread_id,omitempty"`
}

// Provider contains dependencies for the Messenger.
type Provider interface {
	OutboundDispatcher() dispatcher.Outbound
	StorageProvider() storage.Provider
}

// Messenger describes the messenger structure.
type Messenger struct {
	store      storage.Store
	dispatcher dispatcher.Outbound
}

// NewMessenger returns a new instance of the Messenger.
func NewMessenger(ctx Provider) (*Messenger, error) {
	store, err := ctx.StorageProvider().OpenStore(MessengerStore)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Messenger{
		store:      store,
		dispatcher: ctx.OutboundDispatcher(),
	}, nil
}

// HandleInbound handles all inbound messages.
func (m *Messenger) HandleInbound(msg service.MsgMap, ctx service.Context) error {
	// an incoming message cannot be without id
	if msg.ID() == "" {
		return errors.New("message-id is absent and can't be processed")
	}

	thID, err := msg.ThreadID()
	if err != nil {
		return fmt.Errorf("threadID: %w", err)
	}

	return m.saveRecord(msg.ID(), record{
		ParentThreadID: msg.ParentThreadID(),
		Me:             ctx.Me(),
		Them:           ctx.Them(),
		ThreadID:       thID,
	})
}

// Send sends the message from me to them. A message without a thread decorator starts a new thread.
func (m *Messenger) Send(msg service.MsgMap, me, them string) error {
	fillIfMissing(msg)

	return m.dispatcher.Send(msg, me, them)
}

// ReplyTo replies to the message by given msgID.
// The function adds ~thread decorator to the message according to the given msgID.
// Do not provide a message with ~thread decorator. It will be rewritten.
func (m *Messenger) ReplyTo(msgID string, msg service.MsgMap) error {
	fillIfMissing(msg)

	rec, err := m.getRecord(msgID)
	if err != nil {
		return fmt.Errorf("get record: %w", err)
	}

	msg.UnsetThread()
	msg.SetThread(rec.ThreadID, rec.ParentThreadID)

	return m.dispatcher.Send(msg, rec.Me, rec.Them)
}

// fillIfMissing populates message with common fields such as ID.
func fillIfMissing(msg service.MsgMap) {
	if msg.ID() == "" {
		msg.SetID(uuid.New().String())
	}
}

// getRecord returns message payload by msgID.
func (m *Messenger) getRecord(msgID string) (*record, error) {
	src, err := m.store.Get(msgID)
	if err != nil {
		return nil, fmt.Errorf("store get: %w", err)
	}

	var r *record
	if err = json.Unmarshal(src, &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}

	return r, nil
}

// saveRecord saves incoming message payload.
func (m *Messenger) saveRecord(msgID string, rec record) error {
	src, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return m.store.Put(msgID, src)
}
