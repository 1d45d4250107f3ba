/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/flow/transport"
)

// MessageHandler handles inbound envelopes, recording them with the messenger then dispatching
// them to a protocol service based on the message type.
type MessageHandler struct {
	me        string
	registry  *Registry
	messenger service.InboundMessenger
}

// NewInboundMessageHandler creates the inbound message handler of party me.
func NewInboundMessageHandler(me string, registry *Registry, messenger service.InboundMessenger) *MessageHandler {
	return &MessageHandler{me: me, registry: registry, messenger: messenger}
}

// HandlerFunc returns the handler as a transport.InboundMessageHandler.
func (h *MessageHandler) HandlerFunc() transport.InboundMessageHandler {
	return h.HandleInboundEnvelope
}

// HandleInboundEnvelope decodes data and dispatches the message it carries.
func (h *MessageHandler) HandleInboundEnvelope(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}

	if env.To != h.me {
		return fmt.Errorf("envelope addressed to %q delivered to %q", env.To, h.me)
	}

	if env.From == "" {
		return errors.New("envelope has no sender")
	}

	msg, err := service.NewMsgMap([]byte(env.Message))
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	if msg.ID() == "" || msg.Type() == "" {
		return errors.New("message has no id or type")
	}

	svc, err := h.registry.Lookup(msg.Type())
	if err != nil {
		return err
	}

	ctx := service.NewContext(h.me, env.From)

	if err := h.messenger.HandleInbound(msg, ctx); err != nil {
		return fmt.Errorf("messenger HandleInbound: %w", err)
	}

	if _, err := svc.HandleInbound(msg, ctx); err != nil {
		logger.Warnf("%s: handle %s from %s: %s", svc.Name(), msg.Type(), env.From, err)

		return fmt.Errorf("%s: %w", svc.Name(), err)
	}

	return nil
}
