/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/flow/transport"
)

var logger = log.New("basket-iou/dispatcher")

// EndpointResolver resolves the transport endpoint of a party.
type EndpointResolver interface {
	Endpoint(name string) (string, error)
}

// Dispatcher is the outbound dispatcher.
type Dispatcher struct {
	endpoints  EndpointResolver
	transports []transport.OutboundTransport
}

// NewOutbound returns an outbound dispatcher delivering through the first transport accepting
// the endpoint of the recipient.
func NewOutbound(endpoints EndpointResolver, transports ...transport.OutboundTransport) *Dispatcher {
	return &Dispatcher{endpoints: endpoints, transports: transports}
}

// Send implements Outbound.
func (o *Dispatcher) Send(msg interface{}, me, them string) error {
	endpoint, err := o.endpoints.Endpoint(them)
	if err != nil {
		return fmt.Errorf("outboundDispatcher.Send: resolve endpoint of %s: %w", them, err)
	}

	var outbound transport.OutboundTransport

	for _, t := range o.transports {
		if t.Accept(endpoint) {
			outbound = t

			break
		}
	}

	if outbound == nil {
		return fmt.Errorf("outboundDispatcher.Send: %w: %s", ErrNoTransport, endpoint)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("outboundDispatcher.Send: failed marshal to bytes: %w", err)
	}

	data, err := json.Marshal(&Envelope{From: me, To: them, Message: raw})
	if err != nil {
		return fmt.Errorf("outboundDispatcher.Send: failed to marshal envelope: %w", err)
	}

	if err := outbound.Send(data, endpoint); err != nil {
		return fmt.Errorf("outboundDispatcher.Send: failed to send msg using outbound transport: %w", err)
	}

	logger.Debugf("sent message from %s to %s at %s", me, them, endpoint)

	return nil
}
