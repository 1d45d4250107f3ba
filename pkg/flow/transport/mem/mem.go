/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mem is an in-process transport. Every inbox delivers in FIFO order from its own
// goroutine, and delivery to an inbox can be held to simulate an unreachable party.
package mem

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/flow/transport"
)

// Scheme prefixes in-memory endpoints.
const Scheme = "mem://"

var logger = log.New("basket-iou/transport/mem")

// ErrUnknownEndpoint is returned when no inbox is bound to an endpoint.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Network connects in-memory inboxes.
type Network struct {
	mu      sync.Mutex
	inboxes map[string]*Inbox
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{inboxes: map[string]*Inbox{}}
}

// Endpoint returns the endpoint of the named inbox.
func Endpoint(name string) string {
	return Scheme + name
}

// Inbox returns the inbox bound to name, creating it if needed.
func (n *Network) Inbox(name string) *Inbox {
	n.mu.Lock()
	defer n.mu.Unlock()

	endpoint := Endpoint(name)

	if in, ok := n.inboxes[endpoint]; ok {
		return in
	}

	in := &Inbox{endpoint: endpoint}
	in.cond = sync.NewCond(&in.mu)
	n.inboxes[endpoint] = in

	return in
}

// Outbound returns the sending side of the network.
func (n *Network) Outbound() transport.OutboundTransport {
	return &outbound{network: n}
}

// Hold queues messages for name without delivering them.
func (n *Network) Hold(name string) {
	n.Inbox(name).setHeld(true)
}

// Release delivers the messages queued for name.
func (n *Network) Release(name string) {
	n.Inbox(name).setHeld(false)
}

func (n *Network) lookup(endpoint string) (*Inbox, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	in, ok := n.inboxes[endpoint]

	return in, ok
}

type outbound struct {
	network *Network
}

func (o *outbound) Send(data []byte, endpoint string) error {
	in, ok := o.network.lookup(endpoint)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}

	in.enqueue(append([]byte(nil), data...))

	return nil
}

func (o *outbound) Accept(endpoint string) bool {
	return strings.HasPrefix(endpoint, Scheme)
}

// Inbox is the receiving side of one party. Messages sent while the inbox is stopped or held
// stay queued.
type Inbox struct {
	endpoint string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    [][]byte
	held     bool
	running  bool
	stopping chan struct{}
	stopped  chan struct{}
}

// Endpoint implements transport.InboundTransport.
func (in *Inbox) Endpoint() string {
	return in.endpoint
}

// Start implements transport.InboundTransport.
func (in *Inbox) Start(h transport.InboundMessageHandler) error {
	if h == nil {
		return errors.New("mem inbox: handler is required")
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return fmt.Errorf("mem inbox %s already started", in.endpoint)
	}

	in.running = true
	in.stopping = make(chan struct{})
	in.stopped = make(chan struct{})

	go in.deliver(h, in.stopping, in.stopped)

	return nil
}

// Stop implements transport.InboundTransport. Queued messages are kept for the next Start.
func (in *Inbox) Stop() error {
	in.mu.Lock()

	if !in.running {
		in.mu.Unlock()

		return nil
	}

	in.running = false
	stopping, stopped := in.stopping, in.stopped
	close(stopping)
	in.cond.Broadcast()
	in.mu.Unlock()

	<-stopped

	return nil
}

// Pending returns the number of queued messages.
func (in *Inbox) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()

	return len(in.queue)
}

func (in *Inbox) enqueue(data []byte) {
	in.mu.Lock()
	in.queue = append(in.queue, data)
	in.cond.Broadcast()
	in.mu.Unlock()
}

func (in *Inbox) setHeld(held bool) {
	in.mu.Lock()
	in.held = held
	in.cond.Broadcast()
	in.mu.Unlock()
}

func (in *Inbox) deliver(h transport.InboundMessageHandler, stopping, stopped chan struct{}) {
	defer close(stopped)

	for {
		in.mu.Lock()

		for !isClosed(stopping) && (in.held || len(in.queue) == 0) {
			in.cond.Wait()
		}

		if isClosed(stopping) {
			in.mu.Unlock()

			return
		}

		data := in.queue[0]
		in.queue = in.queue[1:]
		in.mu.Unlock()

		if err := h(data); err != nil {
			logger.Errorf("%s: handle inbound message: %s", in.endpoint, err)
		}
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
