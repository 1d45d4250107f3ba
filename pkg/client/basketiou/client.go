/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/basketiou"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

var logger = log.New("basket-iou/client/basketiou")

// ErrUnexpectedService is returned when the registered service is not a basket-iou service.
var ErrUnexpectedService = errors.New("cast service to basket-iou service failed")

// Run is a protocol run as seen by the local party.
type Run = basketiou.Run

// provider contains dependencies for the basket-iou client and is typically created by using
// node.Context().
type provider interface {
	Service(id string) (interface{}, error)
}

// protocolService defines the basket-iou service.
type protocolService interface {
	service.Event
	Initiate(basketHash, lender string, anonymous bool, opts ...basketiou.InitiateOpt) (string, error)
	Run(piID string) (*basketiou.Run, error)
	Runs() ([]*basketiou.Run, error)
}

// Progress is a step of a run started through the client.
type Progress struct {
	PIID     string `mapstructure:"piid"`
	Role     string `mapstructure:"role"`
	State    string `mapstructure:"-"`
	SubState string `mapstructure:"subState"`
	Lender   string `mapstructure:"lender"`
	TxID     string `mapstructure:"txID"`
	Error    string `mapstructure:"error"`
	Kind     string `mapstructure:"kind"`
}

// Option configures InitiateBasketIou.
type Option func(opts *options)

type options struct {
	progress func(Progress)
}

// WithProgress calls fn with every state and sub-state the run enters.
func WithProgress(fn func(Progress)) Option {
	return func(opts *options) {
		opts.progress = fn
	}
}

// Client enables access to the basket-iou protocol.
type Client struct {
	service.Event
	svc protocolService
}

// New returns new instance of the basket-iou client.
func New(ctx provider) (*Client, error) {
	raw, err := ctx.Service(basketiou.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up service %s : %w", basketiou.Name, err)
	}

	svc, ok := raw.(protocolService)
	if !ok {
		return nil, ErrUnexpectedService
	}

	return &Client{Event: svc, svc: svc}, nil
}

// InitiateBasketIou records that the local party borrows the basket identified by basketHash
// from lender, with one-time identities when anonymous is set. It blocks until the run reaches
// a terminal state or ctx is done. A failed run returns its *basketiou.ProtocolError.
func (c *Client) InitiateBasketIou(ctx context.Context, basketHash, lender string, anonymous bool,
	opts ...Option) (*ledger.FinalizedRecord, error) {
	o := &options{}

	for _, opt := range opts {
		opt(o)
	}

	piID := uuid.New().String()
	events := make(chan service.StateMsg)
	finished := make(chan struct{}, 1)
	unregistered := make(chan struct{})

	if err := c.svc.RegisterMsgEvent(events); err != nil {
		return nil, fmt.Errorf("register events: %w", err)
	}

	go listen(piID, events, o.progress, finished, unregistered)

	defer func() {
		if err := c.svc.UnregisterMsgEvent(events); err != nil {
			logger.Warnf("unregister events: %s", err)
		}

		close(unregistered)
	}()

	if _, err := c.svc.Initiate(basketHash, lender, anonymous, basketiou.WithPIID(piID)); err != nil {
		return nil, fmt.Errorf("initiate basket-iou: %w", err)
	}

	select {
	case <-finished:
		return c.result(piID)
	case <-ctx.Done():
		return nil, fmt.Errorf("run %s: %w", piID, ctx.Err())
	}
}

// Run returns the run identified by piID.
func (c *Client) Run(piID string) (*Run, error) {
	return c.svc.Run(piID)
}

// Runs returns every run known to the local party.
func (c *Client) Runs() ([]*Run, error) {
	return c.svc.Runs()
}

func (c *Client) result(piID string) (*ledger.FinalizedRecord, error) {
	run, err := c.svc.Run(piID)
	if err != nil {
		return nil, err
	}

	if run.Err != nil {
		return nil, run.Err
	}

	return run.Record, nil
}

// listen reports the events of run piID until unregistered is closed. Events keep being
// received until then, so no emit is left blocked on events.
func listen(piID string, events <-chan service.StateMsg, progress func(Progress), finished,
	unregistered chan struct{}) {
	for {
		select {
		case msg := <-events:
			if msg.Properties == nil || msg.Properties.All()["piid"] != piID {
				continue
			}

			if progress != nil && msg.Type != service.PreState {
				progress(progressOf(msg))
			}

			if msg.Type == service.PostState && isTerminal(msg.StateID) {
				select {
				case finished <- struct{}{}:
				default:
				}
			}
		case <-unregistered:
			return
		}
	}
}

func progressOf(msg service.StateMsg) Progress {
	p := Progress{}

	if err := mapstructure.Decode(msg.Properties.All(), &p); err != nil {
		logger.Warnf("decode progress of state %s: %s", msg.StateID, err)
	}

	p.State = msg.StateID

	return p
}

func isTerminal(stateID string) bool {
	return stateID == basketiou.StateIDDone || stateID == basketiou.StateIDFailed
}
