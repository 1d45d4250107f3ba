/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"nhooyr.io/websocket"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

type outboundOpts struct {
	timeout    time.Duration
	maxRetries uint64
	retryDelay time.Duration
}

// OutboundOpt is an outbound WebSocket transport option.
type OutboundOpt func(opts *outboundOpts)

// WithTimeout bounds a single delivery, from dialing to the acknowledgement.
func WithTimeout(timeout time.Duration) OutboundOpt {
	return func(opts *outboundOpts) {
		opts.timeout = timeout
	}
}

// WithRetry sets how often and how far apart failed deliveries are retried.
func WithRetry(maxRetries uint64, delay time.Duration) OutboundOpt {
	return func(opts *outboundOpts) {
		opts.maxRetries = maxRetries
		opts.retryDelay = delay
	}
}

// Outbound sends every envelope over its own WebSocket connection and waits for the acknowledgement.
type Outbound struct {
	opts outboundOpts
}

// NewOutbound creates an outbound WebSocket transport.
func NewOutbound(opts ...OutboundOpt) *Outbound {
	o := outboundOpts{
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return &Outbound{opts: o}
}

// Accept implements transport.OutboundTransport.
func (cs *Outbound) Accept(url string) bool {
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}

// Send implements transport.OutboundTransport.
func (cs *Outbound) Send(data []byte, url string) error {
	if url == "" {
		return errors.New("url is mandatory")
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(cs.opts.retryDelay), cs.opts.maxRetries)

	return backoff.RetryNotify(func() error {
		return cs.send(data, url)
	}, policy, func(err error, next time.Duration) {
		logger.Warnf("sending envelope to %s failed, retrying in %s: %s", url, next, err)
	})
}

func (cs *Outbound) send(data []byte, url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cs.opts.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket client: %w", err)
	}

	defer closeConn(conn)

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write message: %w", err)
	}

	messageType, message, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("websocket read acknowledgement: %w", err)
	}

	if messageType != websocket.MessageText || string(message) != ack {
		return backoff.Permanent(fmt.Errorf("unexpected acknowledgement from %s: %q", url, message))
	}

	return nil
}
