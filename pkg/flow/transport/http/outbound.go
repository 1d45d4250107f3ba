/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/cts-etf/basket-iou/pkg/common/log"
)

const (
	// ContentType is the media type of posted envelopes.
	ContentType = "application/basket-iou-envelope+json"

	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

var logger = log.New("basket-iou/transport/http")

type outboundOpts struct {
	client     *http.Client
	maxRetries uint64
	retryDelay time.Duration
}

// OutboundOpt is an outbound HTTP transport option.
type OutboundOpt func(opts *outboundOpts)

// WithOutboundHTTPClient sets the client used to post envelopes.
func WithOutboundHTTPClient(client *http.Client) OutboundOpt {
	return func(opts *outboundOpts) {
		opts.client = client
	}
}

// WithRetry sets how often and how far apart failed deliveries are retried.
func WithRetry(maxRetries uint64, delay time.Duration) OutboundOpt {
	return func(opts *outboundOpts) {
		opts.maxRetries = maxRetries
		opts.retryDelay = delay
	}
}

// Outbound posts envelopes to HTTP endpoints.
type Outbound struct {
	client     *http.Client
	maxRetries uint64
	retryDelay time.Duration
}

// NewOutbound creates an outbound HTTP transport.
func NewOutbound(opts ...OutboundOpt) *Outbound {
	o := &outboundOpts{
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}

	for _, opt := range opts {
		opt(o)
	}

	return &Outbound{client: o.client, maxRetries: o.maxRetries, retryDelay: o.retryDelay}
}

// Accept implements transport.OutboundTransport.
func (cs *Outbound) Accept(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

// Send implements transport.OutboundTransport. Server errors are retried, client errors are not.
func (cs *Outbound) Send(data []byte, url string) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(cs.retryDelay), cs.maxRetries)

	return backoff.RetryNotify(func() error {
		return cs.post(data, url)
	}, policy, func(err error, next time.Duration) {
		logger.Warnf("posting envelope to %s failed, retrying in %s: %s", url, next, err)
	})
}

func (cs *Outbound) post(data []byte, url string) error {
	resp, err := cs.client.Post(url, ContentType, bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "post envelope to %s", url)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Errorf("HTTP transport - error closing response body: %v", e)
		}
	}()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body) // nolint: errcheck
	err = errors.Errorf("received %s from %s: %s", resp.Status, url, strings.TrimSpace(string(body)))

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
		return backoff.Permanent(err)
	}

	return err
}
