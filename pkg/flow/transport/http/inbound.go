/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/cts-etf/basket-iou/pkg/flow/transport"
)

const (
	// InboundPath is the route envelopes are posted to.
	InboundPath = "/envelopes"

	shutdownTimeout = 5 * time.Second
	maxPayloadSize  = 1 << 20
	queueSize       = 100
)

// NewInboundHandler returns the HTTP handler passing posted envelopes to msgHandler.
func NewInboundHandler(msgHandler func(payload []byte)) (http.Handler, error) {
	if msgHandler == nil {
		return nil, errors.New("failed to create inbound handler: message handler is nil")
	}

	router := mux.NewRouter()
	router.HandleFunc(InboundPath, func(w http.ResponseWriter, r *http.Request) {
		processPOSTRequest(w, r, msgHandler)
	}).Methods(http.MethodPost)

	return router, nil
}

func processPOSTRequest(w http.ResponseWriter, r *http.Request, msgHandler func(payload []byte)) {
	if ct := r.Header.Get("Content-Type"); ct != ContentType {
		http.Error(w, fmt.Sprintf("Unsupported Content-Type %q", ct), http.StatusUnsupportedMediaType)

		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		logger.Errorf("error reading request body: %s", err)
		http.Error(w, "Failed to read payload", http.StatusInternalServerError)

		return
	}

	if len(body) == 0 {
		http.Error(w, "Empty payload", http.StatusBadRequest)

		return
	}

	msgHandler(body)

	w.WriteHeader(http.StatusAccepted)
}

// Inbound is an HTTP server receiving envelopes.
// Envelopes are queued and handled in arrival order by a single worker.
type Inbound struct {
	addr        string
	externalURL string
	server      *http.Server
	queue       chan []byte
	done        chan struct{}
}

// NewInbound creates an inbound transport listening on addr. externalURL is the base URL remote
// parties use; when empty it is derived from the listening address.
func NewInbound(addr, externalURL string) *Inbound {
	return &Inbound{addr: addr, externalURL: externalURL}
}

// Start implements transport.InboundTransport.
func (i *Inbound) Start(h transport.InboundMessageHandler) error {
	if h == nil {
		return errors.New("HTTP inbound transport: message handler is nil")
	}

	queue := make(chan []byte, queueSize)

	handler, err := NewInboundHandler(func(payload []byte) {
		queue <- payload
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", i.addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", i.addr)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: shutdownTimeout}
	i.server = srv

	if i.externalURL == "" {
		i.externalURL = "http://" + listener.Addr().String()
	}

	i.queue = queue
	i.done = make(chan struct{})

	go i.work(h, queue, i.done)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP inbound transport stopped: %s", err)
		}
	}()

	return nil
}

// Stop implements transport.InboundTransport.
func (i *Inbound) Stop() error {
	if i.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := i.server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown HTTP inbound transport")
	}

	i.server = nil

	close(i.queue)
	<-i.done

	return nil
}

func (i *Inbound) work(h transport.InboundMessageHandler, queue <-chan []byte, done chan<- struct{}) {
	defer close(done)

	for payload := range queue {
		if err := h(payload); err != nil {
			logger.Warnf("rejected inbound envelope: %s", err)
		}
	}
}

// Endpoint implements transport.InboundTransport.
func (i *Inbound) Endpoint() string {
	return i.externalURL + InboundPath
}
