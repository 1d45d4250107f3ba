/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/flow/transport"
)

var logger = log.New("basket-iou/transport/ws")

const (
	// InboundPath is the route parties open their connections on.
	InboundPath = "/ws"

	maxPayloadSize  = 1 << 20
	queueSize       = 100
	shutdownTimeout = 5 * time.Second

	// ack is written back for every envelope taken in.
	ack = "ok"
)

// Inbound is a WebSocket server receiving envelopes. Every received envelope is acknowledged
// and handled in arrival order by a single worker.
type Inbound struct {
	addr        string
	externalURL string

	server *http.Server
	cancel context.CancelFunc
	conns  sync.WaitGroup
	queue  chan []byte
	done   chan struct{}
}

// NewInbound creates an inbound transport listening on addr. externalURL is the base URL remote
// parties dial; when empty it is derived from the listening address.
func NewInbound(addr, externalURL string) *Inbound {
	return &Inbound{addr: addr, externalURL: externalURL}
}

// Start implements transport.InboundTransport.
func (i *Inbound) Start(h transport.InboundMessageHandler) error {
	if h == nil {
		return errors.New("websocket inbound transport: message handler is nil")
	}

	listener, err := net.Listen("tcp", i.addr)
	if err != nil {
		return fmt.Errorf("websocket server start failed: %w", err)
	}

	if i.externalURL == "" {
		i.externalURL = "ws://" + listener.Addr().String()
	}

	ctx, cancel := context.WithCancel(context.Background())

	i.cancel = cancel
	i.queue = make(chan []byte, queueSize)
	i.done = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(InboundPath, func(w http.ResponseWriter, r *http.Request) {
		i.conns.Add(1)
		defer i.conns.Done()

		i.processRequest(ctx, w, r)
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	i.server = srv

	go work(h, i.queue, i.done)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("websocket server on [%s] stopped: %s", listener.Addr(), err)
		}
	}()

	return nil
}

// Stop implements transport.InboundTransport. Open connections are closed.
func (i *Inbound) Stop() error {
	if i.server == nil {
		return nil
	}

	i.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := i.server.Shutdown(ctx)

	i.server = nil

	i.conns.Wait()
	close(i.queue)
	<-i.done

	if err != nil {
		return fmt.Errorf("websocket server shutdown failed: %w", err)
	}

	return nil
}

// Endpoint implements transport.InboundTransport.
func (i *Inbound) Endpoint() string {
	return i.externalURL + InboundPath
}

func (i *Inbound) processRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Errorf("failed to upgrade the connection: %s", err)

		return
	}

	defer closeConn(conn)

	conn.SetReadLimit(maxPayloadSize)

	for {
		_, message, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && ctx.Err() == nil {
				logger.Errorf("error reading request message: %s", err)
			}

			return
		}

		select {
		case i.queue <- message:
		case <-ctx.Done():
			return
		}

		if err := conn.Write(ctx, websocket.MessageText, []byte(ack)); err != nil {
			logger.Errorf("error writing the acknowledgement: %s", err)

			return
		}
	}
}

func work(h transport.InboundMessageHandler, queue <-chan []byte, done chan<- struct{}) {
	defer close(done)

	for payload := range queue {
		if err := h(payload); err != nil {
			logger.Warnf("rejected inbound envelope: %s", err)
		}
	}
}

func closeConn(conn *websocket.Conn) {
	err := conn.Close(websocket.StatusNormalClosure, "closing the connection")
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		logger.Debugf("connection close error: %s", err)
	}
}
