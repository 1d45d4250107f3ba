/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package node assembles a basket-iou party: its keys, storage, ledger view, transports and
// protocol services.
package node

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/flow/dispatcher"
	"github.com/cts-etf/basket-iou/pkg/flow/messenger"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/basketiou"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/swapidentities"
	"github.com/cts-etf/basket-iou/pkg/flow/transport"
	"github.com/cts-etf/basket-iou/pkg/framework/context"
	"github.com/cts-etf/basket-iou/pkg/identity"
	"github.com/cts-etf/basket-iou/pkg/kms"
	"github.com/cts-etf/basket-iou/pkg/ledger"
	"github.com/cts-etf/basket-iou/pkg/ledger/memledger"
	"github.com/cts-etf/basket-iou/pkg/metrics"
)

var logger = log.New("basket-iou/framework/node")

// LedgerCreator returns the ledger view of self, signing with keys held by km.
type LedgerCreator func(self ledger.Party, km kms.KeyManager) (ledger.Ledger, error)

// Node provides access to the context of a running party. The context can be used to create
// basket-iou clients.
type Node struct {
	name               string
	identityKey        ed25519.PrivateKey
	storeProvider      storage.Provider
	ownsStore          bool
	directory          identity.Directory
	ledgerCreator      LedgerCreator
	notary             ledger.Party
	clock              func() time.Time
	validityWindow     time.Duration
	middlewares        []basketiou.Middleware
	registerer         prometheus.Registerer
	inboundTransport   transport.InboundTransport
	outboundTransports []transport.OutboundTransport

	self      ledger.Party
	kms       *kms.LocalKMS
	resolver  *identity.Resolver
	metrics   *metrics.Metrics
	ctx       *context.Provider
	basketIOU *basketiou.Service
	started   bool
}

// Option configures the node.
type Option func(opts *Node) error

// New initializes a node based on the set of options provided and starts its inbound transport.
func New(opts ...Option) (*Node, error) {
	n := &Node{}

	for _, option := range opts {
		err := option(n)
		if err != nil {
			return nil, fmt.Errorf("error in option passed to New: %w", err)
		}
	}

	err := defNodeOpts(n)
	if err != nil {
		return nil, fmt.Errorf("default option initialization failed: %w", err)
	}

	if err := initializeServices(n); err != nil {
		closeErr := n.Close()

		return nil, fmt.Errorf("close err: %v node initialization failed: %w", closeErr, err)
	}

	logger.Infof("node %s started at %s", n.self.Name, n.Endpoint())

	return n, nil
}

func initializeServices(n *Node) error {
	// Order of initializing service is important
	if err := createIdentity(n); err != nil {
		return err
	}

	if err := createContext(n); err != nil {
		return err
	}

	if err := loadServices(n); err != nil {
		return err
	}

	return startTransports(n)
}

// WithIdentity sets the name of the local party and the private key it signs with. The key is
// imported into the node KMS. Without a key the party must already hold the key the directory
// lists for it.
func WithIdentity(name string, priv ed25519.PrivateKey) Option {
	return func(opts *Node) error {
		if name == "" {
			return errors.New("party name is required")
		}

		opts.name = name
		opts.identityKey = priv

		return nil
	}
}

// WithStoreProvider injects a storage provider. The node does not close it.
func WithStoreProvider(prov storage.Provider) Option {
	return func(opts *Node) error {
		opts.storeProvider = prov
		return nil
	}
}

// WithDirectory injects the network map.
func WithDirectory(d identity.Directory) Option {
	return func(opts *Node) error {
		opts.directory = d
		return nil
	}
}

// WithLedger injects the creator of the ledger view of the local party.
func WithLedger(creator LedgerCreator) Option {
	return func(opts *Node) error {
		opts.ledgerCreator = creator
		return nil
	}
}

// WithPlatform joins an in-memory ledger platform, using its notary for new transactions.
func WithPlatform(p *memledger.Platform) Option {
	return func(opts *Node) error {
		opts.notary = p.Notary()
		opts.ledgerCreator = func(self ledger.Party, km kms.KeyManager) (ledger.Ledger, error) {
			return p.ForParty(self, km), nil
		}

		return nil
	}
}

// WithNotary sets the notary new transactions are assigned to.
func WithNotary(notary ledger.Party) Option {
	return func(opts *Node) error {
		opts.notary = notary
		return nil
	}
}

// WithClock sets the clock time windows start from.
func WithClock(clock func() time.Time) Option {
	return func(opts *Node) error {
		opts.clock = clock
		return nil
	}
}

// WithValidityWindow sets how long a new transaction may be notarised.
func WithValidityWindow(d time.Duration) Option {
	return func(opts *Node) error {
		if d <= 0 {
			return fmt.Errorf("invalid validity window %s", d)
		}

		opts.validityWindow = d

		return nil
	}
}

// WithMiddlewares adds acceptance checks run by the lender after the borrower check.
func WithMiddlewares(items ...basketiou.Middleware) Option {
	return func(opts *Node) error {
		opts.middlewares = append(opts.middlewares, items...)
		return nil
	}
}

// WithMetricsRegisterer registers the run metrics with r.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(opts *Node) error {
		opts.registerer = r
		return nil
	}
}

// WithLogLevel sets the default log level.
func WithLogLevel(level string) Option {
	return func(opts *Node) error {
		l, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}

		log.SetLevel("", l)

		return nil
	}
}

// WithInboundTransport injects the transport the node receives messages on.
func WithInboundTransport(inbound transport.InboundTransport) Option {
	return func(opts *Node) error {
		opts.inboundTransport = inbound
		return nil
	}
}

// WithOutboundTransports injects the transports the node sends messages with.
func WithOutboundTransports(outbound ...transport.OutboundTransport) Option {
	return func(opts *Node) error {
		opts.outboundTransports = append(opts.outboundTransports, outbound...)
		return nil
	}
}

// Context provides a handle to the node context.
func (n *Node) Context() *context.Provider {
	return n.ctx
}

// Self returns the local party.
func (n *Node) Self() ledger.Party {
	return n.self
}

// BasketIOU returns the basket-iou service.
func (n *Node) BasketIOU() *basketiou.Service {
	return n.basketIOU
}

// Metrics returns the run metrics of the node.
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// Endpoint returns the address the node receives messages on.
func (n *Node) Endpoint() string {
	if n.inboundTransport == nil {
		return ""
	}

	return n.inboundTransport.Endpoint()
}

// Close stops the node. Runs in progress stay suspended in storage and resume when a node is
// created over the same storage.
func (n *Node) Close() error {
	if n.started {
		if err := n.inboundTransport.Stop(); err != nil {
			return fmt.Errorf("inbound transport close failed: %w", err)
		}

		n.started = false
	}

	if n.basketIOU != nil {
		n.basketIOU.Close()
		n.basketIOU = nil
	}

	if n.ownsStore && n.storeProvider != nil {
		if err := n.storeProvider.Close(); err != nil {
			return fmt.Errorf("failed to close the store: %w", err)
		}

		n.storeProvider = nil
	}

	return nil
}

func createIdentity(n *Node) error {
	km, err := kms.New(n.storeProvider)
	if err != nil {
		return fmt.Errorf("create kms: %w", err)
	}

	n.kms = km

	listed, err := n.directory.Party(n.name)
	if err != nil {
		return fmt.Errorf("look up local party: %w", err)
	}

	if n.identityKey != nil {
		key, importErr := km.Import(n.identityKey)
		if importErr != nil {
			return importErr
		}

		if !key.Equal(listed.Key) {
			return fmt.Errorf("key of %s does not match the directory", n.name)
		}
	}

	if !km.Has(listed.Key) {
		return fmt.Errorf("%w: no private key for %s", ledger.ErrKeyNotFound, n.name)
	}

	n.self = listed

	return nil
}

func createContext(n *Node) error {
	resolver, err := identity.NewResolver(n.storeProvider)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}

	n.resolver = resolver

	l, err := n.ledgerCreator(n.self, n.kms)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}

	n.metrics = metrics.New(n.registerer)

	n.ctx, err = context.New(
		context.WithStorageProvider(n.storeProvider),
		context.WithKMS(n.kms),
		context.WithDirectory(n.directory),
		context.WithResolver(resolver),
		context.WithLedger(l),
		context.WithSelf(n.self),
		context.WithNotary(n.notary),
		context.WithClock(n.clock),
		context.WithValidityWindow(n.validityWindow),
		context.WithMetrics(n.metrics),
		context.WithOutboundTransports(n.outboundTransports...),
		context.WithOutboundDispatcher(dispatcher.NewOutbound(n.directory, n.outboundTransports...)),
	)
	if err != nil {
		return fmt.Errorf("context creation failed: %w", err)
	}

	msgr, err := messenger.NewMessenger(n.ctx)
	if err != nil {
		return fmt.Errorf("create messenger: %w", err)
	}

	return context.WithMessenger(msgr)(n.ctx)
}

func loadServices(n *Node) error {
	// the identity exchange must be registered before the basket-iou service looks it up
	swap, err := swapidentities.New(n.ctx)
	if err != nil {
		return fmt.Errorf("create swap-identities service: %w", err)
	}

	if err = context.WithProtocolServices(swap)(n.ctx); err != nil {
		return err
	}

	middlewares := append([]basketiou.Middleware{basketiou.BorrowerIsSender(n.directory, n.resolver)}, n.middlewares...)

	svc, err := basketiou.New(n.ctx, basketiou.WithMiddlewares(middlewares...))
	if err != nil {
		return fmt.Errorf("create basket-iou service: %w", err)
	}

	n.basketIOU = svc

	return context.WithProtocolServices(svc)(n.ctx)
}

func startTransports(n *Node) error {
	if n.inboundTransport == nil {
		logger.Warnf("node %s has no inbound transport and cannot receive messages", n.self.Name)

		return nil
	}

	handler := dispatcher.NewInboundMessageHandler(n.self.Name, n.ctx.Registry(), n.ctx.InboundMessenger())

	if err := n.inboundTransport.Start(handler.HandlerFunc()); err != nil {
		return fmt.Errorf("inbound transport start failed: %w", err)
	}

	n.started = true

	return nil
}
