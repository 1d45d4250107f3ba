/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package context creates a framework Provider context holding the services of a node and provides
// simple accessor methods to those same services.
package context

import (
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/flow/dispatcher"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/basketiou"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/swapidentities"
	"github.com/cts-etf/basket-iou/pkg/flow/transport"
	"github.com/cts-etf/basket-iou/pkg/identity"
	"github.com/cts-etf/basket-iou/pkg/kms"
	"github.com/cts-etf/basket-iou/pkg/ledger"
	"github.com/cts-etf/basket-iou/pkg/metrics"
)

// ErrSvcNotFound is returned when a protocol service is not registered.
var ErrSvcNotFound = errors.New("service not found")

// Provider supplies the framework configuration to client objects.
type Provider struct {
	registry           *dispatcher.Registry
	storeProvider      storage.Provider
	kms                kms.KeyManager
	directory          identity.Directory
	resolver           *identity.Resolver
	ledger             ledger.Ledger
	self               ledger.Party
	notary             ledger.Party
	clock              func() time.Time
	validityWindow     time.Duration
	metrics            *metrics.Metrics
	outboundDispatcher dispatcher.Outbound
	messenger          service.Messenger
	inboundMessenger   service.InboundMessenger
	outboundTransports []transport.OutboundTransport
}

// ProviderOption configures the framework.
type ProviderOption func(opts *Provider) error

// New instantiates a new context provider.
func New(opts ...ProviderOption) (*Provider, error) {
	ctxProvider := Provider{
		registry: dispatcher.NewRegistry(),
		clock:    time.Now,
	}

	for _, opt := range opts {
		err := opt(&ctxProvider)
		if err != nil {
			return nil, fmt.Errorf("option failed: %w", err)
		}
	}

	return &ctxProvider, nil
}

// Service return protocol service.
func (p *Provider) Service(id string) (interface{}, error) {
	svc, ok := p.registry.Service(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSvcNotFound, id)
	}

	return svc, nil
}

// AllServices returns the registered protocol services.
func (p *Provider) AllServices() []dispatcher.ProtocolService {
	return p.registry.All()
}

// Registry returns the registry inbound messages are dispatched through.
func (p *Provider) Registry() *dispatcher.Registry {
	return p.registry
}

// OutboundDispatcher returns an outbound dispatcher.
func (p *Provider) OutboundDispatcher() dispatcher.Outbound {
	return p.outboundDispatcher
}

// OutboundTransports returns the outbound transports.
func (p *Provider) OutboundTransports() []transport.OutboundTransport {
	return p.outboundTransports
}

// Messenger returns a messenger.
func (p *Provider) Messenger() service.Messenger {
	return p.messenger
}

// InboundMessenger returns the messenger recording inbound messages.
func (p *Provider) InboundMessenger() service.InboundMessenger {
	return p.inboundMessenger
}

// StorageProvider return a storage provider.
func (p *Provider) StorageProvider() storage.Provider {
	return p.storeProvider
}

// KMS returns a Key Management Service.
func (p *Provider) KMS() kms.KeyManager {
	return p.kms
}

// Directory returns the network map.
func (p *Provider) Directory() identity.Directory {
	return p.directory
}

// Resolver returns the store of anonymous identity mappings.
func (p *Provider) Resolver() *identity.Resolver {
	return p.resolver
}

// Ledger returns the ledger view of the local party.
func (p *Provider) Ledger() ledger.Ledger {
	return p.ledger
}

// Self returns the local party.
func (p *Provider) Self() ledger.Party {
	return p.self
}

// Notary returns the notary new transactions are assigned to.
func (p *Provider) Notary() ledger.Party {
	return p.notary
}

// Clock returns the clock time windows start from.
func (p *Provider) Clock() func() time.Time {
	return p.clock
}

// ValidityWindow returns how long a new transaction may be notarised.
func (p *Provider) ValidityWindow() time.Duration {
	return p.validityWindow
}

// Metrics returns the run metrics.
func (p *Provider) Metrics() *metrics.Metrics {
	return p.metrics
}

// IdentityExchange returns the registered swap-identities service, if any.
func (p *Provider) IdentityExchange() basketiou.IdentityExchange {
	svc, ok := p.registry.Service(swapidentities.Name)
	if !ok {
		return nil
	}

	exchange, ok := svc.(basketiou.IdentityExchange)
	if !ok {
		return nil
	}

	return exchange
}

// WithProtocolServices registers services with the provider.
func WithProtocolServices(services ...dispatcher.ProtocolService) ProviderOption {
	return func(opts *Provider) error {
		return opts.registry.Register(services...)
	}
}

// WithOutboundTransports injects the outbound transports into the context.
func WithOutboundTransports(transports ...transport.OutboundTransport) ProviderOption {
	return func(opts *Provider) error {
		opts.outboundTransports = transports
		return nil
	}
}

// WithOutboundDispatcher injects an outbound dispatcher into the context.
func WithOutboundDispatcher(outboundDispatcher dispatcher.Outbound) ProviderOption {
	return func(opts *Provider) error {
		opts.outboundDispatcher = outboundDispatcher
		return nil
	}
}

// WithMessenger injects a messenger into the context. When it also records inbound messages it
// becomes the inbound messenger.
func WithMessenger(m service.Messenger) ProviderOption {
	return func(opts *Provider) error {
		opts.messenger = m

		if inbound, ok := m.(service.InboundMessenger); ok {
			opts.inboundMessenger = inbound
		}

		return nil
	}
}

// WithStorageProvider injects a storage provider into the context.
func WithStorageProvider(s storage.Provider) ProviderOption {
	return func(opts *Provider) error {
		opts.storeProvider = s
		return nil
	}
}

// WithKMS injects a KMS service into the context.
func WithKMS(k kms.KeyManager) ProviderOption {
	return func(opts *Provider) error {
		opts.kms = k
		return nil
	}
}

// WithDirectory injects the network map into the context.
func WithDirectory(d identity.Directory) ProviderOption {
	return func(opts *Provider) error {
		opts.directory = d
		return nil
	}
}

// WithResolver injects the anonymous identity store into the context.
func WithResolver(r *identity.Resolver) ProviderOption {
	return func(opts *Provider) error {
		opts.resolver = r
		return nil
	}
}

// WithLedger injects the ledger view of the local party into the context.
func WithLedger(l ledger.Ledger) ProviderOption {
	return func(opts *Provider) error {
		opts.ledger = l
		return nil
	}
}

// WithSelf sets the local party.
func WithSelf(self ledger.Party) ProviderOption {
	return func(opts *Provider) error {
		opts.self = self
		return nil
	}
}

// WithNotary sets the notary of new transactions.
func WithNotary(notary ledger.Party) ProviderOption {
	return func(opts *Provider) error {
		opts.notary = notary
		return nil
	}
}

// WithClock sets the clock time windows start from.
func WithClock(clock func() time.Time) ProviderOption {
	return func(opts *Provider) error {
		if clock == nil {
			return errors.New("clock is required")
		}

		opts.clock = clock

		return nil
	}
}

// WithValidityWindow sets how long a new transaction may be notarised.
func WithValidityWindow(d time.Duration) ProviderOption {
	return func(opts *Provider) error {
		opts.validityWindow = d
		return nil
	}
}

// WithMetrics injects the run metrics into the context.
func WithMetrics(m *metrics.Metrics) ProviderOption {
	return func(opts *Provider) error {
		opts.metrics = m
		return nil
	}
}
