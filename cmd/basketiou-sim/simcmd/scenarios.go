/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package simcmd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/storage/leveldb"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	client "github.com/cts-etf/basket-iou/pkg/client/basketiou"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/basketiou"
	"github.com/cts-etf/basket-iou/pkg/flow/transport"
	httptransport "github.com/cts-etf/basket-iou/pkg/flow/transport/http"
	memtransport "github.com/cts-etf/basket-iou/pkg/flow/transport/mem"
	"github.com/cts-etf/basket-iou/pkg/flow/transport/ws"
	"github.com/cts-etf/basket-iou/pkg/framework/node"
	"github.com/cts-etf/basket-iou/pkg/identity"
	"github.com/cts-etf/basket-iou/pkg/ledger"
	"github.com/cts-etf/basket-iou/pkg/ledger/memledger"
)

const (
	borrowerName = "PartyA"
	lenderName   = "PartyB"
	notaryName   = "Notary"

	pollInterval    = 20 * time.Millisecond
	httpRetries     = 3
	httpRetryDelay  = 100 * time.Millisecond
	rejectedMessage = "basket is not on the lending list"
)

// nolint:gochecknoglobals
var supportedStorageProviders = map[string]func(path string) storage.Provider{
	databaseTypeMemOption: func(_ string) storage.Provider {
		return mem.NewProvider()
	},
	databaseTypeLevelDBOption: func(path string) storage.Provider {
		return leveldb.NewProvider(path)
	},
}

type scenarioFunc func(ctx context.Context, s *simulation) error

// nolint:gochecknoglobals
var supportedScenarios = map[string]scenarioFunc{
	"named":      runNamed,
	"anonymous":  runAnonymous,
	"unresolved": runUnresolved,
	"rejected":   runRejected,
	"expired":    runExpired,
}

func scenarioNames() []string {
	return []string{"named", "anonymous", "unresolved", "rejected", "expired"}
}

func runScenarios(cmd *cobra.Command, params *simParameters) error {
	out := cmd.OutOrStdout()
	registry := prometheus.NewRegistry()
	runID := uuid.New().String()

	var failed []string

	for _, name := range params.scenarios {
		err := runScenario(name, runID, params, registry, out)
		if err != nil {
			logger.Errorf("scenario %s failed: %s", name, err)
			fmt.Fprintf(out, "scenario %s: FAILED: %s\n", name, err)

			failed = append(failed, name)

			continue
		}

		fmt.Fprintf(out, "scenario %s: ok\n", name)
	}

	if err := printMetrics(out, registry); err != nil {
		return err
	}

	if len(failed) > 0 {
		return fmt.Errorf("scenarios failed: %s", strings.Join(failed, ", "))
	}

	return nil
}

func runScenario(name, runID string, params *simParameters, registry prometheus.Registerer, out io.Writer) error {
	s, err := newSimulation(name, runID, params, registry, out)
	if err != nil {
		return err
	}

	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), params.timeout)
	defer cancel()

	return supportedScenarios[name](ctx, s)
}

// simClock is the clock shared by the notary and the parties of a simulation.
type simClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return time.Now().Add(c.offset)
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.offset += d
}

type simulation struct {
	name     string
	params   *simParameters
	out      io.Writer
	registry prometheus.Registerer
	dbPath   string

	clock    *simClock
	platform *memledger.Platform
	network  *memtransport.Network
	dir      *identity.StaticDirectory
	keys     map[string]ed25519.PrivateKey

	nodes  []*node.Node
	stores []storage.Provider
}

func newSimulation(name, runID string, params *simParameters, registry prometheus.Registerer,
	out io.Writer) (*simulation, error) {
	s := &simulation{
		name:     name,
		params:   params,
		out:      out,
		registry: prometheus.WrapRegistererWith(prometheus.Labels{"scenario": name}, registry),
		dbPath:   filepath.Join(params.dbPath, runID, name),
		clock:    &simClock{},
		network:  memtransport.NewNetwork(),
		dir:      identity.NewStaticDirectory(),
		keys:     map[string]ed25519.PrivateKey{},
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate notary key: %w", err)
	}

	s.platform, err = memledger.New(ledger.Party{Name: notaryName, Key: ledger.PublicKey(pub)}, priv,
		memledger.WithClock(s.clock.Now), memledger.WithStoreProvider(s.store(notaryName)))
	if err != nil {
		return nil, err
	}

	for _, party := range []string{borrowerName, lenderName} {
		s.keys[party], err = enroll(s.dir, party, memtransport.Endpoint(party))
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *simulation) store(party string) storage.Provider {
	store := supportedStorageProviders[s.params.dbType](filepath.Join(s.dbPath, party))
	s.stores = append(s.stores, store)

	return store
}

// enroll lists a fresh key for party in dir and returns its private half.
func enroll(dir *identity.StaticDirectory, party, endpoint string) (ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key of %s: %w", party, err)
	}

	dir.Add(identity.Entry{
		Party:    ledger.Party{Name: party, Key: ledger.PublicKey(pub)},
		Endpoint: endpoint,
	})

	return priv, nil
}

func (s *simulation) transports(party string) (transport.InboundTransport, transport.OutboundTransport) {
	switch s.params.transport {
	case transportHTTPOption:
		return httptransport.NewInbound(s.params.httpHost+":0", ""),
			httptransport.NewOutbound(httptransport.WithRetry(httpRetries, httpRetryDelay))
	case transportWSOption:
		return ws.NewInbound(s.params.httpHost+":0", ""),
			ws.NewOutbound(ws.WithRetry(httpRetries, httpRetryDelay))
	}

	return s.network.Inbox(party), s.network.Outbound()
}

// start runs party as a node. The shared directory learns the endpoint the node listens on.
func (s *simulation) start(party string, opts ...node.Option) (*node.Node, error) {
	inbound, outbound := s.transports(party)

	n, err := node.New(append([]node.Option{
		node.WithIdentity(party, s.keys[party]),
		node.WithStoreProvider(s.store(party)),
		node.WithDirectory(s.dir),
		node.WithPlatform(s.platform),
		node.WithClock(s.clock.Now),
		node.WithInboundTransport(inbound),
		node.WithOutboundTransports(outbound),
		node.WithMetricsRegisterer(prometheus.WrapRegistererWith(prometheus.Labels{"party": party}, s.registry)),
	}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", party, err)
	}

	s.nodes = append(s.nodes, n)

	s.dir.Add(identity.Entry{Party: n.Self(), Endpoint: n.Endpoint()})

	return n, nil
}

func (s *simulation) startBoth(lenderOpts ...node.Option) (*node.Node, *node.Node, error) {
	lender, err := s.start(lenderName, lenderOpts...)
	if err != nil {
		return nil, nil, err
	}

	borrower, err := s.start(borrowerName)
	if err != nil {
		return nil, nil, err
	}

	return borrower, lender, nil
}

func (s *simulation) close() {
	for i := len(s.nodes) - 1; i >= 0; i-- {
		if err := s.nodes[i].Close(); err != nil {
			logger.Warnf("close node: %s", err)
		}
	}

	for _, store := range s.stores {
		if err := store.Close(); err != nil {
			logger.Warnf("close store: %s", err)
		}
	}
}

// initiate borrows the basket from the lender on behalf of borrower, printing the progress.
func (s *simulation) initiate(ctx context.Context, borrower *node.Node, anonymous bool) (
	*ledger.FinalizedRecord, error) {
	c, err := client.New(borrower.Context())
	if err != nil {
		return nil, err
	}

	return c.InitiateBasketIou(ctx, s.params.basketHash, lenderName, anonymous,
		client.WithProgress(func(p client.Progress) {
			state := p.State
			if p.SubState != "" {
				state += "/" + p.SubState
			}

			fmt.Fprintf(s.out, "  %s %s: %s\n", s.name, borrower.Self().Name, state)
		}))
}

// lenderRun waits for the only run of lender to reach stateID.
func lenderRun(ctx context.Context, lender *node.Node, stateID string) (*basketiou.Run, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		runs, err := lender.BasketIOU().Runs()
		if err != nil {
			return nil, err
		}

		if len(runs) == 1 && runs[0].State == stateID {
			return runs[0], nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("lender run did not reach %s: %w", stateID, ctx.Err())
		}
	}
}

func expectFailure(err error, stateID string, kind basketiou.Kind) error {
	var pe *basketiou.ProtocolError
	if !errors.As(err, &pe) {
		return fmt.Errorf("expected a %s failure at %s, got %v", kind, stateID, err)
	}

	if pe.State != stateID || pe.Kind != kind {
		return fmt.Errorf("expected a %s failure at %s, got %w", kind, stateID, pe)
	}

	return nil
}

func sameParty(got ledger.AbstractParty, want ledger.Party) error {
	if got.Name != want.Name || !got.Key.Equal(want.Key) {
		return fmt.Errorf("recorded %s instead of %s", got, want)
	}

	return nil
}

func runNamed(ctx context.Context, s *simulation) error {
	borrower, lender, err := s.startBoth()
	if err != nil {
		return err
	}

	record, err := s.initiate(ctx, borrower, false)
	if err != nil {
		return err
	}

	output := record.Transaction.Tx.Output

	if err := sameParty(output.Borrower, borrower.Self()); err != nil {
		return err
	}

	if err := sameParty(output.Lender, lender.Self()); err != nil {
		return err
	}

	run, err := lenderRun(ctx, lender, basketiou.StateIDDone)
	if err != nil {
		return err
	}

	if !run.Record.NotarySignature.By.Equal(record.NotarySignature.By) {
		return errors.New("lender holds a different notarisation")
	}

	return nil
}

func runAnonymous(ctx context.Context, s *simulation) error {
	borrower, lender, err := s.startBoth()
	if err != nil {
		return err
	}

	record, err := s.initiate(ctx, borrower, true)
	if err != nil {
		return err
	}

	output := record.Transaction.Tx.Output
	if !output.Borrower.Anonymous() || !output.Lender.Anonymous() {
		return errors.New("record reveals the participants")
	}

	if _, err := lenderRun(ctx, lender, basketiou.StateIDDone); err != nil {
		return err
	}

	for _, n := range []*node.Node{borrower, lender} {
		for anon, want := range map[string]ledger.AbstractParty{borrowerName: output.Borrower, lenderName: output.Lender} {
			owner, err := n.Context().Resolver().WellKnown(want)
			if err != nil {
				return fmt.Errorf("%s cannot resolve %s: %w", n.Self().Name, want, err)
			}

			if owner.Name != anon {
				return fmt.Errorf("%s resolved %s to %s", n.Self().Name, want, owner.Name)
			}
		}
	}

	return nil
}

func runUnresolved(ctx context.Context, s *simulation) error {
	lender, err := s.start(lenderName)
	if err != nil {
		return err
	}

	// the borrower lists a stale key for the lender, so the identity the lender proves is refused
	listed, err := s.dir.Party(borrowerName)
	if err != nil {
		return err
	}

	stale := identity.NewStaticDirectory(identity.Entry{Party: listed, Endpoint: memtransport.Endpoint(borrowerName)})

	if _, err := enroll(stale, lenderName, lender.Endpoint()); err != nil {
		return err
	}

	borrower, err := s.start(borrowerName, node.WithDirectory(stale))
	if err != nil {
		return err
	}

	_, err = s.initiate(ctx, borrower, true)
	if err := expectFailure(err, basketiou.StateIDInitialising, basketiou.KindIdentityResolution); err != nil {
		return err
	}

	runs, err := lender.BasketIOU().Runs()
	if err != nil {
		return err
	}

	if len(runs) != 0 {
		return errors.New("lender was asked to sign")
	}

	return nil
}

func runRejected(ctx context.Context, s *simulation) error {
	borrower, lender, err := s.startBoth(node.WithMiddlewares(func(basketiou.Handler) basketiou.Handler {
		return basketiou.HandlerFunc(func(basketiou.Metadata) error {
			return errors.New(rejectedMessage)
		})
	}))
	if err != nil {
		return err
	}

	_, err = s.initiate(ctx, borrower, false)
	if err := expectFailure(err, basketiou.StateIDCollecting, basketiou.KindCounterpartyRejected); err != nil {
		return err
	}

	run, err := lenderRun(ctx, lender, basketiou.StateIDFailed)
	if err != nil {
		return err
	}

	if run.Record != nil {
		return errors.New("lender holds a record")
	}

	return nil
}

func runExpired(ctx context.Context, s *simulation) error {
	// the lender takes longer than the validity window to sign
	borrower, lender, err := s.startBoth(node.WithMiddlewares(func(next basketiou.Handler) basketiou.Handler {
		return basketiou.HandlerFunc(func(md basketiou.Metadata) error {
			s.clock.Advance(basketiou.DefaultValidityWindow + time.Second)

			return next.Handle(md)
		})
	}))
	if err != nil {
		return err
	}

	_, err = s.initiate(ctx, borrower, false)
	if err := expectFailure(err, basketiou.StateIDFinalising, basketiou.KindFinality); err != nil {
		return err
	}

	run, err := lenderRun(ctx, lender, basketiou.StateIDFailed)
	if err != nil {
		return err
	}

	if s.platform.Committed(run.TxID) {
		return fmt.Errorf("transaction %s was committed", run.TxID)
	}

	return nil
}

func printMetrics(out io.Writer, registry prometheus.Gatherer) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var lines []string

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}

			var value float64

			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			}

			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), value))
		}
	}

	sort.Strings(lines)

	for _, line := range lines {
		fmt.Fprintln(out, line)
	}

	return nil
}
