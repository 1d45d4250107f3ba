/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/basketiou"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/swapidentities"
	memtransport "github.com/cts-etf/basket-iou/pkg/flow/transport/mem"
	"github.com/cts-etf/basket-iou/pkg/identity"
	"github.com/cts-etf/basket-iou/pkg/kms"
	"github.com/cts-etf/basket-iou/pkg/ledger"
	"github.com/cts-etf/basket-iou/pkg/ledger/memledger"
)

const (
	alice = "PartyA"
	bob   = "PartyB"

	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type testNetwork struct {
	clock    *testClock
	platform *memledger.Platform
	mem      *memtransport.Network
	dir      *identity.StaticDirectory
	keys     map[string]ed25519.PrivateKey
}

func newTestNetwork(t *testing.T, parties ...string) *testNetwork {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	n := &testNetwork{
		clock: &testClock{now: time.Now().UTC()},
		mem:   memtransport.NewNetwork(),
		dir:   identity.NewStaticDirectory(),
		keys:  map[string]ed25519.PrivateKey{},
	}

	n.platform, err = memledger.New(ledger.Party{Name: "Notary", Key: ledger.PublicKey(pub)}, priv,
		memledger.WithClock(n.clock.Now))
	require.NoError(t, err)

	for _, name := range parties {
		n.keys[name] = n.enroll(t, n.dir, name)
	}

	return n
}

// enroll lists a fresh key for name in dir and returns its private half.
func (n *testNetwork) enroll(t *testing.T, dir *identity.StaticDirectory, name string) ed25519.PrivateKey {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir.Add(identity.Entry{
		Party:    ledger.Party{Name: name, Key: ledger.PublicKey(pub)},
		Endpoint: memtransport.Endpoint(name),
	})

	return priv
}

func (n *testNetwork) options(name string, store storage.Provider) []Option {
	return []Option{
		WithIdentity(name, n.keys[name]),
		WithStoreProvider(store),
		WithDirectory(n.dir),
		WithPlatform(n.platform),
		WithClock(n.clock.Now),
		WithInboundTransport(n.mem.Inbox(name)),
		WithOutboundTransports(n.mem.Outbound()),
		WithMetricsRegisterer(prometheus.NewRegistry()),
	}
}

func (n *testNetwork) start(t *testing.T, name string, store storage.Provider, opts ...Option) *Node {
	t.Helper()

	node, err := New(append(n.options(name, store), opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, node.Close())
	})

	return node
}

func waitState(t *testing.T, node *Node, piID, stateID string) *basketiou.Run {
	t.Helper()

	var run *basketiou.Run

	require.Eventually(t, func() bool {
		r, err := node.BasketIOU().Run(piID)
		if err != nil {
			return false
		}

		run = r

		return r.State == stateID
	}, waitFor, tick)

	return run
}

func TestScenarios(t *testing.T) {
	t.Run("named identities are preserved", func(t *testing.T) {
		n := newTestNetwork(t, alice, bob)
		a, b := n.start(t, alice, mem.NewProvider()), n.start(t, bob, mem.NewProvider())

		piID, err := a.BasketIOU().Initiate("Qm123", bob, false)
		require.NoError(t, err)

		aRun := waitState(t, a, piID, basketiou.StateIDDone)
		bRun := waitState(t, b, piID, basketiou.StateIDDone)

		for _, run := range []*basketiou.Run{aRun, bRun} {
			output := run.Record.Transaction.Tx.Output
			require.Equal(t, a.Self().Abstract(), output.Borrower)
			require.Equal(t, b.Self().Abstract(), output.Lender)
			require.Equal(t, "Qm123", output.BasketHash)
			require.NoError(t, run.Record.Verify())
		}

		require.Equal(t, aRun.Record.NotarySignature, bRun.Record.NotarySignature)
		require.True(t, n.platform.Committed(aRun.TxID))

		require.Equal(t, float64(1),
			testutil.ToFloat64(a.Metrics().RunsFinished.WithLabelValues(basketiou.RoleInitiator, basketiou.StateIDDone)))
		require.Equal(t, float64(1),
			testutil.ToFloat64(b.Metrics().RunsFinished.WithLabelValues(basketiou.RoleResponder, basketiou.StateIDDone)))
	})

	t.Run("anonymous identities resolve on both sides", func(t *testing.T) {
		n := newTestNetwork(t, alice, bob)
		a, b := n.start(t, alice, mem.NewProvider()), n.start(t, bob, mem.NewProvider())

		piID, err := a.BasketIOU().Initiate("Qm123", bob, true)
		require.NoError(t, err)

		aRun := waitState(t, a, piID, basketiou.StateIDDone)
		waitState(t, b, piID, basketiou.StateIDDone)

		output := aRun.Record.Transaction.Tx.Output
		require.True(t, output.Borrower.Anonymous())
		require.True(t, output.Lender.Anonymous())
		require.False(t, output.Borrower.Key.Equal(a.Self().Key))
		require.False(t, output.Lender.Key.Equal(b.Self().Key))

		for _, node := range []*Node{a, b} {
			owner, err := node.Context().Resolver().WellKnown(output.Borrower)
			require.NoError(t, err)
			require.Equal(t, alice, owner.Name)

			owner, err = node.Context().Resolver().WellKnown(output.Lender)
			require.NoError(t, err)
			require.Equal(t, bob, owner.Name)
		}
	})

	t.Run("unresolved identity fails before the lender is asked to sign", func(t *testing.T) {
		n := newTestNetwork(t, alice, bob)

		// alice holds a stale key for bob, so the identity bob proves is refused
		stale := identity.NewStaticDirectory()
		n.keys[alice] = n.enroll(t, stale, alice)
		n.enroll(t, stale, bob)

		a := n.start(t, alice, mem.NewProvider(), WithDirectory(stale))
		n.dir.Add(identity.Entry{Party: a.Self(), Endpoint: memtransport.Endpoint(alice)})
		b := n.start(t, bob, mem.NewProvider())

		piID, err := a.BasketIOU().Initiate("Qm123", bob, true)
		require.NoError(t, err)

		aRun := waitState(t, a, piID, basketiou.StateIDFailed)
		require.Equal(t, basketiou.StateIDInitialising, aRun.Err.State)
		require.Equal(t, basketiou.KindIdentityResolution, aRun.Err.Kind)
		require.Nil(t, aRun.Record)
		require.Empty(t, aRun.TxID)

		runs, err := b.BasketIOU().Runs()
		require.NoError(t, err)
		require.Empty(t, runs)
	})

	t.Run("responder rejection fails both at collecting", func(t *testing.T) {
		n := newTestNetwork(t, alice, bob)
		a := n.start(t, alice, mem.NewProvider())
		b := n.start(t, bob, mem.NewProvider(), WithMiddlewares(func(next basketiou.Handler) basketiou.Handler {
			return basketiou.HandlerFunc(func(md basketiou.Metadata) error {
				if md.Transaction().Tx.Output.BasketHash == "Qm123" {
					return errors.New("basket is not eligible")
				}

				return next.Handle(md)
			})
		}))

		piID, err := a.BasketIOU().Initiate("Qm123", bob, false)
		require.NoError(t, err)

		aRun := waitState(t, a, piID, basketiou.StateIDFailed)
		bRun := waitState(t, b, piID, basketiou.StateIDFailed)

		require.Equal(t, basketiou.StateIDCollecting, aRun.Err.State)
		require.Equal(t, basketiou.KindCounterpartyRejected, aRun.Err.Kind)
		require.ErrorContains(t, aRun.Err, "basket is not eligible")
		require.Equal(t, basketiou.KindCounterpartyRejected, bRun.Err.Kind)
		require.Nil(t, aRun.Record)
		require.Nil(t, bRun.Record)
		require.False(t, n.platform.Committed(aRun.TxID))

		piID, err = a.BasketIOU().Initiate("Qm456", bob, false)
		require.NoError(t, err)

		waitState(t, a, piID, basketiou.StateIDDone)
	})

	t.Run("elapsed validity window fails both and commits nothing", func(t *testing.T) {
		n := newTestNetwork(t, alice, bob)
		a, b := n.start(t, alice, mem.NewProvider()), n.start(t, bob, mem.NewProvider())

		n.mem.Hold(alice)

		piID, err := a.BasketIOU().Initiate("Qm123", bob, false)
		require.NoError(t, err)

		waitState(t, b, piID, basketiou.StateIDAwaitingCommit)

		n.clock.Advance(basketiou.DefaultValidityWindow + time.Second)
		n.mem.Release(alice)

		aRun := waitState(t, a, piID, basketiou.StateIDFailed)
		bRun := waitState(t, b, piID, basketiou.StateIDFailed)

		require.Equal(t, basketiou.StateIDFinalising, aRun.Err.State)
		require.Equal(t, basketiou.KindFinality, aRun.Err.Kind)
		require.ErrorContains(t, aRun.Err, ledger.ErrTimeWindow.Error())
		require.Equal(t, basketiou.KindFinality, bRun.Err.Kind)
		require.False(t, n.platform.Committed(aRun.TxID))
	})
}

func TestNode_Restart(t *testing.T) {
	n := newTestNetwork(t, alice, bob)
	aStore := mem.NewProvider()

	a, err := New(n.options(alice, aStore)...)
	require.NoError(t, err)

	b := n.start(t, bob, mem.NewProvider())

	n.mem.Hold(alice)

	piID, err := a.BasketIOU().Initiate("Qm123", bob, false)
	require.NoError(t, err)

	waitState(t, a, piID, basketiou.StateIDCollecting)
	waitState(t, b, piID, basketiou.StateIDAwaitingCommit)

	require.Eventually(t, func() bool { return n.mem.Inbox(alice).Pending() == 1 }, waitFor, tick)

	// the signature stays queued while alice is down
	require.NoError(t, a.Close())
	n.mem.Release(alice)

	a = n.start(t, alice, aStore)

	aRun := waitState(t, a, piID, basketiou.StateIDDone)
	bRun := waitState(t, b, piID, basketiou.StateIDDone)
	require.Equal(t, aRun.Record.NotarySignature, bRun.Record.NotarySignature)

	// a second restart finds nothing left to do
	require.NoError(t, a.Close())

	a = n.start(t, alice, aStore)

	again, err := a.BasketIOU().Run(piID)
	require.NoError(t, err)
	require.Equal(t, basketiou.StateIDDone, again.State)
	require.Equal(t, aRun.Record.NotarySignature, again.Record.NotarySignature)
}

func TestNew(t *testing.T) {
	t.Run("test defaults", func(t *testing.T) {
		n := newTestNetwork(t, alice)

		node, err := New(
			WithIdentity(alice, n.keys[alice]),
			WithDirectory(n.dir),
			WithPlatform(n.platform),
		)
		require.NoError(t, err)

		ctx := node.Context()
		require.Len(t, ctx.OutboundTransports(), 2)
		require.True(t, ctx.OutboundTransports()[0].Accept("http://localhost:8080/basket-iou"))
		require.True(t, ctx.OutboundTransports()[1].Accept("ws://localhost:8080/ws"))
		require.NotNil(t, ctx.StorageProvider())
		require.Equal(t, basketiou.DefaultValidityWindow, ctx.ValidityWindow())
		require.Equal(t, n.platform.Notary(), ctx.Notary())
		require.Equal(t, alice, ctx.Self().Name)
		require.NotNil(t, ctx.IdentityExchange())
		require.Empty(t, node.Endpoint())

		svc, err := ctx.Service(basketiou.Name)
		require.NoError(t, err)
		require.Equal(t, node.BasketIOU(), svc)

		_, err = ctx.Service(swapidentities.Name)
		require.NoError(t, err)

		require.NoError(t, node.Close())
		require.NoError(t, node.Close())
	})

	t.Run("test options", func(t *testing.T) {
		n := newTestNetwork(t, alice)
		window := time.Minute

		node := n.start(t, alice, mem.NewProvider(), WithValidityWindow(window), WithNotary(n.platform.Notary()))
		require.Equal(t, window, node.Context().ValidityWindow())
		require.Equal(t, memtransport.Endpoint(alice), node.Endpoint())
	})

	t.Run("test log level", func(t *testing.T) {
		n := newTestNetwork(t, alice)

		defer log.SetLevel("", log.INFO)

		n.start(t, alice, mem.NewProvider(), WithLogLevel("debug"))
		require.Equal(t, log.DEBUG, log.GetLevel("basket-iou/framework/node"))
	})

	t.Run("test custom ledger", func(t *testing.T) {
		n := newTestNetwork(t, alice)

		var created ledger.Party

		n.start(t, alice, mem.NewProvider(),
			WithLedger(func(self ledger.Party, km kms.KeyManager) (ledger.Ledger, error) {
				created = self

				return n.platform.ForParty(self, km), nil
			}))
		require.Equal(t, alice, created.Name)
	})

	t.Run("test key already held by the store", func(t *testing.T) {
		n := newTestNetwork(t, alice)
		store := mem.NewProvider()

		km, err := kms.New(store)
		require.NoError(t, err)

		_, err = km.Import(n.keys[alice])
		require.NoError(t, err)

		n.start(t, alice, store, WithIdentity(alice, nil))
	})

	t.Run("test errors", func(t *testing.T) {
		n := newTestNetwork(t, alice)
		other := newTestNetwork(t, alice)

		tests := []struct {
			name string
			opts []Option
			err  string
		}{
			{
				name: "empty party name",
				opts: []Option{WithIdentity("", nil)},
				err:  "party name is required",
			},
			{
				name: "invalid validity window",
				opts: []Option{WithValidityWindow(-time.Second)},
				err:  "invalid validity window",
			},
			{
				name: "invalid log level",
				opts: []Option{WithLogLevel("loud")},
				err:  "parse log level",
			},
			{
				name: "missing identity",
				opts: []Option{WithDirectory(n.dir), WithPlatform(n.platform)},
				err:  "local party identity is required",
			},
			{
				name: "missing directory",
				opts: []Option{WithIdentity(alice, n.keys[alice]), WithPlatform(n.platform)},
				err:  "directory is required",
			},
			{
				name: "missing ledger",
				opts: []Option{WithIdentity(alice, n.keys[alice]), WithDirectory(n.dir)},
				err:  "ledger is required",
			},
			{
				name: "party not in the directory",
				opts: []Option{WithIdentity(bob, n.keys[alice]), WithDirectory(n.dir), WithPlatform(n.platform)},
				err:  identity.ErrPartyNotFound.Error(),
			},
			{
				name: "key does not match the directory",
				opts: []Option{WithIdentity(alice, other.keys[alice]), WithDirectory(n.dir), WithPlatform(n.platform)},
				err:  "does not match the directory",
			},
			{
				name: "no private key",
				opts: []Option{WithIdentity(alice, nil), WithDirectory(n.dir), WithPlatform(n.platform)},
				err:  ledger.ErrKeyNotFound.Error(),
			},
			{
				name: "ledger creation fails",
				opts: []Option{
					WithIdentity(alice, n.keys[alice]), WithDirectory(n.dir),
					WithLedger(func(ledger.Party, kms.KeyManager) (ledger.Ledger, error) {
						return nil, errors.New("ledger offline")
					}),
				},
				err: "ledger offline",
			},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := New(tc.opts...)
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.err)
			})
		}
	})

	t.Run("test inbound transport start fails", func(t *testing.T) {
		n := newTestNetwork(t, alice)

		inbox := n.mem.Inbox(alice)
		require.NoError(t, inbox.Start(func([]byte) error { return nil }))

		defer func() { require.NoError(t, inbox.Stop()) }()

		_, err := New(n.options(alice, mem.NewProvider())...)
		require.Error(t, err)
		require.Contains(t, err.Error(), "inbound transport start failed")
	})
}
