/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package swapidentities

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mock"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/flow/dispatcher"
	"github.com/cts-etf/basket-iou/pkg/flow/messenger"
	memtransport "github.com/cts-etf/basket-iou/pkg/flow/transport/mem"
	"github.com/cts-etf/basket-iou/pkg/identity"
	"github.com/cts-etf/basket-iou/pkg/kms"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

const (
	alice = "alice"
	bob   = "bob"

	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type testProvider struct {
	messenger service.Messenger
	store     storage.Provider
	km        kms.KeyManager
	directory identity.Directory
	resolver  *identity.Resolver
	self      ledger.Party
	outbound  dispatcher.Outbound
}

func (p *testProvider) Messenger() service.Messenger            { return p.messenger }
func (p *testProvider) StorageProvider() storage.Provider       { return p.store }
func (p *testProvider) KMS() kms.KeyManager                     { return p.km }
func (p *testProvider) Directory() identity.Directory           { return p.directory }
func (p *testProvider) Resolver() *identity.Resolver            { return p.resolver }
func (p *testProvider) Self() ledger.Party                      { return p.self }
func (p *testProvider) OutboundDispatcher() dispatcher.Outbound { return p.outbound }

type testParty struct {
	party    ledger.Party
	svc      *Service
	km       *kms.LocalKMS
	resolver *identity.Resolver
}

func newKeyPair(t *testing.T) (ledger.PublicKey, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return ledger.PublicKey(pub), priv
}

// newTestNetwork wires one swap-identities service per directory over an in-memory network.
// Each party resolves its peers through its own directory.
func newTestNetwork(t *testing.T, keys map[string]ed25519.PrivateKey,
	dirs map[string]*identity.StaticDirectory) map[string]*testParty {
	t.Helper()

	network := memtransport.NewNetwork()
	parties := map[string]*testParty{}

	for name, priv := range keys {
		store := mem.NewProvider()

		km, err := kms.New(store)
		require.NoError(t, err)

		pub, err := km.Import(priv)
		require.NoError(t, err)

		resolver, err := identity.NewResolver(store)
		require.NoError(t, err)

		p := &testProvider{
			store:     store,
			km:        km,
			directory: dirs[name],
			resolver:  resolver,
			self:      ledger.Party{Name: name, Key: pub},
			outbound:  dispatcher.NewOutbound(dirs[name], network.Outbound()),
		}

		msgr, err := messenger.NewMessenger(p)
		require.NoError(t, err)

		p.messenger = msgr

		svc, err := New(p)
		require.NoError(t, err)

		registry := dispatcher.NewRegistry()
		require.NoError(t, registry.Register(svc))

		inbox := network.Inbox(name)
		require.NoError(t, inbox.Start(dispatcher.NewInboundMessageHandler(name, registry, msgr).HandlerFunc()))

		t.Cleanup(func() {
			require.NoError(t, inbox.Stop())
		})

		parties[name] = &testParty{party: p.self, svc: svc, km: km, resolver: resolver}
	}

	return parties
}

func honestDirectory(keys map[string]ed25519.PrivateKey) *identity.StaticDirectory {
	dir := identity.NewStaticDirectory()

	for name, priv := range keys {
		dir.Add(identity.Entry{
			Party:    ledger.Party{Name: name, Key: ledger.PublicKey(priv.Public().(ed25519.PublicKey))},
			Endpoint: memtransport.Endpoint(name),
		})
	}

	return dir
}

func waitResult(t *testing.T, svc *Service, pthID string) (map[string]ledger.AnonymousParty, error) {
	t.Helper()

	var (
		result map[string]ledger.AnonymousParty
		err    error
	)

	require.Eventually(t, func() bool {
		result, err = svc.Result(pthID)

		return !errors.Is(err, ErrPending) && !errors.Is(err, ErrNotFound)
	}, waitFor, tick)

	return result, err
}

func TestService_Swap(t *testing.T) {
	_, alicePriv := newKeyPair(t)
	_, bobPriv := newKeyPair(t)
	keys := map[string]ed25519.PrivateKey{alice: alicePriv, bob: bobPriv}

	t.Run("both parties learn both identities", func(t *testing.T) {
		dir := honestDirectory(keys)
		parties := newTestNetwork(t, keys, map[string]*identity.StaticDirectory{alice: dir, bob: dir})

		events := make(chan service.StateMsg, 20)
		require.NoError(t, parties[alice].svc.RegisterMsgEvent(events))

		thID, err := parties[alice].svc.Swap("run-1", bob)
		require.NoError(t, err)
		require.NotEmpty(t, thID)

		aliceView, err := waitResult(t, parties[alice].svc, "run-1")
		require.NoError(t, err)
		require.Len(t, aliceView, 2)

		bobView, err := waitResult(t, parties[bob].svc, "run-1")
		require.NoError(t, err)
		require.Equal(t, aliceView, bobView)
		require.False(t, aliceView[alice].Key.Equal(aliceView[bob].Key))

		require.True(t, parties[alice].km.Has(aliceView[alice].Key))
		require.True(t, parties[bob].km.Has(aliceView[bob].Key))
		require.False(t, parties[alice].km.Has(aliceView[bob].Key))

		for owner, anon := range aliceView {
			for _, p := range parties {
				wellKnown, err := p.resolver.WellKnown(anon.Abstract())
				require.NoError(t, err)
				require.Equal(t, owner, wellKnown.Name)
			}
		}

		mappings, err := parties[bob].resolver.Mappings("run-1")
		require.NoError(t, err)
		require.Equal(t, aliceView, mappings)

		var last service.StateMsg

		require.Eventually(t, func() bool {
			for {
				select {
				case msg := <-events:
					last = msg
				default:
					return last.StateID == StateIDDone && last.Type == service.PostState
				}
			}
		}, waitFor, tick)

		props, ok := last.Properties.(*eventProps)
		require.True(t, ok)
		require.Equal(t, thID, props.PIID())
		require.Equal(t, "run-1", props.ParentThreadID())
		require.Equal(t, aliceView, props.Identities())
		require.NoError(t, props.Err())
		require.Equal(t, "run-1", last.Properties.All()[parentIDPropKey])
	})

	t.Run("exchanges of different runs are independent", func(t *testing.T) {
		dir := honestDirectory(keys)
		parties := newTestNetwork(t, keys, map[string]*identity.StaticDirectory{alice: dir, bob: dir})

		_, err := parties[alice].svc.Swap("run-a", bob)
		require.NoError(t, err)

		_, err = parties[bob].svc.Swap("run-b", alice)
		require.NoError(t, err)

		first, err := waitResult(t, parties[alice].svc, "run-a")
		require.NoError(t, err)

		second, err := waitResult(t, parties[alice].svc, "run-b")
		require.NoError(t, err)

		require.False(t, first[alice].Key.Equal(second[alice].Key))
		require.False(t, first[bob].Key.Equal(second[bob].Key))
	})

	t.Run("forged proof abandons both sides", func(t *testing.T) {
		impostor, _ := newKeyPair(t)

		bobDir := honestDirectory(keys)
		bobDir.Add(identity.Entry{
			Party:    ledger.Party{Name: alice, Key: impostor},
			Endpoint: memtransport.Endpoint(alice),
		})

		parties := newTestNetwork(t, keys, map[string]*identity.StaticDirectory{
			alice: honestDirectory(keys),
			bob:   bobDir,
		})

		_, err := parties[alice].svc.Swap("run-1", bob)
		require.NoError(t, err)

		_, err = waitResult(t, parties[bob].svc, "run-1")
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid identity proof")

		_, err = waitResult(t, parties[alice].svc, "run-1")
		require.Error(t, err)
		require.Contains(t, err.Error(), codeInvalidIdentity)

		mappings, err := parties[bob].resolver.Mappings("run-1")
		require.NoError(t, err)
		require.Empty(t, mappings)
	})

	t.Run("counterparty checks", func(t *testing.T) {
		dir := honestDirectory(keys)
		parties := newTestNetwork(t, keys, map[string]*identity.StaticDirectory{alice: dir, bob: dir})

		_, err := parties[alice].svc.Swap("run-1", alice)
		require.EqualError(t, err, "cannot swap identities with self")

		_, err = parties[alice].svc.Swap("run-1", "carol")
		require.ErrorIs(t, err, identity.ErrPartyNotFound)

		_, err = parties[alice].svc.Result("run-1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_HandleInbound(t *testing.T) {
	_, alicePriv := newKeyPair(t)
	_, bobPriv := newKeyPair(t)
	keys := map[string]ed25519.PrivateKey{alice: alicePriv, bob: bobPriv}
	dir := honestDirectory(keys)
	parties := newTestNetwork(t, keys, map[string]*identity.StaticDirectory{alice: dir, bob: dir})
	svc := parties[bob].svc

	t.Run("name and accept", func(t *testing.T) {
		require.Equal(t, Name, svc.Name())
		require.True(t, svc.Accept(ProposeIdentityMsgType))
		require.True(t, svc.Accept(ConfirmIdentityMsgType))
		require.True(t, svc.Accept(ProblemReportMsgType))
		require.False(t, svc.Accept("https://cts-etf.dev/basket-iou/1.0/sign-request"))
	})

	t.Run("confirm on unknown thread", func(t *testing.T) {
		msg := service.MsgMap{"@id": "m-1", "@type": ConfirmIdentityMsgType}
		msg.SetThread("unknown", "run-x")

		_, err := svc.HandleInbound(msg, service.NewContext(bob, alice))
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("thread id is required", func(t *testing.T) {
		_, err := svc.HandleInbound(service.MsgMap{"@type": ProposeIdentityMsgType}, service.NewContext(bob, alice))
		require.ErrorIs(t, err, service.ErrThreadIDNotFound)
	})

	t.Run("finished exchange rejects late messages", func(t *testing.T) {
		thID, err := parties[alice].svc.Swap("run-late", bob)
		require.NoError(t, err)

		_, err = waitResult(t, parties[alice].svc, "run-late")
		require.NoError(t, err)

		msg := service.MsgMap{"@id": "m-2", "@type": ProblemReportMsgType, "code": "late"}
		msg.SetThread(thID, "run-late")

		_, err = parties[alice].svc.HandleInbound(msg, service.NewContext(alice, bob))
		require.Error(t, err)
		require.Contains(t, err.Error(), "already done")
	})

	t.Run("messages from a third party are rejected", func(t *testing.T) {
		thID, err := parties[alice].svc.Swap("run-mallory", bob)
		require.NoError(t, err)

		_, err = waitResult(t, parties[bob].svc, "run-mallory")
		require.NoError(t, err)

		msg := service.MsgMap{"@id": "m-3", "@type": ProblemReportMsgType, "code": "spoof"}
		msg.SetThread(thID, "run-mallory")

		_, err = svc.HandleInbound(msg, service.NewContext(bob, "mallory"))
		require.Error(t, err)
	})
}

func TestNew(t *testing.T) {
	p := &testProvider{
		store:     mem.NewProvider(),
		directory: identity.NewStaticDirectory(),
	}

	t.Run("open store error", func(t *testing.T) {
		_, err := New(&testProvider{store: &mock.Provider{ErrOpenStore: errors.New("db down")}})
		require.EqualError(t, err, "open store: db down")
	})

	t.Run("local party is required", func(t *testing.T) {
		_, err := New(p)
		require.EqualError(t, err, "swap-identities: local party is required")
	})
}
