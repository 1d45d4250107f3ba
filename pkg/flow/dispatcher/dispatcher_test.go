/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
)

type fakeService struct {
	name     string
	accepted string
	handled  []service.MsgMap
	err      error
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Accept(msgType string) bool { return msgType == s.accepted }

func (s *fakeService) HandleInbound(msg service.MsgMap, _ service.Context) (string, error) {
	s.handled = append(s.handled, msg)

	if s.err != nil {
		return "", s.err
	}

	return msg.ThreadID()
}

type fakeMessenger struct {
	service.Messenger
	recorded []string
	err      error
}

func (m *fakeMessenger) HandleInbound(msg service.MsgMap, ctx service.Context) error {
	m.recorded = append(m.recorded, msg.ID()+"@"+ctx.Them())

	return m.err
}

type fakeTransport struct {
	prefix string
	sent   map[string][]byte
	err    error
}

func (t *fakeTransport) Send(data []byte, endpoint string) error {
	if t.err != nil {
		return t.err
	}

	t.sent[endpoint] = data

	return nil
}

func (t *fakeTransport) Accept(endpoint string) bool {
	return len(endpoint) >= len(t.prefix) && endpoint[:len(t.prefix)] == t.prefix
}

type endpoints map[string]string

func (e endpoints) Endpoint(name string) (string, error) {
	if ep, ok := e[name]; ok {
		return ep, nil
	}

	return "", errors.New("unknown party")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := &fakeService{name: "a", accepted: "type-a"}
	b := &fakeService{name: "b", accepted: "type-b"}

	require.NoError(t, r.Register(a, b))
	require.Error(t, r.Register(&fakeService{name: "a"}))
	require.Len(t, r.All(), 2)

	svc, err := r.Lookup("type-b")
	require.NoError(t, err)
	require.Equal(t, b, svc)

	_, err = r.Lookup("type-c")
	require.ErrorIs(t, err, ErrNoService)

	svc, ok := r.Service("a")
	require.True(t, ok)
	require.Equal(t, a, svc)

	_, ok = r.Service("c")
	require.False(t, ok)
}

func TestDispatcher_Send(t *testing.T) {
	mem := &fakeTransport{prefix: "mem://", sent: map[string][]byte{}}
	web := &fakeTransport{prefix: "http://", sent: map[string][]byte{}}
	eps := endpoints{"PartyB": "mem://PartyB", "PartyC": "http://c", "PartyD": "ftp://d"}
	o := NewOutbound(eps, web, mem)

	t.Run("wraps the message in an envelope", func(t *testing.T) {
		require.NoError(t, o.Send(service.MsgMap{"@id": "1", "@type": "t"}, "PartyA", "PartyB"))

		var env Envelope
		require.NoError(t, json.Unmarshal(mem.sent["mem://PartyB"], &env))
		require.Equal(t, "PartyA", env.From)
		require.Equal(t, "PartyB", env.To)
		require.JSONEq(t, `{"@id":"1","@type":"t"}`, string(env.Message))
	})

	t.Run("picks the accepting transport", func(t *testing.T) {
		require.NoError(t, o.Send(service.MsgMap{"@id": "2"}, "PartyA", "PartyC"))
		require.Contains(t, web.sent, "http://c")
	})

	t.Run("no transport", func(t *testing.T) {
		err := o.Send(service.MsgMap{}, "PartyA", "PartyD")
		require.ErrorIs(t, err, ErrNoTransport)
	})

	t.Run("unknown party", func(t *testing.T) {
		err := o.Send(service.MsgMap{}, "PartyA", "PartyX")
		require.Contains(t, err.Error(), "resolve endpoint of PartyX")
	})

	t.Run("transport error", func(t *testing.T) {
		broken := NewOutbound(eps, &fakeTransport{prefix: "mem://", err: errors.New("down")})
		err := broken.Send(service.MsgMap{}, "PartyA", "PartyB")
		require.Contains(t, err.Error(), "down")
	})

	t.Run("marshal error", func(t *testing.T) {
		err := o.Send(make(chan int), "PartyA", "PartyB")
		require.Contains(t, err.Error(), "failed marshal to bytes")
	})
}

func envelope(t *testing.T, from, to string, msg interface{}) []byte {
	t.Helper()

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	data, err := json.Marshal(&Envelope{From: from, To: to, Message: raw})
	require.NoError(t, err)

	return data
}

func TestMessageHandler(t *testing.T) {
	svc := &fakeService{name: "a", accepted: "type-a"}
	r := NewRegistry()
	require.NoError(t, r.Register(svc))

	messenger := &fakeMessenger{}
	h := NewInboundMessageHandler("PartyB", r, messenger)
	handle := h.HandlerFunc()

	t.Run("dispatches", func(t *testing.T) {
		require.NoError(t, handle(envelope(t, "PartyA", "PartyB", service.MsgMap{"@id": "1", "@type": "type-a"})))
		require.Len(t, svc.handled, 1)
		require.Equal(t, []string{"1@PartyA"}, messenger.recorded)
	})

	t.Run("rejects", func(t *testing.T) {
		tests := []struct {
			name string
			data []byte
			err  string
		}{
			{name: "garbage", data: []byte("{"), err: "unmarshal envelope"},
			{name: "wrong recipient", data: envelope(t, "PartyA", "PartyC", service.MsgMap{}), err: "addressed to"},
			{name: "no sender", data: envelope(t, "", "PartyB", service.MsgMap{}), err: "no sender"},
			{name: "no id", data: envelope(t, "PartyA", "PartyB", service.MsgMap{"@type": "type-a"}), err: "no id"},
			{
				name: "unknown type",
				data: envelope(t, "PartyA", "PartyB", service.MsgMap{"@id": "2", "@type": "type-x"}),
				err:  ErrNoService.Error(),
			},
		}

		for _, tc := range tests {
			tc := tc

			t.Run(tc.name, func(t *testing.T) {
				err := handle(tc.data)
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.err)
			})
		}
	})

	t.Run("service error", func(t *testing.T) {
		svc.err = errors.New("bad state")
		defer func() { svc.err = nil }()

		err := handle(envelope(t, "PartyA", "PartyB", service.MsgMap{"@id": "3", "@type": "type-a"}))
		require.EqualError(t, err, "a: bad state")
	})

	t.Run("messenger error", func(t *testing.T) {
		messenger.err = errors.New("store down")
		defer func() { messenger.err = nil }()

		err := handle(envelope(t, "PartyA", "PartyB", service.MsgMap{"@id": "4", "@type": "type-a"}))
		require.Contains(t, err.Error(), "store down")
	})
}
