/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messenger

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mock"
	"github.com/stretchr/testify/require"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	dispatcherMocks "github.com/cts-etf/basket-iou/pkg/internal/gomocks/flow/dispatcher"
	messengerMocks "github.com/cts-etf/basket-iou/pkg/internal/gomocks/flow/messenger"
)

const (
	ID   = "ID"
	me   = "PartyA"
	them = "PartyB"
)

// makes sure it satisfies the interface
var _ service.InboundMessenger = (*Messenger)(nil)

func newMessenger(t *testing.T, ctrl *gomock.Controller, outbound *dispatcherMocks.MockOutbound) *Messenger {
	t.Helper()

	provider := messengerMocks.NewMockProvider(ctrl)
	provider.EXPECT().StorageProvider().Return(mem.NewProvider())
	provider.EXPECT().OutboundDispatcher().Return(outbound)

	msgr, err := NewMessenger(provider)
	require.NoError(t, err)

	return msgr
}

func TestNewMessenger(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	t.Run("success", func(t *testing.T) {
		require.NotNil(t, newMessenger(t, ctrl, nil))
	})

	t.Run("open store error", func(t *testing.T) {
		provider := messengerMocks.NewMockProvider(ctrl)
		provider.EXPECT().StorageProvider().Return(&mock.Provider{ErrOpenStore: errors.New("test error")})

		msgr, err := NewMessenger(provider)
		require.EqualError(t, err, "open store: test error")
		require.Nil(t, msgr)
	})
}

func TestMessenger_HandleInbound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	msgr := newMessenger(t, ctrl, nil)

	t.Run("success", func(t *testing.T) {
		require.NoError(t, msgr.HandleInbound(service.MsgMap{"@id": ID}, service.NewContext(me, them)))
	})

	t.Run("absent ID", func(t *testing.T) {
		err := msgr.HandleInbound(service.MsgMap{}, service.NewContext(me, them))
		require.EqualError(t, err, "message-id is absent and can't be processed")
	})
}

func TestMessenger_Send(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	t.Run("opens a thread", func(t *testing.T) {
		outbound := dispatcherMocks.NewMockOutbound(ctrl)
		outbound.EXPECT().Send(gomock.Any(), me, them).
			Do(func(msg interface{}, _, _ string) {
				m, ok := msg.(service.MsgMap)
				require.True(t, ok)
				require.NotEmpty(t, m.ID())

				thID, err := m.ThreadID()
				require.NoError(t, err)
				require.Equal(t, m.ID(), thID)
			}).Return(nil)

		require.NoError(t, newMessenger(t, ctrl, outbound).Send(service.MsgMap{"@type": "t"}, me, them))
	})

	t.Run("keeps an existing thread", func(t *testing.T) {
		outbound := dispatcherMocks.NewMockOutbound(ctrl)
		outbound.EXPECT().Send(gomock.Any(), me, them).
			Do(func(msg interface{}, _, _ string) {
				m := msg.(service.MsgMap)

				thID, err := m.ThreadID()
				require.NoError(t, err)
				require.Equal(t, "th", thID)
				require.Equal(t, "pth", m.ParentThreadID())
			}).Return(nil)

		msg := service.MsgMap{"@type": "t"}
		msg.SetThread("th", "pth")

		require.NoError(t, newMessenger(t, ctrl, outbound).Send(msg, me, them))
	})

	t.Run("dispatcher error", func(t *testing.T) {
		outbound := dispatcherMocks.NewMockOutbound(ctrl)
		outbound.EXPECT().Send(gomock.Any(), me, them).Return(errors.New("test error"))

		err := newMessenger(t, ctrl, outbound).Send(service.MsgMap{}, me, them)
		require.EqualError(t, err, "test error")
	})
}

func TestMessenger_ReplyTo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	t.Run("replies on the inbound thread", func(t *testing.T) {
		outbound := dispatcherMocks.NewMockOutbound(ctrl)
		outbound.EXPECT().Send(gomock.Any(), me, them).
			Do(func(msg interface{}, _, _ string) {
				m := msg.(service.MsgMap)

				thID, err := m.ThreadID()
				require.NoError(t, err)
				require.Equal(t, "th", thID)
				require.Equal(t, "pth", m.ParentThreadID())
				require.NotEqual(t, ID, m.ID())
			}).Return(nil)

		msgr := newMessenger(t, ctrl, outbound)

		in := service.MsgMap{"@id": ID}
		in.SetThread("th", "pth")
		require.NoError(t, msgr.HandleInbound(in, service.NewContext(me, them)))

		out := service.MsgMap{"@type": "reply"}
		out.SetThread("other", "")
		require.NoError(t, msgr.ReplyTo(ID, out))
	})

	t.Run("unknown message", func(t *testing.T) {
		err := newMessenger(t, ctrl, nil).ReplyTo("unknown", service.MsgMap{})
		require.Contains(t, err.Error(), "get record")
	})
}
