/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"errors"
	"net/http"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"

	"github.com/cts-etf/basket-iou/pkg/flow/protocol/basketiou"
	httptransport "github.com/cts-etf/basket-iou/pkg/flow/transport/http"
	"github.com/cts-etf/basket-iou/pkg/flow/transport/ws"
)

// defNodeOpts provides default node options.
func defNodeOpts(n *Node) error {
	if n.name == "" {
		return errors.New("local party identity is required")
	}

	if n.directory == nil {
		return errors.New("directory is required")
	}

	if n.ledgerCreator == nil {
		return errors.New("ledger is required")
	}

	if len(n.outboundTransports) == 0 {
		n.outboundTransports = append(n.outboundTransports,
			httptransport.NewOutbound(httptransport.WithOutboundHTTPClient(&http.Client{})), ws.NewOutbound())
	}

	if n.storeProvider == nil {
		n.storeProvider = mem.NewProvider()
		n.ownsStore = true
	}

	if n.clock == nil {
		n.clock = time.Now
	}

	if n.validityWindow == 0 {
		n.validityWindow = basketiou.DefaultValidityWindow
	}

	return nil
}
