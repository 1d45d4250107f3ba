/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package basketiou records that one party borrows a security basket from another. The borrower and
// the lender sign an IOU transaction naming the basket, a notary checks its validity window and
// countersigns it, and both parties keep the finalized record.
//
// Packages for end developer usage
//
// pkg/framework/node: Starts a party. A node wires the key manager, the ledger, the identity
// exchange and the basket-iou protocol to an inbound transport and the outbound transports.
//
// pkg/client/basketiou: Borrows a basket through a node and reports the progress of the run.
//
// cmd/basketiou-sim: Runs the named, anonymous, unresolved, rejected and expired scenarios between
// two simulated parties.
//
// Basic workflow
//
//      1) Start a node for each party using node options.
//      2) Create a client instance using its New func, passing the node context.
//      3) Call InitiateBasketIou on the borrower's client.
//      4) Call Close on each node to release resources.
package basketiou
