/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package basketiou provides a client for the basket-iou protocol, which records that one party
// borrows a security basket from another as a transaction signed by both and notarised.
//
// Create your client:
//
// n := startNode()
// client, err := basketiou.New(n.Context())
// if err != nil {
//     panic(err)
// }
//
// Borrow a basket and wait for the finalized record:
//
// record, err := client.InitiateBasketIou(ctx, "Qm123", "PartyB", false,
//     basketiou.WithProgress(func(p basketiou.Progress) {
//         fmt.Println(p.State, p.SubState)
//     }))
//
// A run that fails returns a *basketiou.ProtocolError naming the state it failed in and the
// kind of failure. Runs answered on behalf of the local party are listed by client.Runs().
package basketiou
