/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package basketiou-sim runs basket-iou scenarios between two simulated parties.
package main

import (
	"github.com/spf13/cobra"

	"github.com/cts-etf/basket-iou/cmd/basketiou-sim/simcmd"
	"github.com/cts-etf/basket-iou/pkg/common/log"
)

// This is an application which runs basket-iou scenarios between PartyA and PartyB.
func main() {
	rootCmd := &cobra.Command{
		Use: "basketiou-sim",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	logger := log.New("basket-iou/sim")

	runCmd, err := simcmd.Cmd()
	if err != nil {
		logger.Fatalf(err.Error())
	}

	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatalf("Failed to run basketiou-sim: %s", err)
	}
}
