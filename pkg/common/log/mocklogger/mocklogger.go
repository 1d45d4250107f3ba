/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mocklogger records log lines in memory so that tests can assert on them.
package mocklogger

import (
	"github.com/hyperledger/aries-framework-go/component/log/mocklogger"
)

// MockLogger collects every formatted line in AllLogContents.
type MockLogger = mocklogger.MockLogger

// Provider hands out MockLogger to every module. Pass it to log.Initialize.
type Provider = mocklogger.Provider
