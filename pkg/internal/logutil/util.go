/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logutil

import (
	"fmt"

	"github.com/cts-etf/basket-iou/pkg/common/log"
)

// LogError logs a failed protocol action together with key/value context.
func LogError(logger *log.Log, protocol, action, errMsg string, data ...string) {
	logger.Errorf("protocol=[%s] action=[%s] %s errMsg=[%s]", protocol, action, data, errMsg)
}

// LogDebug logs a protocol action together with key/value context.
func LogDebug(logger *log.Log, protocol, action, msg string, data ...string) {
	logger.Debugf("protocol=[%s] action=[%s] %s msg=[%s]", protocol, action, data, msg)
}

// CreateKeyValueString creates a concatenated string.
func CreateKeyValueString(key, val string) string {
	return fmt.Sprintf("%s=[%s]", key, val)
}
