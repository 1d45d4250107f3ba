/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package log provides the module and level based logger used across basket-iou.
// It delegates to the aries component logger so that custom logging providers
// registered there apply to this module too.
package log

import (
	"github.com/hyperledger/aries-framework-go/component/log"
	spilog "github.com/hyperledger/aries-framework-go/spi/log"
)

// Log is the module scoped logger.
type Log = log.Log

// Level is a log level for a logging message.
type Level = spilog.Level

// Log levels.
const (
	CRITICAL = spilog.CRITICAL
	ERROR    = spilog.ERROR
	WARNING  = spilog.WARNING
	INFO     = spilog.INFO
	DEBUG    = spilog.DEBUG
)

// Initialize sets the logger provider used by every module. Only the first call has an effect.
func Initialize(l spilog.LoggerProvider) {
	log.Initialize(l)
}

// New creates and returns a Logger implementation based on given module name.
// note: the underlying logger instance is lazy initialized on first use.
func New(module string) *Log {
	return log.New(module)
}

// SetLevel - setting log level for given module
//
//	Parameters:
//	module is module name
//	level is logging level
//
// If not set default logging level is info.
func SetLevel(module string, level Level) {
	log.SetLevel(module, level)
}

// GetLevel returns the log level for given module.
func GetLevel(module string) Level {
	return log.GetLevel(module)
}

// ParseLevel returns the log level from a string representation.
func ParseLevel(level string) (Level, error) {
	return log.ParseLevel(level)
}
