/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package simcmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cts-etf/basket-iou/pkg/common/log"
)

const (
	// scenario flag.
	scenarioFlagName      = "scenario"
	scenarioEnvKey        = "BASKETIOU_SCENARIO"
	scenarioFlagShorthand = "s"
	scenarioFlagUsage     = "Scenarios to run. Supported options: named, anonymous, unresolved, rejected, expired." +
		" Runs all of them when not set." +
		" Alternatively, this can be set with the following environment variable (comma-separated): " +
		scenarioEnvKey

	// transport flag.
	transportFlagName      = "transport"
	transportEnvKey        = "BASKETIOU_TRANSPORT"
	transportFlagShorthand = "t"
	transportFlagUsage     = "Transport between the parties. Supported options: mem, http, ws. Defaults to mem." +
		" Alternatively, this can be set with the following environment variable: " + transportEnvKey

	// http host flag.
	httpHostFlagName  = "http-host"
	httpHostEnvKey    = "BASKETIOU_HTTP_HOST"
	httpHostFlagUsage = "Host the HTTP and WebSocket inbound transports listen on, each party on a free port." +
		" Defaults to 127.0.0.1." +
		" Alternatively, this can be set with the following environment variable: " + httpHostEnvKey

	databaseTypeFlagName      = "database-type"
	databaseTypeEnvKey        = "BASKETIOU_DATABASE_TYPE"
	databaseTypeFlagShorthand = "q"
	databaseTypeFlagUsage     = "The type of database each party keeps its runs and keys in. " +
		"Supported options: mem, leveldb. Defaults to mem." +
		" Alternatively, this can be set with the following environment variable: " + databaseTypeEnvKey

	databasePathFlagName      = "database-path"
	databasePathEnvKey        = "BASKETIOU_DATABASE_PATH"
	databasePathFlagShorthand = "p"
	databasePathFlagUsage     = "Directory of the leveldb databases. Not needed if using mem." +
		" Alternatively, this can be set with the following environment variable: " + databasePathEnvKey

	basketHashFlagName      = "basket-hash"
	basketHashEnvKey        = "BASKETIOU_BASKET_HASH"
	basketHashFlagShorthand = "b"
	basketHashFlagUsage     = "Hash of the basket descriptor borrowed in every scenario. Defaults to Qm123." +
		" Alternatively, this can be set with the following environment variable: " + basketHashEnvKey

	timeoutFlagName  = "timeout"
	timeoutEnvKey    = "BASKETIOU_TIMEOUT"
	timeoutFlagUsage = "How long a scenario may take, as a duration (30s, 1m). Defaults to 30s." +
		" Alternatively, this can be set with the following environment variable: " + timeoutEnvKey

	// log level.
	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "BASKETIOU_LOGLEVEL"
	logLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		" Alternatively, this can be set with the following environment variable: " + logLevelEnvKey

	transportMemOption  = "mem"
	transportHTTPOption = "http"
	transportWSOption   = "ws"

	databaseTypeMemOption     = "mem"
	databaseTypeLevelDBOption = "leveldb"

	defaultHTTPHost   = "127.0.0.1"
	defaultBasketHash = "Qm123"
	defaultTimeout    = 30 * time.Second
)

var logger = log.New("basket-iou/sim")

type simParameters struct {
	scenarios  []string
	transport  string
	httpHost   string
	dbType     string
	dbPath     string
	basketHash string
	timeout    time.Duration
}

// Cmd returns the Cobra run command.
func Cmd() (*cobra.Command, error) {
	runCmd := createRunCMD()

	createFlags(runCmd)

	return runCmd, nil
}

func createRunCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run basket-iou scenarios",
		Long:  `Run basket-iou scenarios between PartyA, the borrower, and PartyB, the lender`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logLevel, err := getUserSetVar(cmd, logLevelFlagName, logLevelEnvKey, true)
			if err != nil {
				return err
			}

			err = setLogLevel(logLevel)
			if err != nil {
				return err
			}

			parameters, err := getSimParameters(cmd)
			if err != nil {
				return err
			}

			return runScenarios(cmd, parameters)
		},
	}
}

func getSimParameters(cmd *cobra.Command) (*simParameters, error) {
	scenarios, err := getUserSetVars(cmd, scenarioFlagName, scenarioEnvKey, true)
	if err != nil {
		return nil, err
	}

	if len(scenarios) == 0 {
		scenarios = scenarioNames()
	}

	for _, name := range scenarios {
		if _, ok := supportedScenarios[name]; !ok {
			return nil, fmt.Errorf("unsupported scenario %q, run run --help to see the available options", name)
		}
	}

	transport, err := getUserSetVar(cmd, transportFlagName, transportEnvKey, true)
	if err != nil {
		return nil, err
	}

	if transport == "" {
		transport = transportMemOption
	}

	if transport != transportMemOption && transport != transportHTTPOption && transport != transportWSOption {
		return nil, fmt.Errorf("unsupported transport %q, run run --help to see the available options", transport)
	}

	httpHost, err := getUserSetVar(cmd, httpHostFlagName, httpHostEnvKey, true)
	if err != nil {
		return nil, err
	}

	if httpHost == "" {
		httpHost = defaultHTTPHost
	}

	dbType, dbPath, err := getDBParams(cmd)
	if err != nil {
		return nil, err
	}

	basketHash, err := getUserSetVar(cmd, basketHashFlagName, basketHashEnvKey, true)
	if err != nil {
		return nil, err
	}

	if basketHash == "" {
		basketHash = defaultBasketHash
	}

	timeout, err := getTimeout(cmd)
	if err != nil {
		return nil, err
	}

	return &simParameters{
		scenarios:  scenarios,
		transport:  transport,
		httpHost:   httpHost,
		dbType:     dbType,
		dbPath:     dbPath,
		basketHash: basketHash,
		timeout:    timeout,
	}, nil
}

func getDBParams(cmd *cobra.Command) (string, string, error) {
	dbType, err := getUserSetVar(cmd, databaseTypeFlagName, databaseTypeEnvKey, true)
	if err != nil {
		return "", "", err
	}

	if dbType == "" {
		dbType = databaseTypeMemOption
	}

	if _, supported := supportedStorageProviders[dbType]; !supported {
		return "", "", fmt.Errorf("database type %q is not supported, run run --help to see the available options",
			dbType)
	}

	dbPath, err := getUserSetVar(cmd, databasePathFlagName, databasePathEnvKey, dbType == databaseTypeMemOption)
	if err != nil {
		return "", "", err
	}

	return dbType, dbPath, nil
}

func getTimeout(cmd *cobra.Command) (time.Duration, error) {
	v, err := getUserSetVar(cmd, timeoutFlagName, timeoutEnvKey, true)
	if err != nil {
		return 0, err
	}

	if v == "" {
		return defaultTimeout, nil
	}

	timeout, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse timeout %s: %w", v, err)
	}

	if timeout <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", v)
	}

	return timeout, nil
}

func createFlags(runCmd *cobra.Command) {
	// scenario flag
	runCmd.Flags().StringSliceP(scenarioFlagName, scenarioFlagShorthand, []string{}, scenarioFlagUsage)

	// transport flag
	runCmd.Flags().StringP(transportFlagName, transportFlagShorthand, "", transportFlagUsage)

	// http host flag
	runCmd.Flags().StringP(httpHostFlagName, "", "", httpHostFlagUsage)

	// db type
	runCmd.Flags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)

	// db path
	runCmd.Flags().StringP(databasePathFlagName, databasePathFlagShorthand, "", databasePathFlagUsage)

	// basket hash
	runCmd.Flags().StringP(basketHashFlagName, basketHashFlagShorthand, "", basketHashFlagUsage)

	// timeout
	runCmd.Flags().StringP(timeoutFlagName, "", "", timeoutFlagUsage)

	// log level
	runCmd.Flags().StringP(logLevelFlagName, "", "", logLevelFlagUsage)
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		return value, nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func getUserSetVars(cmd *cobra.Command, flagName, envKey string, isOptional bool) ([]string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetStringSlice(flagName)
		if err != nil {
			return nil, fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isSet {
		return splitList(value), nil
	}

	if isOptional {
		return nil, nil
	}

	return nil, errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func splitList(value string) []string {
	var values []string

	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}

	return values
}

func setLogLevel(logLevel string) error {
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level '%s' : %w", logLevel, err)
		}

		log.SetLevel("", level)

		logger.Infof("logger level set to %s", logLevel)
	}

	return nil
}
