// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	cli "gopkg.in/urfave/cli.v1"
)

var (
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Value: defaultDataDir(),
		Usage: "directory for the ledger database",
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to the yaml config file",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Value: 3,
		Usage: "log verbosity (0-5)",
	}
	jsonLogsFlag = cli.BoolFlag{
		Name:  "json-logs",
		Usage: "output logs in JSON format",
	}
	cacheFlag = cli.IntFlag{
		Name:  "cache",
		Value: 256,
		Usage: "megabytes of ram allocated to the ledger cache",
	}
	leaseDurationFlag = cli.Int64Flag{
		Name:  "lease-duration",
		Usage: "seconds an account lock stays active without renewal",
	}
	opcodesPerIterationFlag = cli.Uint64Flag{
		Name:  "opcodes-per-iteration",
		Usage: "opcode cap of one execute iteration",
	}
	enableMetricsFlag = cli.BoolFlag{
		Name:  "enable-metrics",
		Usage: "enables metrics collection",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Value: "localhost:2112",
		Usage: "metrics service listening address",
	}
	apiAddrFlag = cli.StringFlag{
		Name:  "api-addr",
		Value: "localhost:8669",
		Usage: "API service listening address",
	}
	ntpCheckFlag = cli.BoolFlag{
		Name:  "ntp-check",
		Usage: "warn if the local clock drifts from NTP",
	}

	txFileFlag = cli.StringFlag{
		Name:  "tx",
		Usage: "path to the yaml file of transactions",
	}
	parallelFlag = cli.BoolFlag{
		Name:  "parallel",
		Usage: "run the transactions concurrently",
	}
	addressFlag = cli.StringFlag{
		Name:  "address",
		Usage: "account address",
	}
	holderFlag = cli.StringFlag{
		Name:  "holder",
		Usage: "holder account key",
	}
	balanceFlag = cli.StringFlag{
		Name:  "balance",
		Value: "0",
		Usage: "balance in wei",
	}
	nonceFlag = cli.Uint64Flag{
		Name:  "nonce",
		Usage: "account nonce",
	}
	codeFlag = cli.StringFlag{
		Name:  "code",
		Usage: "contract code in hex",
	}
)
