// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// itervm drives transactions through the iterative execution engine over a local ledger.
package main

import (
	"fmt"
	"os"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/vechain/itervm/log"
)

var (
	version   string
	gitCommit string
	gitTag    string

	globalFlags = []cli.Flag{
		dataDirFlag,
		configFlag,
		verbosityFlag,
		jsonLogsFlag,
		cacheFlag,
		leaseDurationFlag,
		opcodesPerIterationFlag,
		enableMetricsFlag,
		metricsAddrFlag,
		ntpCheckFlag,
	}
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "itervm",
		Usage:     "Iterative execution engine",
		Copyright: "2025 VeChain Foundation <https://vechain.org/>",
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "run transactions to completion",
				Flags:  append([]cli.Flag{txFileFlag, parallelFlag}, globalFlags...),
				Action: runAction,
			},
			{
				Name:   "fund",
				Usage:  "set the nonce and balance of an account",
				Flags:  append([]cli.Flag{addressFlag, balanceFlag, nonceFlag}, globalFlags...),
				Action: fundAction,
			},
			{
				Name:   "deploy",
				Usage:  "install contract code at an address",
				Flags:  append([]cli.Flag{addressFlag, codeFlag}, globalFlags...),
				Action: deployAction,
			},
			{
				Name:   "show",
				Usage:  "show an account or a holder record",
				Flags:  append([]cli.Flag{addressFlag, holderFlag}, globalFlags...),
				Action: showAction,
			},
			{
				Name:   "serve",
				Usage:  "serve the ledger over http",
				Flags:  append([]cli.Flag{apiAddrFlag}, globalFlags...),
				Action: serveAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("exited", "err", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
