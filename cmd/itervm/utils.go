// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"
	"time"

	"github.com/beevik/ntp"
	"github.com/elastic/gosigar"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/fdlimit"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/vechain/itervm/ledger"
	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/lvldb"
	"github.com/vechain/itervm/metrics"
	"github.com/vechain/itervm/runtime"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/xenv"
)

func initLogger(ctx *cli.Context) {
	lvl := &slog.LevelVar{}
	lvl.Set(log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)))

	var handler slog.Handler
	if ctx.Bool(jsonLogsFlag.Name) {
		handler = log.JSONHandlerWithLevel(os.Stderr, lvl)
	} else {
		fd := os.Stderr.Fd()
		useColor := (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) && os.Getenv("TERM") != "dumb"
		handler = log.NewTerminalHandlerWithLevel(os.Stderr, lvl, useColor)
	}
	log.SetDefault(log.NewLogger(handler))
}

func defaultDataDir() string {
	if home := homeDir(); home != "" {
		return filepath.Join(home, ".itervm")
	}
	return ""
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// loadConfig reads the config file if given, then applies the flag overrides.
func loadConfig(ctx *cli.Context) (thor.Config, error) {
	cfg := thor.DefaultConfig()
	if path := ctx.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = thor.LoadConfig(path); err != nil {
			return thor.Config{}, err
		}
	}
	if ctx.IsSet(leaseDurationFlag.Name) {
		cfg.LeaseDuration = ctx.Int64(leaseDurationFlag.Name)
	}
	if ctx.IsSet(opcodesPerIterationFlag.Name) {
		cfg.OpcodesPerIteration = ctx.Uint64(opcodesPerIterationFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return thor.Config{}, errors.Wrap(err, "config")
	}
	return cfg, nil
}

// setup prepares logging, metrics and the runtime over the ledger in the data dir.
// The returned func releases the resources.
func setup(ctx *cli.Context) (*runtime.Runtime, func(), error) {
	initLogger(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if ctx.Bool(ntpCheckFlag.Name) {
		checkClockOffset(cfg.LeaseDuration)
	}

	dataDir := ctx.String(dataDirFlag.Name)
	if dataDir == "" {
		return nil, nil, errors.Errorf("unable to infer default data dir, use -%s to specify one", dataDirFlag.Name)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, nil, errors.Wrapf(err, "create data dir at '%v'", dataDir)
	}

	cacheMB := normalizeCacheSize(ctx.Int(cacheFlag.Name))
	dir := filepath.Join(dataDir, "ledger.db")
	db, err := lvldb.New(dir, lvldb.Options{
		CacheSize:              cacheMB / 2,
		OpenFilesCacheCapacity: suggestFDCache(),
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open ledger database [%v]", dir)
	}

	closers := []func(){func() {
		log.Info("closing ledger database...")
		db.Close()
	}}
	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
		url, closeFunc, err := startMetricsServer(ctx.String(metricsAddrFlag.Name))
		if err != nil {
			db.Close()
			return nil, nil, errors.Wrap(err, "start metrics server")
		}
		log.Info("metrics server started", "url", url)
		closers = append(closers, closeFunc)
	}

	env := xenv.NewSystem(cfg.ChainID, cfg.FeeRecipient)
	rt := runtime.New(ledger.NewCached(db, cacheMB/2), env, cfg)
	log.Debug("runtime ready", "dataDir", dataDir, "lease", cfg.LeaseDuration, "opcodesPerIteration", cfg.OpcodesPerIteration)

	return rt, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

func normalizeCacheSize(sizeMB int) int {
	if sizeMB < 32 {
		sizeMB = 32
	}

	var mem gosigar.Mem
	if err := mem.Get(); err != nil {
		log.Warn("failed to get total mem:", "err", err)
	} else {
		// limit to 1/4 os physical ram
		limitMB := int(mem.Total / 1024 / 1024 / 4)
		if sizeMB > limitMB {
			sizeMB = limitMB
			log.Warn("cache size(MB) limited", "limit", limitMB)
		}
	}
	return sizeMB
}

func suggestFDCache() int {
	limit, err := fdlimit.Current()
	if err != nil {
		log.Warn("failed to get fd limit:", "err", err)
		return 0
	}
	if limit <= 1024 {
		log.Warn("low fd limit, increase it if possible", "limit", limit)
	}

	n := limit / 2
	if n > 1024 {
		return 1024
	}
	return n
}

// checkClockOffset warns if the local clock is off by more than half a lease.
func checkClockOffset(lease int64) {
	resp, err := ntp.Query("pool.ntp.org")
	if err != nil {
		log.Debug("failed to access NTP", "err", err)
		return
	}
	if resp.ClockOffset > time.Duration(lease)*time.Second/2 {
		log.Warn("clock offset detected", "offset", common.PrettyDuration(resp.ClockOffset))
	}
}

func handleExitSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		exitSignalCh := make(chan os.Signal, 1)
		signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)

		sig := <-exitSignalCh
		log.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}
