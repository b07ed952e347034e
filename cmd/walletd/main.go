// Command walletd is the custodial wallet daemon: it loads configuration,
// wires the engine for every configured chain, serves Prometheus metrics,
// and runs until interrupted, draining in-flight settlements on shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nnlgsakib/crypto-manager-engine"
	"github.com/nnlgsakib/crypto-manager-engine/build"
	"github.com/nnlgsakib/crypto-manager-engine/config"
)

const metricsShutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "walletd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logWriter := build.NewRotatingLogWriter()
	logFile := filepath.Join(cfg.LogDir, "walletd.log")
	if err := logWriter.InitLogRotator(logFile, 10); err != nil {
		return fmt.Errorf("initializing log rotator: %w", err)
	}
	engine.SetupLoggers(logWriter)
	logWriter.SetLogLevels(cfg.DebugLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			fmt.Fprintln(os.Stderr, "walletd: closing engine:", cerr)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.RPCListen, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "walletd: metrics server:", err)
		}
	}()

	runErr := eng.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("engine run: %w", runErr)
	}
	return nil
}
