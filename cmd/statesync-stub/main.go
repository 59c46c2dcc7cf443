// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Statesync-stub serves the remote sync service's three endpoints
// locally for development against a real agent:
//
//	GET  /manifest        the tracked field manifest
//	GET  /check_manifest  {"version": N}
//	POST /submit          logs and records the submission
//
// With --manifest the served manifest is read from a JSONC file and
// re-read on SIGHUP, so a version bump can be triggered without a
// restart.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/statesync/lib/manifest"
	"github.com/bureau-foundation/statesync/lib/process"
	"github.com/bureau-foundation/statesync/lib/service"
	"github.com/bureau-foundation/statesync/lib/stubserver"
	"github.com/bureau-foundation/statesync/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddress string
		manifestPath  string
		submitStatus  int
		logLevel      string
		showVersion   bool
	)

	flagSet := pflag.NewFlagSet("statesync-stub", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddress, "listen", "127.0.0.1:8484", "TCP listen address")
	flagSet.StringVar(&manifestPath, "manifest", "", "JSONC manifest file to serve (reloaded on SIGHUP)")
	flagSet.IntVar(&submitStatus, "submit-status", 200, "HTTP status returned for well-formed submissions")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("statesync-stub")
		return nil
	}
	if submitStatus < 100 || submitStatus > 599 {
		return fmt.Errorf("--submit-status %d is not an HTTP status", submitStatus)
	}

	logger, err := service.NewLogger(logLevel)
	if err != nil {
		return err
	}

	var served *manifest.Manifest
	if manifestPath != "" {
		served, err = manifest.LoadFile(manifestPath)
		if err != nil {
			return err
		}
	}

	stub := stubserver.New(stubserver.Config{
		Manifest:     served,
		SubmitStatus: submitStatus,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if manifestPath != "" {
		go reloadOnHangup(ctx, stub, manifestPath, logger)
	}

	server, err := service.NewHTTPServer(service.HTTPServerConfig{
		Name:    "stub",
		Address: listenAddress,
		Handler: stub.Handler(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	logger.Info("stub sync service running", "address", listenAddress, "manifest", manifestPath)
	return server.Serve(ctx)
}

func reloadOnHangup(ctx context.Context, stub *stubserver.Server, path string, logger *slog.Logger) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	for {
		select {
		case <-hangup:
			reloaded, err := manifest.LoadFile(path)
			if err != nil {
				logger.Error("manifest reload failed", "path", path, "error", err)
				continue
			}
			stub.SetManifest(reloaded)
			logger.Info("manifest reloaded", "path", path, "manifest_version", reloaded.Version)
		case <-ctx.Done():
			return
		}
	}
}
