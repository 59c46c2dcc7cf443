// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/statesync/lib/bitlog"
	"github.com/bureau-foundation/statesync/lib/clock"
	"github.com/bureau-foundation/statesync/lib/config"
	"github.com/bureau-foundation/statesync/lib/deltastore"
	"github.com/bureau-foundation/statesync/lib/fieldwatch"
	"github.com/bureau-foundation/statesync/lib/manifest"
	"github.com/bureau-foundation/statesync/lib/query"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/service"
	"github.com/bureau-foundation/statesync/lib/session"
	"github.com/bureau-foundation/statesync/lib/snapshot"
	"github.com/bureau-foundation/statesync/lib/submit"
	"github.com/bureau-foundation/statesync/lib/syncmetrics"
)

// notificationBuffer bounds internal notifications queued for the
// observer. Host notifications do not pass through it.
const notificationBuffer = 64

var errStopped = errors.New("agent stopped")

// Agent holds the agent's runtime state. Created by newAgent and
// shared between the socket handlers and the background loops.
type Agent struct {
	config  *config.Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *syncmetrics.Metrics

	store    *deltastore.Store
	bitLog   *bitlog.Log
	sessions *session.Tracker
	observer *fieldwatch.Observer
	resolver *manifest.Resolver
	engine   *submit.Engine
	query    *query.Server
	socket   *service.SocketServer

	// metricsServer is nil when metrics.address is empty.
	metricsServer *service.HTTPServer

	// notifications carries internal events (manifest changes) to the
	// observer's Run loop. stopped is closed once that loop exits.
	notifications chan fieldwatch.Notification
	stopped       chan struct{}

	startedAt time.Time
}

func newAgent(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*Agent, error) {
	a := &Agent{
		config:        cfg,
		clock:         clk,
		logger:        logger,
		metrics:       syncmetrics.New(),
		store:         deltastore.New(),
		bitLog:        bitlog.New(logger),
		sessions:      session.NewTracker(),
		notifications: make(chan fieldwatch.Notification, notificationBuffer),
		stopped:       make(chan struct{}),
		startedAt:     clk.Now(),
	}

	a.observer = fieldwatch.NewObserver(fieldwatch.ObserverConfig{
		Sink:             a.store,
		BitLog:           a.bitLog,
		Sessions:         a.sessions,
		OnIdentityChange: a.identityChanged,
		Logger:           logger,
	})

	var seed *manifest.Manifest
	if cfg.Manifest.SeedFile != "" {
		loaded, err := manifest.LoadFile(cfg.Manifest.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("loading seed manifest: %w", err)
		}
		seed = loaded
		a.observer.SetManifest(seed)
	}
	if cfg.Manifest.DefinitionsFile != "" {
		definitions, err := fieldwatch.LoadDefinitions(cfg.Manifest.DefinitionsFile)
		if err != nil {
			return nil, fmt.Errorf("loading packed field definitions: %w", err)
		}
		a.observer.SetDefinitions(definitions)
	}

	resolver, err := manifest.NewResolver(manifest.ResolverConfig{
		ManifestURL: cfg.Endpoints.Manifest,
		VersionURL:  cfg.Endpoints.Version,
		Seed:        seed,
		OnChange:    a.manifestChanged,
		Clock:       clk,
		Metrics:     a.metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating manifest resolver: %w", err)
	}
	a.resolver = resolver

	compression, err := submit.ParseCompression(cfg.Submission.Compression)
	if err != nil {
		return nil, err
	}
	engine, err := submit.NewEngine(submit.EngineConfig{
		Transport: &submit.HTTPTransport{
			URL:         cfg.Endpoints.Submit,
			Client:      &http.Client{Timeout: cfg.Submission.Timeout},
			Compression: compression,
		},
		Store:     a.store,
		Manifests: a.resolver,
		Sessions:  a.sessions,
		Fields:    a.observer,
		BitLog:    a.bitLog,
		Period:    cfg.Submission.Period,
		Timeout:   cfg.Submission.Timeout,
		Clock:     clk,
		Metrics:   a.metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating submission engine: %w", err)
	}
	a.engine = engine

	if cfg.Query.Enabled {
		server, err := query.NewServer(query.Config{
			PortMin:        cfg.Query.PortMin,
			PortMax:        cfg.Query.PortMax,
			AllowedOrigins: cfg.Query.AllowedOrigins,
			EnsurePeriod:   cfg.Query.EnsurePeriod,
			Snapshot:       a.currentSnapshot,
			Username:       a.username,
			Clock:          clk,
			Metrics:        a.metrics,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating query server: %w", err)
		}
		a.query = server
	}

	if cfg.Metrics.Address != "" {
		server, err := service.NewHTTPServer(service.HTTPServerConfig{
			Name:    "metrics",
			Address: cfg.Metrics.Address,
			Handler: a.metricsHandler(),
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		a.metricsServer = server
	}

	a.socket = service.NewSocketServer(service.SocketServerConfig{
		Path:    cfg.Socket.Path,
		Observe: a.metrics.SocketAction,
		Logger:  logger,
	})
	a.registerActions(a.socket)

	return a, nil
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails. In-flight submissions are allowed to finish, and
// their outcomes discarded, before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.config.Socket.Path), 0o700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Listen(); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.socket.Serve(groupCtx)
	})
	group.Go(func() error {
		defer close(a.stopped)
		a.observer.Run(groupCtx, a.notifications)
		return nil
	})
	group.Go(func() error {
		a.resolver.Run(groupCtx, a.config.Manifest.CheckPeriod)
		return nil
	})
	group.Go(func() error {
		a.engine.Run(groupCtx)
		return nil
	})
	if a.query != nil {
		group.Go(func() error {
			return a.query.Run(groupCtx)
		})
	}
	if a.metricsServer != nil {
		group.Go(func() error {
			return a.metricsServer.Serve(groupCtx)
		})
	}

	a.logger.Info("statesync agent running",
		"socket", a.config.Socket.Path,
		"manifest_url", a.config.Endpoints.Manifest,
		"submit_url", a.config.Endpoints.Submit,
		"period", a.config.Submission.Period,
		"query_enabled", a.query != nil,
		"metrics_address", a.config.Metrics.Address,
	)

	err := group.Wait()
	a.logger.Info("shutting down")

	a.engine.Close()
	a.engine.Wait()
	return err
}

func (a *Agent) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// enqueue hands an internal notification to the observer loop. It
// gives up once the loop has stopped.
func (a *Agent) enqueue(ctx context.Context, notification fieldwatch.Notification) error {
	select {
	case a.notifications <- notification:
		return nil
	case <-a.stopped:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// manifestChanged runs on the resolver's goroutine.
func (a *Agent) manifestChanged(m *manifest.Manifest) {
	err := a.enqueue(context.Background(), fieldwatch.Notification{
		Kind:     fieldwatch.KindManifest,
		Manifest: m,
	})
	if err != nil {
		a.logger.Debug("manifest change not delivered to observer", "manifest_version", m.Version, "error", err)
	}
}

// identityChanged runs on whichever goroutine applied the session
// notification, often a socket handler, so the broadcast is handed off.
func (a *Agent) identityChanged(identity string) {
	a.logger.Info("session identity changed", "session_identity", identity)
	if a.query == nil {
		return
	}
	name := a.username()
	go a.query.BroadcastUsername(name)
}

func (a *Agent) username() string {
	state := a.sessions.State()
	if !state.LoggedIn {
		return ""
	}
	return state.Identity
}

// buildSnapshot returns the full current snapshot against the active
// manifest.
func (a *Agent) buildSnapshot() (*manifest.Manifest, playerdata.Snapshot) {
	m := a.resolver.Current()
	return m, snapshot.Build(m, a.observer, a.bitLog)
}

func (a *Agent) currentSnapshot() playerdata.Data {
	_, current := a.buildSnapshot()
	return current.Wire()
}
