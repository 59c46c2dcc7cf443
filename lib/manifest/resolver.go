// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/statesync/lib/clock"
	"github.com/bureau-foundation/statesync/lib/netutil"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/syncerr"
	"github.com/bureau-foundation/statesync/lib/syncmetrics"
	"github.com/bureau-foundation/statesync/lib/version"
)

// DefaultCheckPeriod is how often Run re-checks the remote version.
const DefaultCheckPeriod = 1200 * time.Second

// defaultRequestTimeout bounds each manifest or version request.
const defaultRequestTimeout = 10 * time.Second

// ResolverConfig holds the parameters for creating a Resolver.
type ResolverConfig struct {
	// ManifestURL serves the full manifest body.
	ManifestURL string

	// VersionURL serves {"version": n}. When empty, every check
	// fetches the full manifest.
	VersionURL string

	// HTTPClient defaults to a client with a 10 second timeout.
	HTTPClient *http.Client

	// Seed is active until the first successful fetch. May be nil.
	Seed *Manifest

	// OnChange is called after a new manifest becomes active, from
	// the goroutine that performed the check. May be nil.
	OnChange func(*Manifest)

	Clock   clock.Clock
	Metrics *syncmetrics.Metrics
	Logger  *slog.Logger
}

// Resolver keeps the active manifest current. Current is safe to call
// from any goroutine. Concurrent Check calls share one fetch.
type Resolver struct {
	manifestURL string
	versionURL  string
	httpClient  *http.Client
	onChange    func(*Manifest)
	clock       clock.Clock
	metrics     *syncmetrics.Metrics
	logger      *slog.Logger

	current atomic.Pointer[Manifest]
	group   singleflight.Group
}

// NewResolver creates a Resolver. The manifest URL is required.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	if config.ManifestURL == "" {
		return nil, errors.New("manifest URL is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := &Resolver{
		manifestURL: config.ManifestURL,
		versionURL:  config.VersionURL,
		httpClient:  httpClient,
		onChange:    config.OnChange,
		clock:       clk,
		metrics:     config.Metrics,
		logger:      logger,
	}
	if config.Seed != nil {
		resolver.current.Store(config.Seed)
		resolver.metrics.ManifestVersion(config.Seed.Version)
	}
	return resolver, nil
}

// Current returns the active manifest, or nil if none has been
// resolved or seeded.
func (r *Resolver) Current() *Manifest {
	return r.current.Load()
}

// Resolve fetches the manifest if the remote version differs from
// previousVersion. It returns (nil, nil) when the version probe
// reports previousVersion unchanged. Pass [NoVersion] to force a full
// fetch.
//
// Errors are *syncerr.Error values of kind Network, Parse, or Schema.
func (r *Resolver) Resolve(ctx context.Context, previousVersion int) (*Manifest, error) {
	if previousVersion != NoVersion && r.versionURL != "" {
		remote, err := r.probeVersion(ctx)
		if err != nil {
			return nil, err
		}
		if remote == previousVersion {
			return nil, nil
		}
		r.logger.Info("manifest version changed",
			"previous_version", previousVersion,
			"remote_version", remote,
		)
	}
	return r.fetch(ctx)
}

func (r *Resolver) probeVersion(ctx context.Context) (int, error) {
	const op = "probe manifest version"
	body, err := r.get(ctx, op, r.versionURL)
	if err != nil {
		return 0, err
	}
	var probe playerdata.VersionProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return 0, syncerr.New(syncerr.Parse, op, err)
	}
	return probe.Version, nil
}

func (r *Resolver) fetch(ctx context.Context) (*Manifest, error) {
	body, err := r.get(ctx, "fetch manifest", r.manifestURL)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

func (r *Resolver) get(ctx context.Context, op, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, syncerr.New(syncerr.Network, op, err)
	}
	request.Header.Set("User-Agent", version.UserAgent())
	request.Header.Set("Accept", "application/json")

	response, err := r.httpClient.Do(request)
	if err != nil {
		return nil, syncerr.New(syncerr.Network, op, err)
	}
	defer response.Body.Close()

	if err := netutil.CheckStatus(response); err != nil {
		return nil, syncerr.New(syncerr.Network, op, err)
	}
	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, syncerr.New(syncerr.Network, op, err)
	}
	if len(body) == 0 {
		return nil, syncerr.Errorf(syncerr.Parse, op, "empty body")
	}
	return body, nil
}

// Check resolves against the active manifest's version and installs
// the result if it changed. It reports whether a new manifest became
// active. Failures are logged and leave the active manifest in place.
func (r *Resolver) Check(ctx context.Context) bool {
	result, _, _ := r.group.Do("check", func() (any, error) {
		return r.check(ctx), nil
	})
	return result.(bool)
}

func (r *Resolver) check(ctx context.Context) bool {
	previousVersion := NoVersion
	previous := r.current.Load()
	if previous != nil {
		previousVersion = previous.Version
	}

	next, err := r.Resolve(ctx, previousVersion)
	if err != nil {
		r.metrics.ManifestCheck(syncerr.KindOf(err).String())
		r.logger.Warn("manifest check failed, keeping previous manifest",
			"error", err,
			"kind", syncerr.KindOf(err).String(),
			"active_version", previousVersion,
		)
		return false
	}
	if next == nil {
		r.metrics.ManifestCheck("unchanged")
		return false
	}

	r.current.Store(next)
	r.metrics.ManifestCheck("updated")
	r.metrics.ManifestVersion(next.Version)
	r.logger.Info("manifest updated",
		"manifest_version", next.Version,
		"varbits", len(next.varbits),
		"varps", len(next.varps),
		"collections", len(next.collections),
	)
	if r.onChange != nil {
		r.onChange(next)
	}
	return true
}

// Run checks once immediately, then on every period until ctx is
// cancelled. A non-positive period uses DefaultCheckPeriod.
func (r *Resolver) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultCheckPeriod
	}
	r.Check(ctx)

	ticker := r.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
