// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/statesync/lib/clock"
	"github.com/bureau-foundation/statesync/lib/syncerr"
	"github.com/bureau-foundation/statesync/lib/testutil"
)

// fakeRemote serves /manifest and /check_manifest with a mutable
// version and counts requests per path.
type fakeRemote struct {
	mu           sync.Mutex
	version      int
	manifestBody string
	status       int

	manifestHits atomic.Int32
	versionHits  atomic.Int32
	userAgents   []string
}

func newFakeRemote(t *testing.T, version int) (*fakeRemote, *httptest.Server) {
	t.Helper()
	remote := &fakeRemote{version: version, status: http.StatusOK}
	server := httptest.NewServer(http.HandlerFunc(remote.serve))
	t.Cleanup(server.Close)
	return remote, server
}

func (f *fakeRemote) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userAgents = append(f.userAgents, r.Header.Get("User-Agent"))

	if f.status != http.StatusOK {
		w.WriteHeader(f.status)
		io.WriteString(w, "unavailable")
		return
	}
	switch r.URL.Path {
	case "/manifest":
		f.manifestHits.Add(1)
		if f.manifestBody != "" {
			io.WriteString(w, f.manifestBody)
			return
		}
		fmt.Fprintf(w, `{"version": %d, "varbits": [10], "varps": [3], "collections": [5, 2]}`, f.version)
	case "/check_manifest":
		f.versionHits.Add(1)
		fmt.Fprintf(w, `{"version": %d}`, f.version)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRemote) set(apply func(*fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply(f)
}

func newTestResolver(t *testing.T, server *httptest.Server, configure func(*ResolverConfig)) *Resolver {
	t.Helper()
	config := ResolverConfig{
		ManifestURL: server.URL + "/manifest",
		VersionURL:  server.URL + "/check_manifest",
		HTTPClient:  server.Client(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if configure != nil {
		configure(&config)
	}
	resolver, err := NewResolver(config)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return resolver
}

func TestNewResolverRequiresManifestURL(t *testing.T) {
	if _, err := NewResolver(ResolverConfig{}); err == nil {
		t.Fatal("NewResolver without a manifest URL succeeded")
	}
}

func TestResolveFetchesWhenNoPreviousVersion(t *testing.T) {
	remote, server := newFakeRemote(t, 4)
	resolver := newTestResolver(t, server, nil)

	m, err := resolver.Resolve(context.Background(), NoVersion)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil || m.Version != 4 {
		t.Fatalf("Resolve = %+v, want version 4", m)
	}
	if remote.versionHits.Load() != 0 {
		t.Errorf("version probe called %d times, want 0", remote.versionHits.Load())
	}
	var userAgent string
	remote.set(func(f *fakeRemote) { userAgent = f.userAgents[0] })
	if !strings.HasPrefix(userAgent, "statesync-agent/") {
		t.Errorf("User-Agent = %q", userAgent)
	}
}

func TestResolveSkipsFetchWhenVersionUnchanged(t *testing.T) {
	remote, server := newFakeRemote(t, 4)
	resolver := newTestResolver(t, server, nil)

	m, err := resolver.Resolve(context.Background(), 4)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m != nil {
		t.Errorf("Resolve = %+v, want nil for an unchanged version", m)
	}
	if remote.manifestHits.Load() != 0 {
		t.Errorf("manifest fetched %d times, want 0", remote.manifestHits.Load())
	}
}

func TestResolveClassifiesFailures(t *testing.T) {
	remote, server := newFakeRemote(t, 4)
	resolver := newTestResolver(t, server, nil)

	remote.set(func(f *fakeRemote) { f.status = http.StatusServiceUnavailable })
	_, err := resolver.Resolve(context.Background(), NoVersion)
	if !syncerr.IsKind(err, syncerr.Network) {
		t.Errorf("503: error = %v, want network kind", err)
	}

	remote.set(func(f *fakeRemote) {
		f.status = http.StatusOK
		f.manifestBody = `{"version": 5, "varps": []}`
	})
	_, err = resolver.Resolve(context.Background(), NoVersion)
	if !syncerr.IsKind(err, syncerr.Schema) {
		t.Errorf("missing varbits: error = %v, want schema kind", err)
	}

	remote.set(func(f *fakeRemote) { f.manifestBody = `{"version": 5,` })
	_, err = resolver.Resolve(context.Background(), NoVersion)
	if !syncerr.IsKind(err, syncerr.Parse) {
		t.Errorf("truncated body: error = %v, want parse kind", err)
	}
}

func TestCheckKeepsPreviousManifestOnFailure(t *testing.T) {
	remote, server := newFakeRemote(t, 4)
	var changes []int
	resolver := newTestResolver(t, server, func(config *ResolverConfig) {
		config.OnChange = func(m *Manifest) { changes = append(changes, m.Version) }
	})

	if !resolver.Check(context.Background()) {
		t.Fatal("first Check did not install a manifest")
	}
	if resolver.Current().Version != 4 {
		t.Fatalf("Current().Version = %d, want 4", resolver.Current().Version)
	}

	remote.set(func(f *fakeRemote) {
		f.version = 5
		f.manifestBody = `{"version": 5, "varbits": "oops", "varps": []}`
	})
	if resolver.Check(context.Background()) {
		t.Fatal("Check installed a manifest with a bad schema")
	}
	if resolver.Current().Version != 4 {
		t.Errorf("Current().Version = %d after schema error, want 4", resolver.Current().Version)
	}

	remote.set(func(f *fakeRemote) { f.manifestBody = "" })
	if !resolver.Check(context.Background()) {
		t.Fatal("Check did not install the fixed manifest")
	}
	if resolver.Current().Version != 5 {
		t.Errorf("Current().Version = %d, want 5", resolver.Current().Version)
	}
	if len(changes) != 2 || changes[0] != 4 || changes[1] != 5 {
		t.Errorf("OnChange versions = %v, want [4 5]", changes)
	}
}

func TestCheckUsesSeedVersion(t *testing.T) {
	remote, server := newFakeRemote(t, 4)
	seed := New(4, []int{1}, nil, nil)
	resolver := newTestResolver(t, server, func(config *ResolverConfig) {
		config.Seed = seed
	})

	if resolver.Current() != seed {
		t.Fatal("Current() is not the seed before any check")
	}
	if resolver.Check(context.Background()) {
		t.Error("Check reported a change although the seed version matches")
	}
	if remote.manifestHits.Load() != 0 {
		t.Errorf("manifest fetched %d times, want 0", remote.manifestHits.Load())
	}
}

func TestRunChecksOnEveryPeriod(t *testing.T) {
	remote, server := newFakeRemote(t, 1)
	fakeClock := clock.Fake(time.Unix(1_700_000_000, 0))
	installed := make(chan int, 4)
	resolver := newTestResolver(t, server, func(config *ResolverConfig) {
		config.Clock = fakeClock
		config.OnChange = func(m *Manifest) { installed <- m.Version }
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		resolver.Run(ctx, time.Minute)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if version := testutil.RequireReceive(t, installed, 5*time.Second, "initial check"); version != 1 {
		t.Fatalf("initial version = %d, want 1", version)
	}

	remote.set(func(f *fakeRemote) { f.version = 2 })
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(time.Minute)

	if version := testutil.RequireReceive(t, installed, 5*time.Second, "periodic check"); version != 2 {
		t.Fatalf("periodic version = %d, want 2", version)
	}
	if remote.versionHits.Load() != 1 {
		t.Errorf("version probe called %d times, want 1", remote.versionHits.Load())
	}
}
