// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stubserver is a local stand-in for the remote sync service.
// It publishes a manifest and its version and records every submission
// it receives, so the agent can be exercised end to end without the
// real service.
package stubserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bureau-foundation/statesync/lib/clock"
	"github.com/bureau-foundation/statesync/lib/manifest"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/submit"
)

// DefaultManifest returns the manifest served when none is configured.
// Varbit 4101 is the first prayer toggle, a convenient field to flip
// by hand.
func DefaultManifest() *manifest.Manifest {
	return manifest.New(4,
		[]int{0, 100, 9657, 4101, 5000, 10000, 4104},
		[]int{1, 3, 5, 6, 7, 10},
		nil,
	)
}

// Received is one recorded submission.
type Received struct {
	RequestID  string
	Encoding   string
	Submission playerdata.Submission
	ReceivedAt time.Time
}

// Config configures a Server.
type Config struct {
	// Manifest is served on /manifest. Default: DefaultManifest().
	Manifest *manifest.Manifest

	// SubmitStatus is the status returned for well-formed submissions.
	// Default: 200. Set a 5xx to exercise the agent's rollback path.
	SubmitStatus int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server implements the three remote endpoints.
type Server struct {
	clock  clock.Clock
	logger *slog.Logger

	mu           sync.Mutex
	manifest     *manifest.Manifest
	submitStatus int
	received     []Received
}

// New returns a Server. Serve its Handler with service.HTTPServer or
// httptest.
func New(config Config) *Server {
	if config.Manifest == nil {
		config.Manifest = DefaultManifest()
	}
	if config.SubmitStatus == 0 {
		config.SubmitStatus = http.StatusOK
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		clock:        config.Clock,
		logger:       logger,
		manifest:     config.Manifest,
		submitStatus: config.SubmitStatus,
	}
}

// Handler routes GET /manifest, GET /check_manifest, and POST /submit.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /manifest", s.handleManifest)
	mux.HandleFunc("GET /check_manifest", s.handleCheckManifest)
	mux.HandleFunc("POST /submit", s.handleSubmit)
	return mux
}

// SetManifest replaces the served manifest. Agents pick it up on their
// next version probe.
func (s *Server) SetManifest(m *manifest.Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = m
}

// SetSubmitStatus changes the status returned for later submissions.
func (s *Server) SetSubmitStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitStatus = code
}

// Received returns a copy of every submission recorded so far,
// including those answered with a failure status.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	m := s.manifest
	s.mu.Unlock()
	writeJSON(w, m)
}

func (s *Server) handleCheckManifest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	version := s.manifest.Version
	s.mu.Unlock()
	writeJSON(w, playerdata.VersionProbe{Version: version})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	encoding := r.Header.Get("Content-Encoding")
	body, err := submit.DecodeBody(encoding, r.Body)
	if err != nil {
		s.logger.Warn("unreadable submission", "content_encoding", encoding, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var submission playerdata.Submission
	if err := json.Unmarshal(body, &submission); err != nil {
		s.logger.Warn("malformed submission", "error", err)
		http.Error(w, "malformed submission: "+err.Error(), http.StatusBadRequest)
		return
	}

	received := Received{
		RequestID:  r.Header.Get(submit.RequestIDHeader),
		Encoding:   encoding,
		Submission: submission,
		ReceivedAt: s.clock.Now(),
	}

	s.mu.Lock()
	s.received = append(s.received, received)
	status := s.submitStatus
	s.mu.Unlock()

	s.logger.Info("submission received",
		"request_id", received.RequestID,
		"username", submission.Username,
		"profile", submission.Profile,
		"varbits", len(submission.Data.Varb),
		"varps", len(submission.Data.Varp),
		"levels", len(submission.Data.Level),
		"has_collection_log", submission.Data.CollectionLogSlots != nil,
		"status", status,
	)

	w.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(encoded)
}
