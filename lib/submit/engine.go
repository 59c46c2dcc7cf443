// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package submit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/statesync/lib/clock"
	"github.com/bureau-foundation/statesync/lib/deltastore"
	"github.com/bureau-foundation/statesync/lib/manifest"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/session"
	"github.com/bureau-foundation/statesync/lib/snapshot"
	"github.com/bureau-foundation/statesync/lib/syncerr"
	"github.com/bureau-foundation/statesync/lib/syncmetrics"
)

// Defaults for EngineConfig.
const (
	DefaultPeriod  = 10 * time.Second
	DefaultTimeout = 3 * time.Second
)

// ManifestSource returns the active manifest. *manifest.Resolver
// implements it.
type ManifestSource interface {
	Current() *manifest.Manifest
}

// SessionSource resolves the active session. *session.Tracker
// implements it.
type SessionSource interface {
	Current() (session.Key, bool)
}

// EngineConfig holds the collaborators and timing of an Engine.
type EngineConfig struct {
	Transport Transport
	Store     *deltastore.Store
	Manifests ManifestSource
	Sessions  SessionSource
	Fields    snapshot.Fields
	BitLog    snapshot.BitLog

	// Period is the tick interval used by Run. Defaults to
	// DefaultPeriod.
	Period time.Duration

	// Timeout bounds each submission. Must be shorter than Period.
	// Defaults to DefaultTimeout.
	Timeout time.Duration

	Clock   clock.Clock
	Metrics *syncmetrics.Metrics
	Logger  *slog.Logger
}

// Engine submits per-session deltas on a fixed tick.
//
// Every tick resolves the active session, builds a full snapshot, and
// diffs it against the snapshot the server last acknowledged for that
// session. A non-empty delta passes through the backoff gate and is
// submitted asynchronously. Success folds the delta into the
// acknowledged snapshot; failure puts the delta's fields back into
// the delta store unless a newer value arrived meanwhile or the
// session changed.
//
// The engine lock guards the per-session table. It is never held
// across a network call.
type Engine struct {
	transport Transport
	store     *deltastore.Store
	manifests ManifestSource
	sessions  SessionSource
	fields    snapshot.Fields
	bitLog    snapshot.BitLog
	period    time.Duration
	timeout   time.Duration
	clock     clock.Clock
	metrics   *syncmetrics.Metrics
	logger    *slog.Logger

	mu        sync.Mutex
	bySession map[session.Key]*sessionState
	lastKey   session.Key
	closed    bool

	inflight sync.WaitGroup
}

// sessionState is everything the engine keeps for one session.
type sessionState struct {
	// slot holds one token while a tick for this session is between
	// its gate check and the application of its outcome.
	slot chan struct{}

	acknowledged playerdata.Snapshot
	hasBaseline  bool

	// bitLogDigest fingerprints the bit-log and count in the
	// acknowledged snapshot.
	bitLogDigest [32]byte

	// manifestVersion is the version the acknowledged snapshot (or
	// the last empty diff) was built against.
	manifestVersion int

	// backoff counts ticks with a non-empty delta since the last
	// successful submission.
	backoff int

	succeeded uint64
	failed    uint64
}

// NewEngine validates config and creates an Engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if config.Store == nil || config.Manifests == nil || config.Sessions == nil ||
		config.Fields == nil || config.BitLog == nil {
		return nil, errors.New("store, manifests, sessions, fields, and bit-log are required")
	}
	period := config.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout >= period {
		return nil, fmt.Errorf("submission timeout %v must be shorter than the period %v", timeout, period)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		transport: config.Transport,
		store:     config.Store,
		manifests: config.Manifests,
		sessions:  config.Sessions,
		fields:    config.Fields,
		bitLog:    config.BitLog,
		period:    period,
		timeout:   timeout,
		clock:     clk,
		metrics:   config.Metrics,
		logger:    logger,
		bySession: make(map[session.Key]*sessionState),
	}, nil
}

// Run ticks every period until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			outcome := e.Tick(ctx)
			e.logger.Debug("submission tick", "outcome", outcome.String())
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one step of the submission state machine for the active
// session and reports which transition it took. It never blocks on
// the network: a submission it starts completes in the background,
// bounded by the configured timeout.
func (e *Engine) Tick(ctx context.Context) Outcome {
	outcome := e.tick(ctx)
	e.metrics.Tick(outcome.String())
	e.metrics.PendingFields(e.store.Len())
	return outcome
}

func (e *Engine) tick(ctx context.Context) Outcome {
	key, ok := e.sessions.Current()
	if !ok {
		return OutcomeNoSession
	}
	m := e.manifests.Current()
	if m == nil {
		return OutcomeNoManifest
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return OutcomeIdle
	}
	state := e.stateLocked(key)
	e.mu.Unlock()

	select {
	case state.slot <- struct{}{}:
	default:
		return OutcomeBusy
	}
	dispatched := false
	defer func() {
		if !dispatched {
			<-state.slot
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	// A busy tick drains nothing, so only a tick holding the slot
	// consumes a session switch.
	switched := key != e.lastKey
	e.lastKey = key

	if !switched && !e.dirtyLocked(state, m) {
		return OutcomeIdle
	}

	// Drain before building: anything observed after this point is
	// either in the snapshot or still in the store for the next tick.
	drained := e.store.Drain()
	current := snapshot.Build(m, e.fields, e.bitLog)
	delta := current.Subtract(state.acknowledged)

	if delta.IsEmpty() {
		state.bitLogDigest = digestBitLog(current)
		state.manifestVersion = m.Version
		return OutcomeIdle
	}

	state.backoff++
	if !isPerfectSquare(state.backoff) {
		e.store.Restore(drained)
		e.logger.Debug("submission gated by backoff",
			"session", key.String(),
			"backoff_counter", state.backoff,
		)
		return OutcomeGated
	}

	attempt := attempt{
		key:             key,
		state:           state,
		delta:           delta,
		bitLogDigest:    digestBitLog(current),
		manifestVersion: m.Version,
	}
	dispatched = true
	e.inflight.Add(1)
	go e.send(ctx, attempt)
	return OutcomeSent
}

// dirtyLocked reports whether state might differ from what the server
// has acknowledged. A false result lets the tick skip building a
// snapshot.
func (e *Engine) dirtyLocked(state *sessionState, m *manifest.Manifest) bool {
	if !state.hasBaseline || state.manifestVersion != m.Version {
		return true
	}
	if e.store.Len() > 0 {
		return true
	}
	var current playerdata.Snapshot
	current.BitLog = e.bitLog.Encode(m)
	if count, ok := e.bitLog.Count(); ok {
		current.BitLogCount = &count
	}
	return digestBitLog(current) != state.bitLogDigest
}

func (e *Engine) stateLocked(key session.Key) *sessionState {
	state, ok := e.bySession[key]
	if !ok {
		state = &sessionState{
			slot:            make(chan struct{}, 1),
			acknowledged:    playerdata.NewSnapshot(),
			manifestVersion: manifest.NoVersion,
		}
		e.bySession[key] = state
		e.logger.Info("tracking new session", "session", key.String())
	}
	return state
}

// attempt is one submission in flight.
type attempt struct {
	key             session.Key
	state           *sessionState
	delta           playerdata.Snapshot
	bitLogDigest    [32]byte
	manifestVersion int
}

func (e *Engine) send(ctx context.Context, attempt attempt) {
	defer e.inflight.Done()
	defer func() { <-attempt.state.slot }()

	submitContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	started := e.clock.Now()
	err := e.transport.Submit(submitContext, playerdata.Submission{
		Username: attempt.key.Identity,
		Profile:  attempt.key.Mode,
		Data:     attempt.delta.Wire(),
	})
	e.apply(attempt, err, e.clock.Now().Sub(started))
}

// apply records the outcome of a submission.
func (e *Engine) apply(attempt attempt, err error, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.logger.Debug("discarding submission outcome after close",
			"session", attempt.key.String(),
		)
		return
	}
	state := attempt.state

	if err == nil {
		state.acknowledged.Merge(attempt.delta)
		state.hasBaseline = true
		state.bitLogDigest = attempt.bitLogDigest
		state.manifestVersion = attempt.manifestVersion
		state.backoff = 0
		state.succeeded++
		e.metrics.Submission("success")
		e.logger.Info("submission acknowledged",
			"session", attempt.key.String(),
			"fields", attempt.delta.FieldCount(),
			"elapsed", elapsed,
		)
		return
	}

	state.failed++
	e.metrics.Submission("failure")

	current, ok := e.sessions.Current()
	if !ok || current != attempt.key {
		consistency := syncerr.Errorf(syncerr.Consistency, "rollback",
			"session changed from %s while submitting", attempt.key)
		e.metrics.Rollback("discarded")
		e.logger.Warn("submission failed, rollback discarded",
			"error", err,
			"reason", consistency,
			"fields", attempt.delta.FieldCount(),
		)
		return
	}

	restored := e.store.Restore(attempt.delta)
	e.metrics.Rollback("applied")
	e.logger.Warn("submission failed, delta restored",
		"error", err,
		"kind", syncerr.KindOf(err).String(),
		"session", attempt.key.String(),
		"fields", attempt.delta.FieldCount(),
		"restored", restored,
		"backoff_counter", state.backoff,
	)
}

// Wait blocks until every submission started so far has applied its
// outcome.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Close stops the engine from starting submissions. Submissions
// already in flight run to completion or timeout, and their outcomes
// are discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// SessionStatus is a point-in-time view of one session's state.
type SessionStatus struct {
	Identity       string `cbor:"identity"`
	Mode           string `cbor:"mode"`
	HasBaseline    bool   `cbor:"has_baseline"`
	BackoffCounter int    `cbor:"backoff_counter"`
	InFlight       bool   `cbor:"in_flight"`
	Succeeded      uint64 `cbor:"succeeded"`
	Failed         uint64 `cbor:"failed"`
}

// Status returns the state of every session seen so far.
func (e *Engine) Status() []SessionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	statuses := make([]SessionStatus, 0, len(e.bySession))
	for key, state := range e.bySession {
		statuses = append(statuses, SessionStatus{
			Identity:       key.Identity,
			Mode:           key.Mode,
			HasBaseline:    state.hasBaseline,
			BackoffCounter: state.backoff,
			InFlight:       len(state.slot) > 0,
			Succeeded:      state.succeeded,
			Failed:         state.failed,
		})
	}
	return statuses
}

// Acknowledged returns a copy of the last acknowledged snapshot for
// key and whether the session has one.
func (e *Engine) Acknowledged(key session.Key) (playerdata.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.bySession[key]
	if !ok {
		return playerdata.NewSnapshot(), false
	}
	return state.acknowledged.Clone(), state.hasBaseline
}

// isPerfectSquare gates submissions: attempts happen when the backoff
// counter is 1, 4, 9, 16, and so on.
func isPerfectSquare(n int) bool {
	if n < 0 {
		return false
	}
	root := int(math.Sqrt(float64(n)))
	for root*root > n {
		root--
	}
	for (root+1)*(root+1) <= n {
		root++
	}
	return root*root == n
}

func digestBitLog(s playerdata.Snapshot) [32]byte {
	input := make([]byte, 0, len(s.BitLog)+9)
	if s.BitLogCount != nil {
		input = append(input, 1)
		input = binary.LittleEndian.AppendUint64(input, uint64(*s.BitLogCount))
	} else {
		input = append(input, 0)
	}
	input = append(input, s.BitLog...)
	return blake3.Sum256(input)
}
