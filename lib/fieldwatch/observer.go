// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fieldwatch

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/bureau-foundation/statesync/lib/bitlog"
	"github.com/bureau-foundation/statesync/lib/manifest"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/session"
)

// MaxContainerID bounds the container cache. Container ids reported
// by the host are small dense integers; anything larger is rejected
// when definitions are loaded.
const MaxContainerID = 1 << 16

// Sink receives field change events. *deltastore.Store implements it.
type Sink interface {
	Record(field playerdata.Field, value int)
}

// ObserverConfig holds the collaborators of an Observer.
type ObserverConfig struct {
	// Sink receives a Record call for every tracked field change.
	Sink Sink

	// BitLog receives bit-log notifications. Required.
	BitLog *bitlog.Log

	// Sessions receives session notifications. Required.
	Sessions *session.Tracker

	// OnIdentityChange is called with the new identity when a session
	// notification changes it. May be nil.
	OnIdentityChange func(identity string)

	Logger *slog.Logger
}

// Observer turns raw host notifications into field change events.
//
// Packed fields are the interesting case: the host only reports that
// a container changed, so the Observer compares each tracked
// sub-field of that container against the container's previous value.
// The previous value is replaced only after the comparison, and a
// container seen for the first time reports every tracked sub-field
// as changed.
//
// All methods are safe for concurrent use. Apply is expected to be
// called from a single event goroutine (see Run); the read accessors
// are used by the snapshot builder from other goroutines.
type Observer struct {
	sink             Sink
	bitLog           *bitlog.Log
	sessions         *session.Tracker
	onIdentityChange func(string)
	logger           *slog.Logger

	mu          sync.Mutex
	manifest    *manifest.Manifest
	definitions map[int]PackedField

	// byContainer maps a container id to the tracked packed fields
	// inside it. Containers absent from it are never inspected.
	byContainer map[int][]PackedField

	// containers[id] is the last value seen for container id, valid
	// only where initialized[id] is true.
	containers  []int
	initialized []bool

	flat   map[int]int
	levels map[string]int
}

// NewObserver creates an Observer with no manifest and no packed
// field definitions.
func NewObserver(config ObserverConfig) *Observer {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		sink:             config.Sink,
		bitLog:           config.BitLog,
		sessions:         config.Sessions,
		onIdentityChange: config.OnIdentityChange,
		logger:           logger,
		definitions:      make(map[int]PackedField),
		byContainer:      make(map[int][]PackedField),
		flat:             make(map[int]int),
		levels:           make(map[string]int),
	}
}

// Run applies notifications until ctx is cancelled or the channel is
// closed.
func (o *Observer) Run(ctx context.Context, notifications <-chan Notification) {
	for {
		select {
		case notification, ok := <-notifications:
			if !ok {
				return
			}
			o.Apply(notification)
		case <-ctx.Done():
			return
		}
	}
}

// Apply handles one notification.
func (o *Observer) Apply(notification Notification) {
	switch notification.Kind {
	case KindContainer:
		o.containerChanged(notification.ID, notification.Value)
	case KindFlat:
		o.flatChanged(notification.ID, notification.Value)
	case KindLevel:
		o.levelChanged(notification.Name, notification.Value)
	case KindBitLogEntry:
		o.bitLog.Observe(notification.ID)
	case KindBitLogCount:
		o.bitLog.SetCount(notification.Value)
	case KindBitLogCatalog:
		o.bitLog.SetCatalog(notification.IDs)
	case KindBitLogReset:
		o.bitLog.Reset()
	case KindSession:
		if o.sessions.Set(notification.Session) && o.onIdentityChange != nil {
			o.onIdentityChange(notification.Session.Identity)
		}
	case KindDefinitions:
		o.SetDefinitions(notification.Definitions)
	case KindManifest:
		o.SetManifest(notification.Manifest)
	default:
		o.logger.Warn("ignoring notification of unknown kind", "kind", notification.Kind.String())
	}
}

// SetManifest installs m and rebuilds the container index.
func (o *Observer) SetManifest(m *manifest.Manifest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.manifest = m
	o.reindexLocked()
}

// SetDefinitions adds packed field definitions, replacing any with
// the same ID, and rebuilds the container index. Invalid definitions
// are logged and skipped.
func (o *Observer) SetDefinitions(definitions []PackedField) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, definition := range definitions {
		if err := definition.Validate(); err != nil {
			o.logger.Warn("skipping packed field definition", "error", err)
			continue
		}
		o.definitions[definition.ID] = definition
	}
	o.reindexLocked()
}

func (o *Observer) reindexLocked() {
	clear(o.byContainer)
	var tracked []int
	if o.manifest != nil {
		tracked = o.manifest.Varbits()
	}
	for _, id := range tracked {
		definition, ok := o.definitions[id]
		if !ok {
			continue
		}
		o.byContainer[definition.Container] = append(o.byContainer[definition.Container], definition)
	}
	// A container that drops out of the index stops receiving
	// updates, so its cached value cannot be trusted if it returns.
	for id := range o.initialized {
		if _, tracked := o.byContainer[id]; !tracked {
			o.initialized[id] = false
		}
	}
}

func (o *Observer) containerChanged(id, value int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	fields, tracked := o.byContainer[id]
	if !tracked {
		return
	}
	o.growLocked(id)

	previous, initialized := o.containers[id], o.initialized[id]
	for _, field := range fields {
		next := field.Extract(value)
		if initialized && field.Extract(previous) == next {
			continue
		}
		o.record(playerdata.Varbit(field.ID), next)
	}
	o.containers[id] = value
	o.initialized[id] = true
}

func (o *Observer) growLocked(id int) {
	if id < len(o.containers) {
		return
	}
	size := max(id+1, 2*len(o.containers))
	o.containers = append(o.containers, make([]int, size-len(o.containers))...)
	o.initialized = append(o.initialized, make([]bool, size-len(o.initialized))...)
}

func (o *Observer) flatChanged(id, value int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if previous, ok := o.flat[id]; ok && previous == value {
		return
	}
	o.flat[id] = value
	if o.manifest != nil && o.manifest.TracksVarp(id) {
		o.record(playerdata.Varp(id), value)
	}
}

func (o *Observer) levelChanged(name string, value int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if previous, ok := o.levels[name]; ok && previous == value {
		return
	}
	o.levels[name] = value
	o.record(playerdata.Level(name), value)
}

func (o *Observer) record(field playerdata.Field, value int) {
	if o.sink != nil {
		o.sink.Record(field, value)
	}
}

// PackedValue returns the current value of packed field id, if it is
// defined and its container holds a current value. The observer's own
// manifest is not consulted: the snapshot builder filters by the
// manifest it was given, which may be newer than the one applied here.
func (o *Observer) PackedValue(id int) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	definition, ok := o.definitions[id]
	if !ok {
		return 0, false
	}
	container := definition.Container
	if container >= len(o.initialized) || !o.initialized[container] {
		return 0, false
	}
	return definition.Extract(o.containers[container]), true
}

// FlatValue returns the last observed value of flat field id.
func (o *Observer) FlatValue(id int) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	value, ok := o.flat[id]
	return value, ok
}

// Levels returns a copy of every observed level.
func (o *Observer) Levels() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return maps.Clone(o.levels)
}

// TrackedContainers returns how many containers are in the index.
func (o *Observer) TrackedContainers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byContainer)
}
