// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The submission engine, the manifest resolver, and the query server
// each hold a Clock field instead of calling time.Now or
// time.NewTicker directly:
//
//	engine := submit.NewEngine(submit.EngineConfig{Clock: clock.Real(), ...})
//
// Tests build a FakeClock, start the loop under test, wait for it to
// register its ticker, and then advance time:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go engine.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(10 * time.Second)
//
// WaitForTimers closes the race between a goroutine registering its
// ticker and the test moving time past the first deadline.
package clock
