// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu       sync.Mutex
	current  time.Time
	schedule tickerHeap
	sequence uint64
	changed  *sync.Cond
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// fakeTicker is one scheduled ticker. index is its heap position, or
// -1 once stopped.
type fakeTicker struct {
	next     time.Time
	interval time.Duration
	sequence uint64
	channel  chan time.Time
	index    int
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	entry := &fakeTicker{
		next:     c.current.Add(d),
		interval: d,
		sequence: c.sequence,
		channel:  make(chan time.Time, 1),
	}
	heap.Push(&c.schedule, entry)
	c.changed.Broadcast()

	return &Ticker{
		C: entry.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if entry.index >= 0 {
				heap.Remove(&c.schedule, entry.index)
			}
		},
	}
}

// Advance moves time forward by d, firing every tick that falls due
// in deadline order. Each send carries the tick's own deadline and
// never blocks; a full channel drops the tick. Now reports each
// deadline while its tick is sent and the final time once Advance
// returns.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)
	for len(c.schedule) > 0 && !c.schedule[0].next.After(target) {
		entry := c.schedule[0]
		c.current = entry.next
		select {
		case entry.channel <- entry.next:
		default:
		}
		entry.next = entry.next.Add(entry.interval)
		heap.Fix(&c.schedule, 0)
	}
	c.current = target
}

// WaitForTimers blocks until at least n tickers are running. Tests
// call it before Advance so a goroutine's ticker exists before time
// moves.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.schedule) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of running tickers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.schedule)
}

// tickerHeap orders tickers by next deadline, then creation order.
type tickerHeap []*fakeTicker

func (h tickerHeap) Len() int { return len(h) }

func (h tickerHeap) Less(i, j int) bool {
	if !h[i].next.Equal(h[j].next) {
		return h[i].next.Before(h[j].next)
	}
	return h[i].sequence < h[j].sequence
}

func (h tickerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *tickerHeap) Push(x any) {
	entry := x.(*fakeTicker)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *tickerHeap) Pop() any {
	old := *h
	entry := old[len(old)-1]
	old[len(old)-1] = nil
	entry.index = -1
	*h = old[:len(old)-1]
	return entry
}
