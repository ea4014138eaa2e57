// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"sync"
	"time"
)

// Clock is the wall-clock source the event loop and all timer-driven
// entities (publisher periods, service-caller periods, peer activity
// timeouts) read from. It has a real and a fake implementation here
// because periodic-timer drift is only testable against a clock the
// test controls.
type Clock interface {
	Now() time.Time
}

// RealClock is the default Clock, backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

var defaultClock Clock = RealClock{}

// FakeClock is a manually-advanced Clock for deterministic timer tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// periodicTimer fires at non-decreasing deadlines without drifting from
// its base instant: next_fire_time += period, never rebased off now().
type periodicTimer struct {
	period   time.Duration
	next     time.Time
	onDemand bool // period == -1: publish only on explicit call
}

func newPeriodicTimer(clock Clock, period time.Duration) periodicTimer {
	if period < 0 {
		return periodicTimer{period: period, onDemand: true}
	}
	return periodicTimer{period: period, next: clock.Now().Add(period)}
}

// Due reports whether the timer should fire at now, and if so advances
// next_fire_time by exactly one period (never by now-next, which is what
// causes drift).
func (t *periodicTimer) Due(now time.Time) bool {
	if t.onDemand || t.period <= 0 {
		return false
	}
	if now.Before(t.next) {
		return false
	}
	t.next = t.next.Add(t.period)
	return true
}

// NextDeadline returns the timer's next fire time, used by the loop to
// compute the minimum wait deadline.
func (t *periodicTimer) NextDeadline() (time.Time, bool) {
	if t.onDemand || t.period <= 0 {
		return time.Time{}, false
	}
	return t.next, true
}
