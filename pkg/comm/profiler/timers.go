// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Timer measures wall-clock intervals between Start and Stop, and accumulates them.
type Timer struct {
	name    string
	started bool
	start   time.Time
	last    time.Duration
	total   time.Duration
}

// Name of the timer.
func (t *Timer) Name() string { return t.name }

// Start the timer. Starting a started timer restarts the interval.
func (t *Timer) Start() {
	if t.started {
		klog.V(2).Infof("timer %q restarted before being stopped", t.name)
	}
	t.started = true
	t.start = time.Now()
}

// Stop the timer and return the interval since Start. Stopping a timer that wasn't started returns 0.
func (t *Timer) Stop() time.Duration {
	if !t.started {
		return 0
	}
	t.started = false
	t.last = time.Since(t.start)
	t.total += t.last
	return t.last
}

// Last returns the last interval measured.
func (t *Timer) Last() time.Duration { return t.last }

// Elapsed returns the sum of the intervals measured since the last reset.
func (t *Timer) Elapsed(reset bool) time.Duration {
	total := t.total
	if reset {
		t.total = 0
	}
	return total
}

// Timers is a set of named timers, created on first use. It is safe for concurrent use, but each
// individual Timer is not.
type Timers struct {
	mu     sync.Mutex
	timers map[string]*Timer
}

// NewTimers returns an empty set of timers.
func NewTimers() *Timers {
	return &Timers{timers: make(map[string]*Timer)}
}

// Get returns the timer with the given name, creating it if needed.
func (ts *Timers) Get(name string) *Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, found := ts.timers[name]
	if !found {
		t = &Timer{name: name}
		ts.timers[name] = t
	}
	return t
}
