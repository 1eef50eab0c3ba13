// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsqlite

import (
	"sort"
	"sync"
)

// Monitor tracks network reachability and notifies subscribers on transitions.
//
// It is an explicit object with an explicit lifecycle rather than a process
// global with ambient platform listeners: the platform's reachability facility
// feeds it through SetOnline, which makes transitions deterministic in tests.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(online bool)
}

// NewMonitor creates a monitor seeded with the platform's current reachability.
func NewMonitor(initialOnline bool) *Monitor {
	return &Monitor{
		online:    initialOnline,
		listeners: make(map[int]func(bool)),
	}
}

// Online reports the last observed reachability state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a listener invoked synchronously with the new state on
// every transition. The returned function removes the listener permanently.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// SetOnline records a reachability observation. Listeners fire only when the
// state actually changes; a repeated observation delivers no event. Listeners
// run outside the monitor's lock, in subscription order.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}
