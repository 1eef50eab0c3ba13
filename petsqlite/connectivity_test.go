// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsqlite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonitorInitialState(t *testing.T) {
	require.True(t, NewMonitor(true).Online())
	require.False(t, NewMonitor(false).Online())
}

func TestMonitorNotifiesOnTransitionsOnly(t *testing.T) {
	m := NewMonitor(false)

	var events []bool
	m.Subscribe(func(online bool) {
		events = append(events, online)
	})

	m.SetOnline(false) // no transition
	m.SetOnline(true)
	m.SetOnline(true) // repeated observation
	m.SetOnline(false)

	require.Equal(t, []bool{true, false}, events)
	require.False(t, m.Online())
}

func TestMonitorMultipleSubscribersInOrder(t *testing.T) {
	m := NewMonitor(false)

	var order []string
	m.Subscribe(func(bool) { order = append(order, "first") })
	m.Subscribe(func(bool) { order = append(order, "second") })

	m.SetOnline(true)
	require.Equal(t, []string{"first", "second"}, order)
}

func TestMonitorUnsubscribe(t *testing.T) {
	m := NewMonitor(false)

	calls := 0
	unsubscribe := m.Subscribe(func(bool) { calls++ })

	m.SetOnline(true)
	unsubscribe()
	m.SetOnline(false)
	m.SetOnline(true)

	require.Equal(t, 1, calls)
}

func TestMonitorListenerMaySubscribeAgain(t *testing.T) {
	// Listeners run outside the lock, so a callback can interact with the
	// monitor without deadlocking.
	m := NewMonitor(false)

	var fromInner bool
	m.Subscribe(func(online bool) {
		if online {
			m.Subscribe(func(o bool) { fromInner = true })
		}
	})

	m.SetOnline(true)
	m.SetOnline(false)
	require.True(t, fromInner)
}
