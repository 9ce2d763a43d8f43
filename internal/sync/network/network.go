// Package network reports connectivity to the sync engine.
//
// Providers only publish transitions. Deciding whether to resync on
// reconnect is left to the caller (see the scheduler package).
package network

import (
	"sync"
)

// Provider exposes the current connectivity and pushes transitions.
type Provider interface {
	IsOnline() bool
	// Subscribe registers fn for online/offline transitions and returns
	// a function that removes it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// notifier tracks the online flag and its subscribers.
type notifier struct {
	mu     sync.RWMutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

func (n *notifier) IsOnline() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.online
}

func (n *notifier) Subscribe(fn func(bool)) func() {
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[int]func(bool))
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// set updates the flag and notifies subscribers if it changed.
// Subscribers run outside the lock.
func (n *notifier) set(online bool) bool {
	n.mu.Lock()
	if n.online == online {
		n.mu.Unlock()
		return false
	}
	n.online = online
	subs := make([]func(bool), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
	return true
}

// Manual is a Provider whose state is set explicitly, by platform
// callbacks, the local API or tests.
type Manual struct {
	notifier
}

// NewManual creates a Manual provider in the given state.
func NewManual(online bool) *Manual {
	return &Manual{notifier: notifier{online: online}}
}

// SetOnline changes the state. It reports whether a transition happened.
func (m *Manual) SetOnline(online bool) bool {
	return m.set(online)
}
