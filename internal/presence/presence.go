// Package presence owns the process-wide online registry. Counts, not a
// set: a user with two devices stays online until the last connection
// closes.
package presence

import (
	"sort"
	"sync"
)

type Tracker struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{conns: make(map[string]int)}
}

// Connect records a new connection for the user and reports whether the
// user just came online.
func (t *Tracker) Connect(userID string) (cameOnline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[userID]++
	return t.conns[userID] == 1
}

// ConnectIfBelow records a new connection only while the user holds fewer
// than limit connections, checking and incrementing under one lock so two
// racing handshakes cannot both slip past the cap. ok reports whether the
// connection was admitted.
func (t *Tracker) ConnectIfBelow(userID string, limit int) (cameOnline, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[userID] >= limit {
		return false, false
	}
	t.conns[userID]++
	return t.conns[userID] == 1, true
}

// Disconnect drops one connection for the user and reports whether the
// user went offline (no connections remain).
func (t *Tracker) Disconnect(userID string) (wentOffline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.conns[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.conns, userID)
		return true
	}
	t.conns[userID] = n - 1
	return false
}

// Online returns the sorted set of user ids with at least one live
// connection.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	online := make([]string, 0, len(t.conns))
	for userID := range t.conns {
		online = append(online, userID)
	}
	sort.Strings(online)
	return online
}

// Count returns the number of live connections for the user.
func (t *Tracker) Count(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[userID]
}

// IsOnline reports whether the user has at least one live connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[userID] > 0
}
