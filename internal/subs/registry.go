// Package subs tracks which channel/symbol pairs each connection has
// subscribed to. The registry is the source of truth for replay after a
// reconnect: connections come and go, subscriptions survive until the
// caller removes them or the connection is disconnected for good.
package subs

import (
	"sort"
	"sync"
)

// Entry is one live subscription.
type Entry struct {
	ConnID  string
	Channel string
	Symbol  string
}

type Registry struct {
	mu  sync.RWMutex
	set map[Entry]struct{}
}

func NewRegistry() *Registry {
	return &Registry{set: make(map[Entry]struct{})}
}

// Add registers the cross product of channels and symbols for connID.
// Re-adding an existing pair is a no-op.
func (r *Registry) Add(connID string, channels, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, channel := range channels {
		for _, symbol := range symbols {
			r.set[Entry{ConnID: connID, Channel: channel, Symbol: symbol}] = struct{}{}
		}
	}
}

// Remove drops the cross product of channels and symbols for connID.
func (r *Registry) Remove(connID string, channels, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, channel := range channels {
		for _, symbol := range symbols {
			delete(r.set, Entry{ConnID: connID, Channel: channel, Symbol: symbol})
		}
	}
}

// For returns connID's subscriptions ordered by channel then symbol, so
// replay produces the same frames every time.
func (r *Registry) For(connID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for e := range r.set {
		if e.ConnID == connID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Channels returns connID's subscriptions grouped per channel, with the
// symbol lists sorted. The grouping feeds codecs that batch symbols per
// channel frame.
func (r *Registry) Channels(connID string) map[string][]string {
	grouped := make(map[string][]string)
	for _, e := range r.For(connID) {
		grouped[e.Channel] = append(grouped[e.Channel], e.Symbol)
	}
	return grouped
}

// Clear removes every subscription held by connID.
func (r *Registry) Clear(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := range r.set {
		if e.ConnID == connID {
			delete(r.set, e)
		}
	}
}

// Count returns the number of live subscriptions across all connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.set)
}
