package venue

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() Codec)
)

// Register installs a codec factory for a family name. Venue packages call
// this from init; registering the same family twice panics because it is a
// wiring bug, not a runtime condition.
func Register(family string, factory func() Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[family]; dup {
		panic(fmt.Sprintf("venue: duplicate codec registration for %q", family))
	}
	registry[family] = factory
}

// New returns a fresh codec for the family, or ErrUnknownVenue.
func New(family string) (Codec, error) {
	registryMu.RLock()
	factory, ok := registry[family]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, family)
	}
	return factory(), nil
}

// Families lists registered family names in sorted order.
func Families() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
