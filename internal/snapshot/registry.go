package snapshot

import (
	"strings"
	"sync"
)

type Factory func(dsn string) (Backend, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterFactory lets callers plug in a backend for a DSN scheme. Registered
// factories take precedence over the built-in schemes.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
