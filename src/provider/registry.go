package provider

import (
	"fmt"
	"sort"
	"sync"
)

// ServerSpec describes one configured CI server.
type ServerSpec struct {
	ID            string
	Provider      string
	BaseURL       string
	Token         string
	Owner         string
	Repo          string
	Org           string
	Pipeline      string
	Project       string
	DefaultBranch string
}

// Factory builds a Source for a configured server.
type Factory func(spec ServerSpec) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// RegisterProvider makes a provider available by name.
// Provider packages call it from init().
func RegisterProvider(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("provider: RegisterProvider factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("provider: RegisterProvider called twice for " + name)
	}
	registry[name] = factory
}

// NewSource creates a Source for the given server using its registered provider.
func NewSource(spec ServerSpec) (Source, error) {
	registryMu.RLock()
	factory, ok := registry[spec.Provider]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnknown, spec.Provider)
	}
	return factory(spec)
}

// Providers lists registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
