package adapter

import (
	"fmt"

	"github.com/yourorg/paygate/internal/gateway"
)

// Registry dispatches a gateway kind to its adapter. The set is closed:
// adapters are registered at startup and never change afterwards.
type Registry struct {
	adapters map[gateway.Kind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[gateway.Kind]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Kind()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(kind gateway.Kind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for gateway kind %q", kind)
	}
	return a, nil
}
