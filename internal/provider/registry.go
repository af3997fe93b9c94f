package provider

import "fmt"

// Registry maps provider identities to their adapters. Populated once at
// process start and read-only afterwards.
type Registry struct {
	clients  map[ID]Client
	fallback ID
}

// NewRegistry builds a registry with the given default provider.
func NewRegistry(fallback ID) *Registry {
	return &Registry{clients: map[ID]Client{}, fallback: fallback}
}

// Register binds an adapter to a provider identity.
func (r *Registry) Register(id ID, client Client) {
	if r.clients == nil {
		r.clients = map[ID]Client{}
	}
	r.clients[id] = client
}

// Default returns the fallback provider identity.
func (r *Registry) Default() ID {
	return r.fallback
}

// Resolve parses the raw provider name and returns the matching adapter.
func (r *Registry) Resolve(raw string) (ID, Client, error) {
	id, err := ParseID(raw, r.fallback)
	if err != nil {
		return "", nil, err
	}
	client, ok := r.clients[id]
	if !ok {
		return "", nil, fmt.Errorf("provider: %s is not configured", id)
	}
	return id, client, nil
}
