// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"sort"
	"sync"
)

// =============================================================================
// REGISTRY
// =============================================================================

// Factory produces a live provider instance.
type Factory func() (Provider, error)

// Registry maps stable provider names to factories. Resolution is cached:
// each provider is instantiated once and reused.
//
// The Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Provider),
	}
}

// Register adds or replaces a provider factory under the given name.
// Replacing a factory drops any cached instance.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	delete(r.instances, name)
}

// Resolve returns the provider registered under name, instantiating it on
// first use. An unregistered name fails with NotFoundError.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	if p, ok := r.instances[name]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &NotFoundError{Name: name}
	}

	p, err := factory()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have raced us; keep the first instance.
	if existing, ok := r.instances[name]; ok {
		return existing, nil
	}
	r.instances[name] = p
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromModel finds the provider whose known-model set contains modelName.
// Registered providers are scanned in name order for determinism.
func (r *Registry) FromModel(modelName string) (Provider, error) {
	for _, name := range r.Names() {
		p, err := r.Resolve(name)
		if err != nil {
			continue
		}
		if p.Capabilities().HasModel(modelName) {
			return p, nil
		}
	}
	return nil, &NotFoundError{Name: "model " + modelName}
}
