/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"fmt"
	"sync"
)

// Registry holds the protocol services of a node.
type Registry struct {
	mu       sync.RWMutex
	services []ProtocolService
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds services. Names must be unique.
func (r *Registry) Register(services ...ProtocolService) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, svc := range services {
		for _, existing := range r.services {
			if existing.Name() == svc.Name() {
				return fmt.Errorf("service %s is already registered", svc.Name())
			}
		}

		r.services = append(r.services, svc)
	}

	return nil
}

// Lookup returns the service accepting msgType.
func (r *Registry) Lookup(msgType string) (ProtocolService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, svc := range r.services {
		if svc.Accept(msgType) {
			return svc, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoService, msgType)
}

// Service returns the service registered under name.
func (r *Registry) Service(name string) (ProtocolService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, svc := range r.services {
		if svc.Name() == name {
			return svc, true
		}
	}

	return nil, false
}

// All returns the registered services.
func (r *Registry) All() []ProtocolService {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]ProtocolService(nil), r.services...)
}
