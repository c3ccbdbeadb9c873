// Package agents handles delegation to independently operated specialist
// agents: registration lookup and the HTTP client that forwards classified
// requests to them.
package agents

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

// Registry holds agent registrations keyed by name. Read-mostly: an
// external discovery collaborator refreshes health; the engine only reads.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]types.AgentRegistration
	logger *logrus.Logger
}

// NewRegistry builds a registry from the configured agent list. Agents
// start healthy until discovery reports otherwise.
func NewRegistry(registrations []types.AgentRegistration, logger *logrus.Logger) *Registry {
	agents := make(map[string]types.AgentRegistration, len(registrations))
	for _, reg := range registrations {
		reg.Healthy = true
		agents[reg.Name] = reg
		logger.WithFields(logrus.Fields{
			"agent":        reg.Name,
			"capabilities": reg.Capabilities,
		}).Info("Agent registered")
	}
	return &Registry{agents: agents, logger: logger}
}

// FindForIntent returns the first healthy agent advertising a capability
// matching the intent, or ok=false when the intent is handled locally.
func (r *Registry) FindForIntent(intent string) (types.AgentRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.agents {
		if reg.Healthy && reg.HandlesIntent(intent) {
			return reg, true
		}
	}
	return types.AgentRegistration{}, false
}

// Get returns an agent registration by name.
func (r *Registry) Get(name string) (types.AgentRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[name]
	return reg, ok
}

// SetHealth updates an agent's health flag. Called by the discovery
// collaborator, not by the dispatch path.
func (r *Registry) SetHealth(name string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.agents[name]
	if !ok {
		return
	}
	reg.Healthy = healthy
	r.agents[name] = reg
}

// List returns all registrations.
func (r *Registry) List() []types.AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.AgentRegistration, 0, len(r.agents))
	for _, reg := range r.agents {
		out = append(out, reg)
	}
	return out
}
