package scope

import (
	"fmt"
	"sync"
)

// Registry maps operation identifiers ("METHOD /route/template") to their
// policies. It is populated once at startup and only read at request
// time; authorization is opt-in per operation.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

func operationKey(method, path string) string {
	return method + " " + path
}

// Register attaches a policy to a route. Registering the same operation
// twice is a wiring bug and panics at startup.
func (r *Registry) Register(method, path string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := operationKey(method, path)
	if _, exists := r.policies[key]; exists {
		panic(fmt.Sprintf("scope: policy already registered for %s", key))
	}
	r.policies[key] = p
}

// Lookup returns the policy for an operation, if one was registered.
func (r *Registry) Lookup(method, path string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[operationKey(method, path)]
	return p, ok
}
