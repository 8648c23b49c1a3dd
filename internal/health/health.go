// Package health aggregates readiness probes for the dependencies the
// payment API cannot serve without, such as Postgres and Redis. The
// server registers one Checker per dependency and reports the combined
// result on its health endpoint.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of probing a single dependency. Detail carries
// the failure reason when Healthy is false.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes one dependency. It must honor ctx so a slow dependency
// cannot stall the health endpoint.
type Checker func(ctx context.Context) Status

// Registry holds the registered checkers in registration order.
type Registry struct {
	mu     sync.RWMutex
	probes []probe
}

type probe struct {
	name  string
	check Checker
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker under the given name. Registration order is
// preserved in CheckAll's output.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = append(r.probes, probe{name: name, check: check})
}

// CheckAll runs every registered checker and reports whether all
// dependencies are healthy, along with the per-dependency statuses.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	probes := make([]probe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(probes))
	for _, p := range probes {
		st := p.check(ctx)
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
