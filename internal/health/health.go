// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mkarrer/swapdesk/internal/rpcclient"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

// NodeChecker reports whether the ledger node answers a blockhash query.
func NodeChecker(client rpcclient.Client) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := client.GetLatestBlockhash(ctx); err != nil {
			return Status{Name: "ledger_node", Detail: err.Error()}
		}
		return Status{Name: "ledger_node", Healthy: true}
	}
}

// IndexChecker reports whether the off-chain index answers at all. Any
// HTTP response counts; only transport failure is unhealthy.
func IndexChecker(baseURL string) Checker {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) Status {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return Status{Name: "index", Detail: err.Error()}
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return Status{Name: "index", Detail: err.Error()}
		}
		resp.Body.Close()
		return Status{Name: "index", Healthy: true}
	}
}
