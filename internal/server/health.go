package server

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthCheck probes one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

// HealthStatus is the actuator status of a component or the whole service.
type HealthStatus string

const (
	StatusUp   HealthStatus = "UP"
	StatusDown HealthStatus = "DOWN"
)

const healthTimeout = 2 * time.Second

// Health is the /actuator/health response body.
type Health struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth represents the health of a single dependency.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	LatencyMs float64      `json:"latency_ms"`
	Error     string       `json:"error,omitempty"`
}

// handleHealth runs every check in parallel and reports DOWN with 503 when
// any of them fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	status := http.StatusOK
	if health.Status != StatusUp {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// handleLiveness reports that the process is serving requests.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{Status: StatusUp})
}

// handleReadiness checks the database only; it gates traffic.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	check, ok := s.checks["db"]
	if !ok {
		writeJSON(w, http.StatusOK, Health{Status: StatusUp})
		return
	}
	c := runCheck(r.Context(), check)
	health := Health{Status: c.Status, Components: map[string]ComponentHealth{"db": c}}
	if c.Status != StatusUp {
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) checkHealth(ctx context.Context) Health {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]ComponentHealth, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, s.checks[name])
		}()
	}
	wg.Wait()

	health := Health{
		Status:     StatusUp,
		Version:    s.cfg.Version,
		Components: make(map[string]ComponentHealth, len(names)),
	}
	for i, name := range names {
		health.Components[name] = results[i]
		if results[i].Status != StatusUp {
			health.Status = StatusDown
		}
	}
	return health
}

func runCheck(ctx context.Context, check HealthCheck) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	c := ComponentHealth{
		Status:    StatusUp,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		c.Status = StatusDown
		c.Error = err.Error()
	}
	return c
}
