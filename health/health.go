// Package health tracks per-component health and aggregates it for the
// /healthz endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Health states.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is one component's health snapshot.
type Status struct {
	Component string    `json:"component"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsHealthy reports whether the state is healthy.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// Monitor collects component statuses. Safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	started  time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		started:  time.Now(),
	}
}

// Update records a component's status.
func (m *Monitor) Update(component, state, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[component] = Status{
		Component: component,
		State:     state,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Healthy marks the component healthy.
func (m *Monitor) Healthy(component string) { m.Update(component, StateHealthy, "") }

// Degraded marks the component degraded with a reason.
func (m *Monitor) Degraded(component, message string) { m.Update(component, StateDegraded, message) }

// Unhealthy marks the component unhealthy with a reason.
func (m *Monitor) Unhealthy(component, message string) { m.Update(component, StateUnhealthy, message) }

// Get returns a component's status.
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[component]
	return status, ok
}

// Report is the aggregated health document served at /healthz.
type Report struct {
	State      string   `json:"state"`
	Uptime     string   `json:"uptime"`
	Components []Status `json:"components"`
}

// Aggregate folds component states into one report. Any unhealthy component
// makes the system unhealthy; any degraded one degrades it; an empty monitor
// is healthy.
func (m *Monitor) Aggregate() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		components = append(components, status)
	}
	sort.Slice(components, func(i, j int) bool {
		return components[i].Component < components[j].Component
	})

	state := StateHealthy
	for _, status := range components {
		switch status.State {
		case StateUnhealthy:
			state = StateUnhealthy
		case StateDegraded:
			if state == StateHealthy {
				state = StateDegraded
			}
		}
	}

	return Report{
		State:      state,
		Uptime:     time.Since(m.started).Round(time.Second).String(),
		Components: components,
	}
}

// Handler serves the aggregated report. Unhealthy maps to 503; healthy and
// degraded to 200 so load balancers keep routing to a degraded instance.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := m.Aggregate()

		code := http.StatusOK
		if report.State == StateUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
}
