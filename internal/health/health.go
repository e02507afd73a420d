// Package health reports liveness, readiness and dependency checks for
// the tracker process.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gustycube/skywatch/internal/logging"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of one component check.
type Check struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
	DurationMs  int64     `json:"duration_ms"`
}

// Response represents the overall health response
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    []Check           `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler manages health and readiness checks
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	metadata map[string]string
	logger   *logging.Logger
	ready    bool
}

func NewHandler(logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		checkers: make(map[string]Checker),
		metadata: make(map[string]string),
		logger:   logger,
	}
}

func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

func (h *Handler) SetMetadata(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata[key] = value
}

func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Evaluate runs every registered checker and folds the results. Checks
// are ordered by name.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		names = append(names, k)
		checkers[k] = v
	}
	metadata := make(map[string]string, len(h.metadata))
	for k, v := range h.metadata {
		metadata[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	resp := Response{Status: StatusHealthy, Timestamp: time.Now(), Checks: []Check{}, Metadata: metadata}
	for _, name := range names {
		check := checkers[name].Check(ctx)
		check.Name = name
		resp.Checks = append(resp.Checks, check)
		switch {
		case check.Status == StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case check.Status == StatusDegraded && resp.Status == StatusHealthy:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// HealthHandler serves the aggregated checks. Degraded still answers 200.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := h.Evaluate(ctx)
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
		h.logger.Warnw("health check failed", "checks", resp.Checks)
	}
	writeJSON(w, code, resp)
}

func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ready": ready, "timestamp": time.Now()})
}

// LivenessHandler always answers 200 while the process serves HTTP.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alive": true, "timestamp": time.Now()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// PingChecker wraps a dependency ping such as Redis or NATS.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker reports healthy when ping is nil, meaning the dependency
// is not configured.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	if c.ping == nil {
		return Check{Status: StatusHealthy, Message: c.name + " not configured", LastChecked: start}
	}
	err := c.ping(ctx)
	check := Check{Status: StatusHealthy, Message: c.name + " OK", LastChecked: time.Now(), DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = c.name + " failed: " + err.Error()
	}
	return check
}

// FreshnessChecker degrades when a periodic job has not run recently,
// e.g. the eviction sweep or the snapshot sync.
type FreshnessChecker struct {
	last   func() time.Time
	maxAge time.Duration
	now    func() time.Time
}

func NewFreshnessChecker(last func() time.Time, maxAge time.Duration) *FreshnessChecker {
	return &FreshnessChecker{last: last, maxAge: maxAge, now: time.Now}
}

func (c *FreshnessChecker) Check(ctx context.Context) Check {
	now := c.now()
	last := c.last()
	check := Check{Status: StatusHealthy, LastChecked: now}
	switch {
	case last.IsZero():
		check.Status = StatusDegraded
		check.Message = "never ran"
	case now.Sub(last) > c.maxAge:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("last ran %s ago", now.Sub(last).Round(time.Second))
	default:
		check.Message = "last ran " + last.UTC().Format(time.RFC3339)
	}
	return check
}
