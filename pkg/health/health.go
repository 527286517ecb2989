// Package health provides health check endpoints for the sync service.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Response represents a health check response
type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	LastRun    *RunReport             `json:"last_run,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// RunReport summarizes the most recent pipeline run.
type RunReport struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Files     int       `json:"files"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

// PingFunc checks one dependency.
type PingFunc func(ctx context.Context) error

type dependency struct {
	ping     PingFunc
	critical bool
}

// Checker provides health check functionality
type Checker struct {
	deps      map[string]dependency
	startTime time.Time
	version   string

	mu      sync.RWMutex
	ready   bool
	lastRun *RunReport
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		deps:      make(map[string]dependency),
		startTime: time.Now(),
		version:   version,
	}
}

// AddCheck registers a dependency. A failing critical check makes the service
// unhealthy; any other failing check only degrades it.
func (c *Checker) AddCheck(name string, ping PingFunc, critical bool) {
	c.deps[name] = dependency{ping: ping, critical: critical}
}

// SetReady marks the service as ready to receive traffic
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady returns whether the service is ready
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// RecordRun stores the outcome of the latest run.
func (c *Checker) RecordRun(report RunReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRun = &report
}

func (c *Checker) lastRunReport() *RunReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRun
}

// LivenessHandler reports that the process is up.
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

// ReadinessHandler reports whether the service can accept triggers.
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:     StatusUnhealthy,
			Version:    c.version,
			ReportedAt: time.Now(),
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
		})
	}
	return c.HealthHandler(ctx)
}

// HealthHandler returns a detailed health check handler
func (c *Checker) HealthHandler(ctx echo.Context) error {
	checks := c.runChecks(ctx.Request().Context())
	overallStatus := c.overallStatus(checks)

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return ctx.JSON(statusCode, Response{
		Status:     overallStatus,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     checks,
		LastRun:    c.lastRunReport(),
		ReportedAt: time.Now(),
	})
}

func (c *Checker) runChecks(ctx context.Context) map[string]CheckResult {
	names := make([]string, 0, len(c.deps))
	for name := range c.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]CheckResult, len(names))
	for _, name := range names {
		checks[name] = c.check(ctx, c.deps[name])
	}
	return checks
}

func (c *Checker) check(ctx context.Context, dep dependency) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := dep.ping(ctx); err != nil {
		status := StatusDegraded
		if dep.critical {
			status = StatusUnhealthy
		}
		return CheckResult{
			Status:  status,
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Latency: time.Since(start).String(),
	}
}

func (c *Checker) overallStatus(checks map[string]CheckResult) Status {
	result := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			result = StatusDegraded
		}
	}
	if last := c.lastRunReport(); last != nil && last.Error != "" && result == StatusHealthy {
		result = StatusDegraded
	}
	return result
}

// RegisterRoutes registers health check routes under /api/v1
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")

	health.GET("", c.HealthHandler)
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}
