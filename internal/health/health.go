// Package health runs diagnostic checks against a lyricreel event store.
//
// Each check reports healthy, degraded or unhealthy. A failed critical check
// makes the overall status unhealthy; any other failure degrades it.
package health

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"lyricreel/internal/projection"
	"lyricreel/internal/store"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates the component has not been checked.
	StatusUnknown Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status         `json:"status" yaml:"status"`
	Message     string         `json:"message,omitempty" yaml:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked" yaml:"last_checked"`
	Duration    time.Duration  `json:"duration_ns" yaml:"duration_ns"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) CheckResult

// Component represents a health-checkable component.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker manages health checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
	}
}

// Register registers a health check component.
func (c *Checker) Register(component *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if component.Timeout == 0 {
		component.Timeout = 30 * time.Second
	}

	c.components[component.Name] = component
	c.results[component.Name] = CheckResult{Status: StatusUnknown}
}

// RegisterFunc registers a check with the default timeout.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{
		Name:     name,
		Critical: critical,
		Check:    check,
	})
}

// Names returns the registered component names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all registered checks concurrently. A check that panics or
// outlives its timeout is reported unhealthy.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	var wg sync.WaitGroup

	for _, comp := range components {
		wg.Add(1)
		go func(comp *Component) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
			defer cancel()

			start := time.Now()
			resultCh := make(chan CheckResult, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						resultCh <- CheckResult{
							Status:  StatusUnhealthy,
							Message: "check panicked",
							Error:   fmt.Sprintf("%v", r),
						}
					}
				}()
				resultCh <- comp.Check(checkCtx)
			}()

			var result CheckResult
			select {
			case result = <-resultCh:
			case <-checkCtx.Done():
				result = CheckResult{
					Status:  StatusUnhealthy,
					Message: "check timed out",
					Error:   checkCtx.Err().Error(),
				}
			}

			result.LastChecked = start
			result.Duration = time.Since(start)

			c.mu.Lock()
			c.results[comp.Name] = result
			results[comp.Name] = result
			c.mu.Unlock()
		}(comp)
	}

	wg.Wait()
	return results
}

// OverallStatus aggregates the most recent results.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false

	for name, result := range c.results {
		comp := c.components[name]
		if comp == nil {
			continue
		}

		switch result.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.Critical {
				hasUnknown = true
			}
		}
	}

	if hasUnknown {
		return StatusUnknown
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// Report is the outcome of a full run.
type Report struct {
	Status     Status                 `json:"status" yaml:"status"`
	Components map[string]CheckResult `json:"components" yaml:"components"`
	Timestamp  time.Time              `json:"timestamp" yaml:"timestamp"`
}

// Run executes every check and returns the aggregated report.
func (c *Checker) Run(ctx context.Context) Report {
	components := c.Check(ctx)
	return Report{
		Status:     c.OverallStatus(),
		Components: components,
		Timestamp:  time.Now().UTC(),
	}
}

// Inspector is the read side of the store the checks use.
type Inspector interface {
	Ping(ctx context.Context) error
	ValidateSchema() error
	GetMigrationStatus() (*store.MigrationStatus, error)
	ListProjects() ([]store.ProjectInfo, error)
	VerifyEvents(projectID string) (*store.VerifyReport, error)
	RebuildStateWith(projectID string, until *time.Time, mode store.ReplayMode) (projection.State, error)
}

// NewStoreChecker registers the standard store checks.
func NewStoreChecker(s Inspector) *Checker {
	c := NewChecker()
	c.RegisterFunc("database", true, DatabaseCheck(s.Ping))
	c.RegisterFunc("schema", true, SchemaCheck(s))
	c.RegisterFunc("migrations", true, MigrationCheck(s))
	c.RegisterFunc("integrity", false, IntegrityCheck(s))
	c.RegisterFunc("replay", false, ReplayCheck(s))
	return c
}

// DatabaseCheck returns a health check for database connectivity.
func DatabaseCheck(pingFunc func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := pingFunc(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "database connection failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "database connection ok",
		}
	}
}

// SchemaCheck verifies that the expected tables and indexes exist.
func SchemaCheck(s Inspector) Check {
	return func(ctx context.Context) CheckResult {
		if err := s.ValidateSchema(); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "schema incomplete",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "schema ok"}
	}
}

// MigrationCheck reports pending migrations.
func MigrationCheck(s Inspector) Check {
	return func(ctx context.Context) CheckResult {
		status, err := s.GetMigrationStatus()
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "cannot read migration status",
				Error:   err.Error(),
			}
		}
		details := map[string]any{
			"current_version": status.CurrentVersion,
			"latest_version":  status.LatestVersion,
		}
		if len(status.Pending) > 0 {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%d migration(s) pending", len(status.Pending)),
				Details: details,
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "schema up to date", Details: details}
	}
}

// IntegrityCheck recomputes every event checksum in every project.
func IntegrityCheck(s Inspector) Check {
	return func(ctx context.Context) CheckResult {
		projects, err := s.ListProjects()
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "cannot list projects", Error: err.Error()}
		}

		var checked int
		failing := map[string]any{}
		for _, p := range projects {
			if err := ctx.Err(); err != nil {
				return CheckResult{Status: StatusUnhealthy, Message: "integrity check interrupted", Error: err.Error()}
			}
			report, err := s.VerifyEvents(p.ProjectID)
			if err != nil {
				return CheckResult{Status: StatusUnhealthy, Message: "cannot verify events", Error: err.Error()}
			}
			checked += report.Checked
			if !report.OK() {
				failing[p.ProjectID] = map[string]any{
					"mismatched":  report.Mismatched,
					"undecodable": report.Undecodable,
				}
			}
		}

		if len(failing) > 0 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d project(s) have events that fail verification", len(failing)),
				Details: failing,
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d event(s) verified", checked),
			Details: map[string]any{"projects": len(projects), "events": checked},
		}
	}
}

// ReplayCheck compares snapshot-accelerated and full replay for every
// project. They differ only when a stored snapshot does not hold the fold of
// the events it claims to cover.
func ReplayCheck(s Inspector) Check {
	return func(ctx context.Context) CheckResult {
		projects, err := s.ListProjects()
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "cannot list projects", Error: err.Error()}
		}

		var diverged []string
		for _, p := range projects {
			if err := ctx.Err(); err != nil {
				return CheckResult{Status: StatusUnhealthy, Message: "replay check interrupted", Error: err.Error()}
			}
			full, err := s.RebuildStateWith(p.ProjectID, nil, store.ReplayFull)
			if err != nil {
				return CheckResult{Status: StatusUnhealthy, Message: "full replay failed", Error: err.Error()}
			}
			fast, err := s.RebuildStateWith(p.ProjectID, nil, store.ReplaySnapshot)
			if err != nil {
				return CheckResult{Status: StatusUnhealthy, Message: "snapshot replay failed", Error: err.Error()}
			}
			if !reflect.DeepEqual(full, fast) {
				diverged = append(diverged, p.ProjectID)
			}
		}

		if len(diverged) > 0 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "snapshot replay differs from full replay; take a fresh snapshot",
				Details: map[string]any{"projects": diverged},
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d project(s) replay consistently", len(projects)),
		}
	}
}
