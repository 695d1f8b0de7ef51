package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeStatus encodes the outcome of a health probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDegraded ProbeStatus = "degraded"
	StatusDown     ProbeStatus = "down"
)

// severity orders statuses; unknown values rank as down.
func (s ProbeStatus) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// ProbeResult is the outcome of one check.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport folds a set of results into the worst status seen.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

// Check is a named probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck builds a Check. A nil fn always reports down.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Run: fn}
}

const defaultCheckTimeout = 5 * time.Second

// HealthManager holds liveness and readiness checks. Register checks before
// serving; evaluation does not lock.
type HealthManager struct {
	live    []Check
	ready   []Check
	timeout time.Duration
}

// NewHealthManager returns an empty manager whose checks each get
// defaultCheckTimeout.
func NewHealthManager() *HealthManager {
	return &HealthManager{timeout: defaultCheckTimeout}
}

// SetCheckTimeout bounds every check run; d <= 0 restores the default.
func (m *HealthManager) SetCheckTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultCheckTimeout
	}
	m.timeout = d
}

// RegisterLiveness adds a liveness check. Unnamed checks are ignored.
func (m *HealthManager) RegisterLiveness(check Check) {
	if check.Name != "" {
		m.live = append(m.live, check)
	}
}

// RegisterReadiness adds a readiness check. Unnamed checks are ignored.
func (m *HealthManager) RegisterReadiness(check Check) {
	if check.Name != "" {
		m.ready = append(m.ready, check)
	}
}

// EvaluateLiveness runs the liveness checks.
func (m *HealthManager) EvaluateLiveness(ctx context.Context) HealthReport {
	return m.run(ctx, m.live)
}

// EvaluateReadiness runs the readiness checks.
func (m *HealthManager) EvaluateReadiness(ctx context.Context) HealthReport {
	return m.run(ctx, m.ready)
}

// Evaluate runs every check, liveness first in the result order.
func (m *HealthManager) Evaluate(ctx context.Context) HealthReport {
	all := make([]Check, 0, len(m.live)+len(m.ready))
	all = append(all, m.live...)
	all = append(all, m.ready...)
	return m.run(ctx, all)
}

// run executes checks concurrently. Results keep registration order.
func (m *HealthManager) run(ctx context.Context, checks []Check) HealthReport {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]ProbeResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			results[i] = runCheck(checkCtx, check)
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{Success: true, Status: StatusUp, Checks: results}
	for _, r := range results {
		if r.Status.severity() > report.Status.severity() {
			report.Status = r.Status
		}
	}
	report.Success = report.Status == StatusUp
	return report
}

func runCheck(ctx context.Context, check Check) (result ProbeResult) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result = ProbeResult{Status: StatusDown, Details: panicDetails(rec)}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		result.Component = check.Name
	}()

	return check.Run(ctx)
}

func panicDetails(rec any) string {
	switch v := rec.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("panic: %v", v)
	}
}

// ResultFromError maps err to a result. A nil error is up; cancellation and
// timeouts degrade; anything else is down.
func ResultFromError(component string, err error, duration time.Duration) ProbeResult {
	result := ProbeResult{Component: component, Status: StatusUp, Duration: max(duration, 0)}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		result.Status = StatusDegraded
		result.Details = err.Error()
	default:
		result.Status = StatusDown
		result.Details = err.Error()
	}
	return result
}
