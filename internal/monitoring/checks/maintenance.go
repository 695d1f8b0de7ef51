package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/authcore/internal/monitoring"
)

// JobReporter exposes the outcome of a recurring background job.
type JobReporter interface {
	LastRun() (at time.Time, consecutiveFailures int)
}

// TokenPurge reports whether action token purging keeps running. A failing
// job degrades the probe but never marks it down. Runs older than maxAge
// also degrade it when maxAge is positive.
func TokenPurge(job JobReporter, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("token_purge", func(context.Context) monitoring.ProbeResult {
		if job == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "disabled"}
		}

		at, failures := job.LastRun()
		switch {
		case at.IsZero():
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "pending first run"}
		case failures > 0:
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: fmt.Sprintf("%d consecutive failures", failures),
			}
		case maxAge > 0 && now().Sub(at) > maxAge:
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: "stale run " + at.UTC().Format(time.RFC3339),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}
