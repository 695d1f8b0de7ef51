package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/charlesng35/authcore/internal/database/testutil"
	"github.com/charlesng35/authcore/internal/monitoring"
	"github.com/charlesng35/authcore/internal/monitoring/checks"
)

func TestHealthManagerAggregatesStatus(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("slow", func(context.Context) monitoring.ProbeResult {
		return monitoring.ResultFromError("slow", context.DeadlineExceeded, time.Millisecond)
	}))

	live := manager.EvaluateLiveness(context.Background())
	require.True(t, live.Success)
	require.Equal(t, monitoring.StatusUp, live.Status)

	ready := manager.EvaluateReadiness(context.Background())
	require.False(t, ready.Success)
	require.Equal(t, monitoring.StatusDegraded, ready.Status)

	manager.RegisterReadiness(monitoring.NewCheck("broken", func(context.Context) monitoring.ProbeResult {
		return monitoring.ResultFromError("broken", errors.New("boom"), 0)
	}))

	report := manager.Evaluate(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 3)
	require.Equal(t, "broken", report.Checks[2].Component)
}

func TestHealthManagerRecoversPanickingCheck(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("panics", func(context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))
	manager.RegisterReadiness(monitoring.Check{})

	report := manager.EvaluateReadiness(context.Background())
	require.Len(t, report.Checks, 1)
	require.Equal(t, monitoring.StatusDown, report.Checks[0].Status)
	require.Equal(t, "panics", report.Checks[0].Component)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
}

func TestHealthManagerBoundsSlowChecks(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.SetCheckTimeout(20 * time.Millisecond)
	manager.RegisterReadiness(monitoring.NewCheck("hangs", func(ctx context.Context) monitoring.ProbeResult {
		<-ctx.Done()
		return monitoring.ResultFromError("hangs", ctx.Err(), 0)
	}))
	manager.RegisterReadiness(monitoring.NewCheck("fine", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Equal(t, "hangs", report.Checks[0].Component)
	require.Equal(t, monitoring.StatusDegraded, report.Checks[0].Status)
	require.Equal(t, "fine", report.Checks[1].Component)
}

func TestDatabaseCheck(t *testing.T) {
	t.Parallel()

	db := testutil.MustOpenTestDB(t)
	result := checks.Database(db, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = checks.Database(nil, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	result = checks.Database(db, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Equal(t, "ping failed", result.Details)
}

type fakeJob struct {
	at       time.Time
	failures int
}

func (f fakeJob) LastRun() (time.Time, int) { return f.at, f.failures }

func TestTokenPurgeCheck(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cases := []struct {
		name   string
		job    checks.JobReporter
		status monitoring.ProbeStatus
	}{
		{"disabled", nil, monitoring.StatusUp},
		{"pending", fakeJob{}, monitoring.StatusUp},
		{"healthy", fakeJob{at: now.Add(-time.Hour)}, monitoring.StatusUp},
		{"failing", fakeJob{at: now.Add(-time.Hour), failures: 2}, monitoring.StatusDegraded},
		{"stale", fakeJob{at: now.Add(-72 * time.Hour)}, monitoring.StatusDegraded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := checks.TokenPurge(tc.job, 48*time.Hour, clock).Run(context.Background())
			require.Equal(t, tc.status, result.Status)
		})
	}
}
