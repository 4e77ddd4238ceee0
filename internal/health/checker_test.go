package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChecker is a mock implementation of Checker for testing
type mockChecker struct {
	name  string
	err   error
	delay time.Duration
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func newTestLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func TestManager_RunChecks(t *testing.T) {
	manager := NewManager(newTestLogger())
	manager.Register(&mockChecker{name: "registry"})
	manager.Register(&mockChecker{name: "redis", err: errors.New("connection refused")})
	manager.Register(&mockChecker{name: "sessions", err: Degraded("%d of %d sessions starving", 1, 3)})

	results := manager.RunChecks(context.Background())
	require.Len(t, results, 3)

	assert.Equal(t, StatusOK, results["registry"].Status)
	assert.Empty(t, results["registry"].Message)

	assert.Equal(t, StatusDown, results["redis"].Status)
	assert.Contains(t, results["redis"].Message, "connection refused")

	assert.Equal(t, StatusDegraded, results["sessions"].Status)
	assert.Equal(t, "1 of 3 sessions starving", results["sessions"].Message)

	assert.Equal(t, []string{"registry", "redis", "sessions"}, manager.Checkers())
	assert.Equal(t, []string{"redis", "sessions"}, manager.Failing())
}

func TestManager_WrappedDegraded(t *testing.T) {
	manager := NewManager(newTestLogger())
	manager.Register(&mockChecker{name: "wrapped", err: fmt.Errorf("probe: %w", Degraded("slow"))})

	results := manager.RunChecks(context.Background())
	assert.Equal(t, StatusDegraded, results["wrapped"].Status)
	assert.Equal(t, "slow", results["wrapped"].Message)
}

func TestManager_GetResultsReturnsCopies(t *testing.T) {
	manager := NewManager(newTestLogger())
	manager.Register(&mockChecker{name: "test"})
	manager.RunChecks(context.Background())

	results := manager.GetResults()
	require.Contains(t, results, "test")
	results["test"].Status = StatusDown

	assert.Equal(t, StatusOK, manager.GetResults()["test"].Status)
}

func TestManager_GetOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{
			name: "all healthy",
			checkers: []Checker{
				&mockChecker{name: "c1"},
				&mockChecker{name: "c2"},
			},
			want: StatusOK,
		},
		{
			name: "one degraded",
			checkers: []Checker{
				&mockChecker{name: "c1"},
				&mockChecker{name: "c2", err: Degraded("starving")},
			},
			want: StatusDegraded,
		},
		{
			name: "down beats degraded",
			checkers: []Checker{
				&mockChecker{name: "c1", err: Degraded("starving")},
				&mockChecker{name: "c2", err: errors.New("error")},
			},
			want: StatusDown,
		},
		{
			name: "no checkers",
			want: StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(newTestLogger())
			for _, checker := range tt.checkers {
				manager.Register(checker)
			}
			manager.RunChecks(context.Background())
			assert.Equal(t, tt.want, manager.GetOverallStatus())
		})
	}
}

func TestManager_Timeout(t *testing.T) {
	manager := NewManager(newTestLogger())
	manager.timeout = 50 * time.Millisecond
	manager.Register(&mockChecker{name: "slow", delay: 10 * time.Second})

	start := time.Now()
	results := manager.RunChecks(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)

	check := results["slow"]
	require.NotNil(t, check)
	assert.Equal(t, StatusDown, check.Status)
	assert.Contains(t, check.Message, "timed out")
}

func TestManager_DurationTracking(t *testing.T) {
	manager := NewManager(newTestLogger())
	manager.Register(&mockChecker{name: "delayed", delay: 50 * time.Millisecond})

	check := manager.RunChecks(context.Background())["delayed"]
	require.NotNil(t, check)
	assert.GreaterOrEqual(t, check.Duration, 50*time.Millisecond)
	assert.GreaterOrEqual(t, check.DurationMS, float64(50))
}

func TestManager_FailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	manager := NewManager(logger)
	manager.Register(&mockChecker{name: "redis", err: errors.New("connection refused")})

	manager.RunChecks(context.Background())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "Health check failed", entry.Message)
	assert.Equal(t, "redis", entry.Data["checker"])
}

func TestStartPeriodicChecks(t *testing.T) {
	manager := NewManager(newTestLogger())
	manager.Register(&mockChecker{name: "counter"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		manager.StartPeriodicChecks(ctx, 20*time.Millisecond)
		close(done)
	}()

	// The first run happens immediately, later ones refresh the timestamp.
	require.Eventually(t, func() bool {
		return manager.GetResults()["counter"] != nil
	}, time.Second, 5*time.Millisecond)
	first := manager.GetResults()["counter"].LastChecked

	require.Eventually(t, func() bool {
		return manager.GetResults()["counter"].LastChecked.After(first)
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic checks did not stop")
	}
}
