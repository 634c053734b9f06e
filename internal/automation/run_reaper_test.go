package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReaper_FailsRunWhoseFinishNeverLanded(t *testing.T) {
	a := threeActions(uuid.New())
	runs := newMemRuns()
	runs.finishFails = finishAttempts
	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	p := NewPipeline(newMemAutomations(a), runs, &scriptedRunner{},
		WithPipelineClock(func() time.Time { return start }))
	p.retryWait = 0

	_, err := p.Run(context.Background(), &a, RunRequest{})
	require.Error(t, err)
	require.Equal(t, domain.RunProcessing, runs.only().Status)

	r := NewRunReaper(runs, time.Minute, time.Hour)
	r.now = func() time.Time { return start.Add(30 * time.Minute) }
	n, err := r.Reap(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "still within the max age")

	r.now = func() time.Time { return start.Add(2 * time.Hour) }
	n, err = r.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	run := runs.only()
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, RunAbandonedError, run.ExecutionLog.Error)
}

func TestRunReaper_LeavesFinishedRuns(t *testing.T) {
	a := threeActions(uuid.New())
	runs := newMemRuns()
	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	p := NewPipeline(newMemAutomations(a), runs, &scriptedRunner{},
		WithPipelineClock(func() time.Time { return start }))

	_, err := p.Run(context.Background(), &a, RunRequest{})
	require.NoError(t, err)

	r := NewRunReaper(runs, 0, 0)
	r.now = func() time.Time { return start.Add(24 * time.Hour) }
	n, err := r.Reap(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.RunCompleted, runs.only().Status)
}
