package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRegisterJob_ValidatesSchedule(t *testing.T) {
	s := NewService(arbor.NewLogger())

	err := s.RegisterJob("bad", "every day", "", func(ctx context.Context) error { return nil })
	assert.Error(t, err)

	require.NoError(t, s.RegisterJob("cleanup", "30 4 * * 0", "dedup cleanup", func(ctx context.Context) error { return nil }))
	err = s.RegisterJob("cleanup", "30 4 * * 0", "", func(ctx context.Context) error { return nil })
	assert.Error(t, err, "duplicate name")

	require.NoError(t, s.RegisterJob("manual", "", "manual only", func(ctx context.Context) error { return nil }))
}

func TestTriggerJob_RecordsOutcome(t *testing.T) {
	s := NewService(arbor.NewLogger())
	calls := 0
	require.NoError(t, s.RegisterJob("discovery", "0 3 * * *", "run discovery", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("search unavailable")
		}
		return nil
	}))

	err := s.TriggerJob("discovery")
	assert.EqualError(t, err, "search unavailable")
	status, err := s.GetJobStatus("discovery")
	require.NoError(t, err)
	assert.Equal(t, "search unavailable", status.LastError)
	assert.NotNil(t, status.LastRun)
	assert.False(t, status.IsRunning)

	require.NoError(t, s.TriggerJob("discovery"))
	status, err = s.GetJobStatus("discovery")
	require.NoError(t, err)
	assert.Empty(t, status.LastError)

	assert.Error(t, s.TriggerJob("missing"))
}

func TestTriggerJob_RecoversPanic(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("sweep", "*/5 * * * *", "", func(ctx context.Context) error {
		panic("boom")
	}))

	err := s.TriggerJob("sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestStartStop_ReportsNextRun(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("sweep", "*/5 * * * *", "", func(ctx context.Context) error { return nil }))
	require.NoError(t, s.RegisterJob("manual", "", "", func(ctx context.Context) error { return nil }))

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	statuses := s.GetAllJobStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "manual", statuses[0].Name)
	assert.Nil(t, statuses[0].NextRun)
	assert.NotNil(t, statuses[1].NextRun)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}
