package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/expiry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) SweepExpiry(context.Context) (*expiry.Report, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &expiry.Report{}, nil
}

type countingReaper struct {
	calls atomic.Int32
	ttl   atomic.Int64
}

func (c *countingReaper) Reap(ttl time.Duration) int {
	c.calls.Add(1)
	c.ttl.Store(int64(ttl))
	return 0
}

func TestScheduler_RunsJobs(t *testing.T) {
	sweeper := &countingSweeper{}
	reaper := &countingReaper{}

	s, err := NewScheduler(sweeper, reaper, Config{
		SweepInterval: time.Hour,
		SessionTTL:    30 * time.Minute,
		ReapInterval:  20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	assert.ElementsMatch(t, []string{ExpirySweepJob, SessionReaperJob}, s.Jobs())

	require.Eventually(t, func() bool { return sweeper.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond,
		"sweep runs once at start")
	require.Eventually(t, func() bool { return reaper.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(30*time.Minute), reaper.ttl.Load())
}

func TestScheduler_OptionalJobs(t *testing.T) {
	s, err := NewScheduler(nil, &countingReaper{}, Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	assert.Equal(t, []string{SessionReaperJob}, s.Jobs())
}

func TestScheduler_SweepFailureIsLogged(t *testing.T) {
	sweeper := &countingSweeper{err: fmt.Errorf("catalog down")}
	s, err := NewScheduler(sweeper, nil, Config{}, nil)
	require.NoError(t, err)

	s.runSweep(context.Background())
	assert.Equal(t, int32(1), sweeper.calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.runSweep(ctx)
	assert.Equal(t, int32(1), sweeper.calls.Load(), "cancelled context skips the sweep")
}
