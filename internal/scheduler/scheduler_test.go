package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsTasks(t *testing.T) {
	s := New(nil, time.Second)
	var runs int32
	require.NoError(t, s.Add("sweep", "@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	require.NoError(t, s.Add("failing", "@every 1s", func(ctx context.Context) error {
		return errors.New("boom")
	}))

	s.Start()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestSchedulerAdd(t *testing.T) {
	s := New(nil, 0)
	assert.NoError(t, s.Add("disabled", "", func(context.Context) error { return nil }))
	assert.Error(t, s.Add("broken", "not a cron spec", func(context.Context) error { return nil }))
}

func TestSchedulerStopCancelsRunningTask(t *testing.T) {
	s := New(nil, time.Minute)
	started := make(chan struct{})
	var cancelled int32
	require.NoError(t, s.Add("long", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
		return ctx.Err()
	}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}
	s.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
}
