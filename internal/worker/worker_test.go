package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_AllSettleInOrder(t *testing.T) {
	pool := NewPool(3)
	items := []int{1, 2, 3, 4, 5, 6, 7}

	var inFlight, maxInFlight int32
	results := Map(context.Background(), pool, items, func(ctx context.Context, n int) (int, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)

		if n%3 == 0 {
			return 0, errors.New("divisible by three")
		}
		if n == 5 {
			panic("five")
		}
		return n * 10, nil
	})

	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, items[i], r.Item)
	}
	assert.Equal(t, 10, results[0].Value)
	assert.Error(t, results[2].Err)
	assert.ErrorContains(t, results[4].Err, "panic")
	assert.Equal(t, 70, results[6].Value)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(3))

	summary := Summarize(results)
	assert.Equal(t, 4, summary.Successful)
	assert.Equal(t, 3, summary.Failed)
}

func TestMap_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called int32
	results := Map(ctx, NewPool(0), []string{"a", "b"}, func(ctx context.Context, s string) (string, error) {
		atomic.AddInt32(&called, 1)
		return s, nil
	})
	assert.Zero(t, atomic.LoadInt32(&called))
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestScheduler_RunsJobsAndReportsStatus(t *testing.T) {
	s := NewScheduler()
	var ticks int32
	require.NoError(t, s.Register(Job{
		Name:       "tick",
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		},
	}))
	require.NoError(t, s.Register(Job{
		Name:     "fail",
		Interval: time.Hour,
		Run:      func(ctx context.Context) error { return errors.New("nope") },
	}))
	assert.Error(t, s.Register(Job{Name: "tick", Interval: time.Second, Run: func(context.Context) error { return nil }}))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 3 }, time.Second, 5*time.Millisecond)
	assert.Error(t, s.RunNow(context.Background(), "fail"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "fail", status[0].Name)
	assert.Equal(t, 1, status[0].Failures)
	assert.Equal(t, "nope", status[0].LastError)
	assert.GreaterOrEqual(t, status[1].Runs, 3)
}
