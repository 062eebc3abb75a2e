package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitWaitReturnsOwnResult(t *testing.T) {
	pool, err := New(Config{Workers: 4, QueueSize: 16}, func(_ context.Context, task *Task) *Result {
		return &Result{Success: true, Data: task.Payload.(int) * 2}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	for i := 0; i < 10; i++ {
		res, err := pool.SubmitWait(context.Background(), &Task{ID: "t", Payload: i})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, i*2, res.Data)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	pool, err := New(Config{Workers: 1, QueueSize: 1, MaxRetries: 3, RetryDelay: time.Millisecond},
		func(context.Context, *Task) *Result {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return &Result{Error: errors.New("busy")}
			}
			return &Result{Success: true}
		}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	res, err := pool.SubmitWait(context.Background(), &Task{ID: "rx-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "rx-1", res.TaskID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	assert.EqualValues(t, 2, pool.Stats().TasksRetried)
}

func TestNonRetryableFailsFast(t *testing.T) {
	permanent := errors.New("permanent")
	var attempts int32
	pool, err := New(Config{
		Workers: 1, QueueSize: 1, MaxRetries: 5, RetryDelay: time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context, *Task) *Result {
		atomic.AddInt32(&attempts, 1)
		return &Result{Error: permanent}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	res, err := pool.SubmitWait(context.Background(), &Task{ID: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, permanent)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
	assert.EqualValues(t, 1, pool.Stats().TasksFailed)
}

func TestSubmitAfterStop(t *testing.T) {
	pool, err := New(DefaultConfig(), func(context.Context, *Task) *Result { return nil }, nil)
	require.NoError(t, err)
	pool.Start()
	require.NoError(t, pool.Stop())

	assert.ErrorIs(t, pool.Submit(&Task{ID: "late"}), ErrStopped)
	require.NoError(t, pool.Stop())
}

func TestAsyncResults(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 4}, func(context.Context, *Task) *Result {
		return &Result{Success: true}
	}, nil)
	require.NoError(t, err)
	pool.Start()

	require.NoError(t, pool.Submit(&Task{ID: "a"}))
	res := <-pool.Results()
	assert.Equal(t, "a", res.TaskID)
	require.NoError(t, pool.Stop())
	assert.True(t, pool.IsHealthy())
}

func TestNewRequiresFunc(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}
