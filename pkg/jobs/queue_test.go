package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, q *Queue, id string, want Status) Record {
	t.Helper()
	var rec Record
	require.Eventually(t, func() bool {
		var ok bool
		rec, ok = q.Status(id)
		return ok && rec.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return rec
}

func TestQueueRecordsResult(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) (interface{}, error) {
		return job.Payload, nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	rec, err := q.Submit("echo", "done")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, rec.Status)

	final := waitForStatus(t, q, rec.ID, StatusSucceeded)
	assert.Equal(t, "done", final.Result)
	assert.Equal(t, 1, final.Attempts)
	assert.NotNil(t, final.FinishedAt)
}

func TestQueueRetriesThenFails(t *testing.T) {
	var calls int32
	q := NewQueue("test", func(ctx context.Context, job Job) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("boom")
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	rec, err := q.Submit("fail", nil)
	require.NoError(t, err)

	final := waitForStatus(t, q, rec.ID, StatusFailed)
	assert.Equal(t, "boom", final.Error)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSubmitBeforeStartFails(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) (interface{}, error) { return nil, nil }, QueueConfig{})
	_, err := q.Submit("noop", nil)
	require.Error(t, err)
	_, ok := q.Status("missing")
	assert.False(t, ok)
}
