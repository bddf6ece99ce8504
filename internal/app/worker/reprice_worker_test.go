package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	mu       sync.Mutex
	queue    []int64
	requeued []int64
	locks    map[int64]string
	busy     map[int64]bool
	released []int64
}

func newFakeJobs(ids ...int64) *fakeJobs {
	return &fakeJobs{queue: ids, locks: map[int64]string{}, busy: map[int64]bool{}}
}

func (j *fakeJobs) Pop(_ context.Context, timeout time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.queue) == 0 {
		time.Sleep(timeout)
		return 0, redis.Nil
	}
	id := j.queue[0]
	j.queue = j.queue[1:]
	return id, nil
}

func (j *fakeJobs) Requeue(_ context.Context, challengeID int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.requeued = append(j.requeued, challengeID)
	return nil
}

func (j *fakeJobs) Lock(_ context.Context, challengeID int64, owner string, _ time.Duration) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.busy[challengeID] {
		return false, nil
	}
	if _, held := j.locks[challengeID]; held {
		return false, nil
	}
	j.locks[challengeID] = owner
	return true, nil
}

func (j *fakeJobs) Unlock(_ context.Context, challengeID int64, owner string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.locks[challengeID] != owner {
		return false, nil
	}
	delete(j.locks, challengeID)
	j.released = append(j.released, challengeID)
	return true, nil
}

type fakeRepricer struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (r *fakeRepricer) RepriceChallenge(_ context.Context, challengeID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, challengeID)
	return 2, r.err
}

func newTestWorker(jobs RepriceJobs, repricer Repricer) *RepriceWorker {
	w := NewRepriceWorker(jobs, repricer, time.Minute)
	w.popTimeout = time.Millisecond
	w.backoff = time.Millisecond
	return w
}

func TestProcessWithLock(t *testing.T) {
	jobs := newFakeJobs()
	repricer := &fakeRepricer{}
	w := newTestWorker(jobs, repricer)

	w.processWithLock(context.Background(), 7)

	assert.Equal(t, []int64{7}, repricer.calls)
	assert.Equal(t, []int64{7}, jobs.released)
	assert.Empty(t, jobs.locks)
	assert.Empty(t, jobs.requeued)
}

func TestProcessWithLock_BusyIsRequeued(t *testing.T) {
	jobs := newFakeJobs()
	jobs.busy[7] = true
	repricer := &fakeRepricer{}
	w := newTestWorker(jobs, repricer)

	w.processWithLock(context.Background(), 7)

	assert.Empty(t, repricer.calls)
	assert.Equal(t, []int64{7}, jobs.requeued)
}

func TestProcessWithLock_FailureReleasesLock(t *testing.T) {
	jobs := newFakeJobs()
	repricer := &fakeRepricer{err: errors.New("deadlock detected")}
	w := newTestWorker(jobs, repricer)

	w.processWithLock(context.Background(), 3)

	assert.Equal(t, []int64{3}, repricer.calls)
	assert.Equal(t, []int64{3}, jobs.released)
	assert.Empty(t, jobs.requeued)
}

func TestStart_DrainsQueueUntilCancelled(t *testing.T) {
	jobs := newFakeJobs(1, 2, 3)
	repricer := &fakeRepricer{}
	w := newTestWorker(jobs, repricer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		repricer.mu.Lock()
		defer repricer.mu.Unlock()
		return len(repricer.calls) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, []int64{1, 2, 3}, repricer.calls)
}
