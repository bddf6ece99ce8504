package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RepriceJobs is the queue of challenges waiting for a re-pricing pass.
type RepriceJobs interface {
	Pop(ctx context.Context, timeout time.Duration) (int64, error)
	Requeue(ctx context.Context, challengeID int64) error
	Lock(ctx context.Context, challengeID int64, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, challengeID int64, owner string) (bool, error)
}

type Repricer interface {
	RepriceChallenge(ctx context.Context, challengeID int64) (int, error)
}

type RepriceWorker struct {
	jobs     RepriceJobs
	repricer Repricer
	lockTTL  time.Duration

	popTimeout time.Duration
	backoff    time.Duration
}

func NewRepriceWorker(jobs RepriceJobs, repricer Repricer, lockTTL time.Duration) *RepriceWorker {
	return &RepriceWorker{
		jobs:       jobs,
		repricer:   repricer,
		lockTTL:    lockTTL,
		popTimeout: 5 * time.Second,
		backoff:    time.Second,
	}
}

// Start pops challenge ids until ctx is cancelled. Passes run one at a time.
func (w *RepriceWorker) Start(ctx context.Context) {
	log.Println("Reprice worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("Reprice worker stopping...")
			return
		default:
			challengeID, err := w.jobs.Pop(ctx, w.popTimeout)
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				log.Printf("ERROR: Failed to pop from reprice queue: %v", err)
				w.sleep(ctx, 5*w.backoff)
				continue
			}
			w.processWithLock(ctx, challengeID)
		}
	}
}

func (w *RepriceWorker) processWithLock(ctx context.Context, challengeID int64) {
	lockValue := uuid.NewString()

	ok, err := w.jobs.Lock(ctx, challengeID, lockValue, w.lockTTL)
	if err != nil {
		log.Printf("ERROR: Failed to attempt reprice lock for challenge %d: %v", challengeID, err)
		w.requeue(ctx, challengeID)
		return
	}
	if !ok {
		log.Printf("INFO: Challenge %d is being re-priced by another worker. Re-queueing.", challengeID)
		w.sleep(ctx, w.backoff)
		w.requeue(ctx, challengeID)
		return
	}

	defer func() {
		released, err := w.jobs.Unlock(context.WithoutCancel(ctx), challengeID, lockValue)
		if err != nil {
			log.Printf("ERROR: Failed to release reprice lock for challenge %d: %v", challengeID, err)
		} else if !released {
			log.Printf("WARN: Reprice lock for challenge %d expired before release", challengeID)
		}
	}()

	changed, err := w.repricer.RepriceChallenge(ctx, challengeID)
	if err != nil {
		log.Printf("ERROR: Re-pricing challenge %d failed: %v", challengeID, err)
		return
	}
	log.Printf("INFO: Re-priced challenge %d, %d scores adjusted", challengeID, changed)
}

func (w *RepriceWorker) requeue(ctx context.Context, challengeID int64) {
	if err := w.jobs.Requeue(ctx, challengeID); err != nil {
		log.Printf("ERROR: Failed to re-queue challenge %d: %v", challengeID, err)
	}
}

func (w *RepriceWorker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
