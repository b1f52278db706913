package notification

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
)

const (
	defaultQueueSize  = 256
	defaultWorkers    = 4
	defaultDrainGrace = 10 * time.Second
)

// task is one asynchronous side effect of a dispatch decision.
type task struct {
	name string
	key  string
	run  func(ctx context.Context) error
}

// taskQueue runs tasks on a fixed pool of workers. Enqueue blocks while the
// queue is full so that no decision is lost.
type taskQueue struct {
	tasks  chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Logger
}

func newTaskQueue(size, workers int, log logger.Logger) *taskQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &taskQueue{
		tasks:  make(chan task, size),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	q.wg.Add(workers)
	for range workers {
		go q.worker()
	}
	return q
}

func (q *taskQueue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.execute(t)
	}
}

func (q *taskQueue) execute(t task) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("task %s panicked: %v", t.name, r).
				Component("notification").
				Category(errors.CategoryProcessing).
				Priority(errors.PriorityHigh).
				Context("dedup_key", t.key).
				Build()
			q.log.Error("notification task panicked",
				logger.Error(err),
				logger.String("stack", string(debug.Stack())))
		}
	}()

	if err := t.run(q.ctx); err != nil {
		q.log.Error("notification task failed",
			logger.String("task", t.name),
			logger.String("dedup_key", t.key),
			logger.Error(err))
	}
}

// enqueue waits for queue space. It fails only when ctx ends first.
func (q *taskQueue) enqueue(ctx context.Context, t task) error {
	select {
	case q.tasks <- t:
		return nil
	case <-ctx.Done():
		return errors.New(fmt.Errorf("enqueue %s: %w", t.name, ctx.Err())).
			Component("notification").
			Category(errors.CategoryLimit).
			Context("dedup_key", t.key).
			Build()
	}
}

// close stops accepting tasks and lets workers drain the queue. Tasks still
// running after grace have their context cancelled. The caller must ensure no
// enqueue is in progress.
func (q *taskQueue) close(grace time.Duration) {
	close(q.tasks)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		q.log.Warn("notification tasks still running at shutdown, cancelling")
		q.cancel()
		<-done
	}
	q.cancel()
}

// pending returns the number of queued tasks.
func (q *taskQueue) pending() int {
	return len(q.tasks)
}
