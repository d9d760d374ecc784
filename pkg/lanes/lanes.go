package lanes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is a unit of work executed on a lane.
type Task func(ctx context.Context) (interface{}, error)

// taskRecord tracks a queued task's execution state.
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane.
type laneState struct {
	mu          sync.Mutex
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
}

// Queue serializes tasks per lane: tasks sharing a lane run in FIFO
// order, tasks on distinct lanes run concurrently. Agent turns are
// enqueued on lane "session:<key>" so two turns for one session key
// never overlap while distinct sessions never block each other.
type Queue struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	lanes     map[string]*laneState
	taskIDSeq int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a lane queue.
func New(logger zerolog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		logger: logger.With().Str("component", "lanes").Logger(),
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue adds a task to the lane and blocks until it has run, returning
// its result. Lane concurrency defaults to 1.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ls := q.ensureLane(lane, 1)

	q.mu.Lock()
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	q.mu.Unlock()

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	record.generation = ls.generation
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	q.logger.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	go q.processLane(lane)

	result := <-record.result
	return result.value, result.err
}

// ensureLane creates a lane if it doesn't exist.
func (q *Queue) ensureLane(lane string, concurrency int) *laneState {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, exists := q.lanes[lane]
	if !exists {
		ls = &laneState{concurrency: concurrency}
		q.lanes[lane] = ls
	}
	return ls
}

// processLane starts queued tasks while the lane has capacity.
func (q *Queue) processLane(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()
	if ls == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		// Tasks from a previous generation are stale: the lane was
		// reset between enqueue and execution.
		if record.generation != ls.generation {
			record.result <- taskResult{err: fmt.Errorf("task cancelled: lane reset")}
			close(record.result)
			continue
		}

		ls.running++

		q.wg.Add(1)
		go q.executeTask(lane, ls, record)
	}
}

// executeTask runs a single task and schedules the next one.
func (q *Queue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer q.wg.Done()

	taskCtx := record.ctx
	if taskCtx == nil {
		taskCtx = context.Background()
	}
	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		q.logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		q.logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	go q.processLane(lane)
}

// QueueSize returns the number of queued tasks for a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Running returns the number of executing tasks for a lane.
func (q *Queue) Running(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Reset increments the lane generation and fails all queued tasks so a
// channel restart cannot replay stale turns.
func (q *Queue) Reset(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++
	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: fmt.Errorf("task cancelled: lane reset")}
		close(record.result)
	}
	ls.queue = nil

	q.logger.Info().Str("lane", lane).Int("generation", ls.generation).Int("cancelled", count).Msg("Lane reset")
	return count
}

// Close cancels running task contexts and waits for them to finish.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
