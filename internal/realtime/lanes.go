package realtime

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

const defaultLaneDepth = 32

var (
	ErrLaneFull    = errors.New("too many pending turns for this session")
	ErrLanesClosed = errors.New("turn lanes are closed")
)

// Job is one unit of work on a session lane.
type Job func(ctx context.Context)

// Lanes runs jobs in FIFO order per key while a weighted semaphore bounds
// how many keys make progress at once. A lane's worker exits when its queue
// drains, so idle sessions hold no goroutine.
type Lanes struct {
	sem   *semaphore.Weighted
	depth int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
}

type lane struct {
	jobs []Job
}

func NewLanes(maxConcurrent, depth int) *Lanes {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if depth <= 0 {
		depth = defaultLaneDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lanes{
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		depth:  depth,
		ctx:    ctx,
		cancel: cancel,
		lanes:  make(map[string]*lane),
	}
}

// Enqueue appends job to key's lane, starting a worker if none is running.
func (l *Lanes) Enqueue(key string, job Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLanesClosed
	}

	ln, running := l.lanes[key]
	if !running {
		ln = &lane{}
		l.lanes[key] = ln
	}
	if len(ln.jobs) >= l.depth {
		return ErrLaneFull
	}
	ln.jobs = append(ln.jobs, job)
	if !running {
		l.wg.Add(1)
		go l.work(key, ln)
	}
	return nil
}

func (l *Lanes) work(key string, ln *lane) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		if len(ln.jobs) == 0 || l.ctx.Err() != nil {
			delete(l.lanes, key)
			l.mu.Unlock()
			return
		}
		job := ln.jobs[0]
		ln.jobs[0] = nil
		ln.jobs = ln.jobs[1:]
		l.mu.Unlock()

		if err := l.sem.Acquire(l.ctx, 1); err != nil {
			continue
		}
		job(l.ctx)
		l.sem.Release(1)
	}
}

// Pending reports how many jobs wait on key's lane, excluding a running one.
func (l *Lanes) Pending(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ln, ok := l.lanes[key]; ok {
		return len(ln.jobs)
	}
	return 0
}

// Close cancels running jobs, drops queued ones and waits for workers.
func (l *Lanes) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
}
