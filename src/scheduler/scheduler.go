// Package scheduler runs delayed background tasks on a bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"buildwatch-agent/src/logger"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Scheduler runs tasks later.
type Scheduler interface {
	// ScheduleNamed runs task unless a task with the same name is already
	// pending or running, in which case it does nothing and returns false.
	// Runs of one name start at least period apart; the first run starts
	// immediately.
	ScheduleNamed(name string, task Task, period time.Duration) bool

	// InvokeLater always schedules a new run of task after delay.
	InvokeLater(task Task, delay time.Duration)
}

type armedTimer struct {
	timer     *time.Timer
	cancelled func()
}

type namedState struct {
	pending   bool
	running   bool
	lastStart time.Time
}

// Pool is a Scheduler backed by timers and a fixed number of worker slots.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	logger logger.Logger

	mu      sync.Mutex
	named   map[string]*namedState
	timers  map[uint64]armedTimer
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a scheduler that runs at most workers tasks at once.
func NewPool(workers int, log logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: log,
		named:  make(map[string]*namedState),
		timers: make(map[uint64]armedTimer),
	}
}

// ScheduleNamed implements Scheduler.
func (p *Pool) ScheduleNamed(name string, task Task, period time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}

	st, ok := p.named[name]
	if !ok {
		st = &namedState{}
		p.named[name] = st
	}
	if st.pending || st.running {
		return false
	}

	var wait time.Duration
	if !st.lastStart.IsZero() {
		if since := time.Since(st.lastStart); since < period {
			wait = period - since
		}
	}

	st.pending = true
	p.afterLocked(wait, func() {
		p.mu.Lock()
		st.pending = false
		st.running = true
		st.lastStart = time.Now()
		p.mu.Unlock()

		p.run(name, task)

		p.mu.Lock()
		st.running = false
		p.mu.Unlock()
	}, func() {
		st.pending = false
	})
	return true
}

// InvokeLater implements Scheduler.
func (p *Pool) InvokeLater(task Task, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.afterLocked(delay, func() {
		p.run("invokeLater", task)
	}, nil)
}

// IsScheduled reports whether a named task is pending or running.
func (p *Pool) IsScheduled(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.named[name]
	return ok && (st.pending || st.running)
}

// afterLocked arms a timer. p.mu must be held. cancelled runs under p.mu
// when Stop disarms the timer before it fires.
func (p *Pool) afterLocked(delay time.Duration, fn func(), cancelled func()) {
	id := p.nextID
	p.nextID++

	p.wg.Add(1)
	t := time.AfterFunc(delay, func() {
		defer p.wg.Done()

		p.mu.Lock()
		delete(p.timers, id)
		p.mu.Unlock()

		fn()
	})
	p.timers[id] = armedTimer{timer: t, cancelled: cancelled}
}

func (p *Pool) run(name string, task Task) {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.logger.Debug("[Scheduler] Skipping %s: %v", name, err)
		return
	}
	defer p.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("[Scheduler] Task %s panicked: %v", name, r)
		}
	}()

	start := time.Now()
	if err := task(p.ctx); err != nil {
		p.logger.Error("[Scheduler] Task %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	p.logger.Debug("[Scheduler] Task %s finished in %s", name, time.Since(start).Round(time.Millisecond))
}

// Stop disarms pending timers, cancels running tasks' context and waits for
// them to return or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	for id, armed := range p.timers {
		if armed.timer.Stop() {
			if armed.cancelled != nil {
				armed.cancelled()
			}
			p.wg.Done()
		}
		delete(p.timers, id)
	}
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}
