package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

type manualEntry struct {
	name  string
	task  Task
	delay time.Duration
	seq   int
}

// Manual is a Scheduler that only records tasks; callers run them explicitly.
// One-shot commands use it to drive a single sync pass without background timers.
// A named task is treated as due after its period.
type Manual struct {
	mu      sync.Mutex
	entries []manualEntry
	named   map[string]bool
	seq     int
}

// NewManual creates an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{named: make(map[string]bool)}
}

// ScheduleNamed implements Scheduler.
func (m *Manual) ScheduleNamed(name string, task Task, period time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.named[name] {
		return false
	}
	m.named[name] = true
	m.entries = append(m.entries, manualEntry{name: name, task: task, delay: period, seq: m.next()})
	return true
}

// InvokeLater implements Scheduler.
func (m *Manual) InvokeLater(task Task, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, manualEntry{task: task, delay: delay, seq: m.next()})
}

func (m *Manual) next() int {
	m.seq++
	return m.seq
}

// Names lists the pending named tasks.
func (m *Manual) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, e := range m.entries {
		if e.name != "" {
			names = append(names, e.name)
		}
	}
	sort.Strings(names)
	return names
}

// Pending returns the number of recorded tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RunDue runs, in scheduling order, every task whose delay is at most maxDelay,
// including tasks scheduled by those tasks. It returns the first error.
func (m *Manual) RunDue(ctx context.Context, maxDelay time.Duration) error {
	var firstErr error
	for {
		m.mu.Lock()
		idx := -1
		for i, e := range m.entries {
			if e.delay <= maxDelay && (idx < 0 || e.seq < m.entries[idx].seq) {
				idx = i
			}
		}
		if idx < 0 {
			m.mu.Unlock()
			return firstErr
		}
		e := m.entries[idx]
		m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
		m.mu.Unlock()

		err := e.task(ctx)

		if e.name != "" {
			m.mu.Lock()
			delete(m.named, e.name)
			m.mu.Unlock()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
}

// RunNamed runs one pending named task.
func (m *Manual) RunNamed(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	idx := -1
	for i, e := range m.entries {
		if e.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false, nil
	}
	e := m.entries[idx]
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	m.mu.Unlock()

	err := e.task(ctx)

	m.mu.Lock()
	delete(m.named, name)
	m.mu.Unlock()
	return true, err
}
