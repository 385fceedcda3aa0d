package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 64
	defaultIdleTimeout = time.Minute
)

var (
	ErrQueueFull = errors.New("record queue full")
	ErrStopped   = errors.New("worker manager stopped")
)

type Config struct {
	QueueSize   int
	IdleTimeout time.Duration
}

// Manager gives every record key a single writer: one goroutine draining a
// FIFO queue. Work for one key never overlaps and runs in arrival order;
// different keys proceed in parallel. Idle writers retire.
type Manager struct {
	mu      sync.Mutex
	workers map[string]*workerState
	stopped bool
	wg      sync.WaitGroup

	queueSize int
	idle      time.Duration
	log       *zap.Logger
}

func NewManager(cfg Config, log *zap.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		workers:   make(map[string]*workerState),
		queueSize: cfg.QueueSize,
		idle:      cfg.IdleTimeout,
		log:       log,
	}
}

// Do queues fn behind earlier work for key and waits for it to finish. If
// ctx ends first Do returns ctx.Err(); a task whose ctx ended before it
// started is skipped.
func (m *Manager) Do(ctx context.Context, key string, fn func(context.Context)) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if err := m.enqueue(key, t); err != nil {
		return err
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop fails queued work with ErrStopped and waits for running tasks.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for key, state := range m.workers {
		close(state.stopCh)
		delete(m.workers, key)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// ActiveWorkers reports how many record writers are running.
func (m *Manager) ActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// enqueue holds m.mu so a writer cannot retire between lookup and send.
func (m *Manager) enqueue(key string, t task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	state, ok := m.workers[key]
	if !ok {
		state = newWorkerState(m.queueSize)
		m.workers[key] = state
		m.wg.Add(1)
		go m.runWorker(key, state)
	}
	select {
	case state.taskCh <- t:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, key)
	}
}

func (m *Manager) runWorker(key string, state *workerState) {
	defer m.wg.Done()
	timer := time.NewTimer(m.idle)
	defer timer.Stop()

	for {
		select {
		case <-state.stopCh:
			state.drain(ErrStopped)
			return
		case t := <-state.taskCh:
			m.run(key, t)
			timer.Reset(m.idle)
		case <-timer.C:
			if m.retire(key, state) {
				m.log.Debug("record writer retired", zap.String("key", key))
				return
			}
			timer.Reset(m.idle)
		}
	}
}

func (m *Manager) retire(key string, state *workerState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(state.taskCh) > 0 {
		return false
	}
	if m.workers[key] == state {
		delete(m.workers, key)
	}
	return true
}

func (m *Manager) run(key string, t task) {
	if err := t.ctx.Err(); err != nil {
		t.done <- err
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("record task panicked", zap.String("key", key), zap.Any("panic", r))
			t.done <- fmt.Errorf("record task panicked: %v", r)
		}
	}()
	t.fn(t.ctx)
	t.done <- nil
}
