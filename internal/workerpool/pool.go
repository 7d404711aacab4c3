// Package workerpool runs overlay actions off the threads that trigger them.
// Keybinds fire on the host's window-procedure thread and control requests
// on the pipe server; neither may block on work like killing and relaunching
// the producer.
package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/overlay/internal/logging"
	"github.com/breeze-rmm/overlay/internal/metrics"
)

var log = logging.L("workerpool")

var errPanicked = errors.New("action panicked")

// Task is a named unit of work. ctx is cancelled when the pool shuts down.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	maxWorkers int
	queue      chan Task
	wg         sync.WaitGroup
	accepting  atomic.Bool
	stopOnce   sync.Once
	closeOnce  sync.Once
	stopChan   chan struct{}
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool with maxWorkers goroutines and a task queue of queueSize.
// m may be nil.
func New(maxWorkers, queueSize int, m *metrics.Metrics) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		maxWorkers: maxWorkers,
		queue:      make(chan Task, queueSize),
		stopChan:   make(chan struct{}),
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
	p.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Context is cancelled once the pool shuts down.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit enqueues a task without blocking. It returns false if the pool is
// stopped or the queue is full.
func (p *Pool) Submit(task Task) bool {
	if !p.accepting.Load() {
		return false
	}

	// Add before enqueue so Drain cannot miss the task.
	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		log.Warn("action queue full, task rejected", "action", task.Name)
		return false
	}
}

// Go is Submit for a task that takes no context and cannot fail.
func (p *Pool) Go(name string, fn func()) bool {
	return p.Submit(Task{Name: name, Run: func(context.Context) error { fn(); return nil }})
}

// StopAccepting prevents new tasks from being submitted.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Drain waits for in-flight and queued tasks, respecting the ctx deadline,
// then closes the queue so the workers exit. It stops accepting first.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
	}

	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

// Shutdown drains the pool and cancels the context handed to tasks.
func (p *Pool) Shutdown(ctx context.Context) {
	p.Drain(ctx)
	p.cancel()
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.stopChan:
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task)
				default:
					return
				}
			}
		}
	}
}

// runTask executes a single task with panic recovery. wg.Done matches the
// wg.Add in Submit.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			log.Error("action panicked", "action", task.Name, "panic", r, "stack", string(debug.Stack()))
			p.metrics.ActionRun(task.Name, errPanicked)
			return
		}
		p.metrics.ActionRun(task.Name, err)
		if err != nil {
			log.Warn("action failed", "action", task.Name, logging.KeyError, err.Error())
			return
		}
		log.Info("action completed", "action", task.Name, logging.KeyDurationMs, time.Since(start).Milliseconds())
	}()
	err = task.Run(p.ctx)
}
