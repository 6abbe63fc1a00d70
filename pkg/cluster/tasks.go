// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cluster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loganrossus/loom/pkg/metrics"
)

// TaskKind classifies leader-distributed work.
type TaskKind string

const (
	// TaskAIRequest routes an AI request through the leader.
	TaskAIRequest TaskKind = "ai_request"
	// TaskMemorySync replicates memory state between nodes.
	TaskMemorySync TaskKind = "memory_sync"
	// TaskBroadcast fans a payload out to connected sessions.
	TaskBroadcast TaskKind = "broadcast"
	// TaskHealthCheck probes provider health on demand.
	TaskHealthCheck TaskKind = "health_check"
)

// DefaultTaskDeadline bounds how long a submitted task may wait.
const DefaultTaskDeadline = 30 * time.Second

// completedRingSize bounds the completed-task history.
const completedRingSize = 128

// Task is one unit of leader-distributed work.
type Task struct {
	ID        string    `json:"id"`
	Kind      TaskKind  `json:"kind"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Deadline  time.Time `json:"deadline"`
}

// TaskHandler executes one task kind. Returning an error counts the
// task as failed; it still moves to the completed ring.
type TaskHandler func(ctx context.Context, task Task) error

// TaskStats is a snapshot of queue counters.
type TaskStats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Expired   uint64 `json:"expired"`
	Pending   int    `json:"pending"`
}

// Task queue errors.
var (
	ErrQueueStopped = errors.New("task queue is stopped")
	ErrUnknownKind  = errors.New("no handler registered for task kind")
)

// TaskQueue holds leader work. Any node may submit; the queue drains
// only while the local node leads, so a follower's submissions wait
// until leadership arrives or their deadline passes.
type TaskQueue struct {
	logger  *slog.Logger
	elector *Elector

	mu        sync.Mutex
	running   bool
	pending   []Task
	completed []Task
	handlers  map[TaskKind]TaskHandler
	wake      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}

	submitted uint64
	finished  uint64
	failed    uint64
	expired   uint64

	onComplete func(task Task, err error)
}

// NewTaskQueue creates a task queue bound to an elector.
func NewTaskQueue(elector *Elector, logger *slog.Logger) (*TaskQueue, error) {
	if elector == nil {
		return nil, errors.New("elector is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		logger:   logger.With("component", "tasks"),
		elector:  elector,
		handlers: make(map[TaskKind]TaskHandler),
		wake:     make(chan struct{}, 1),
	}, nil
}

// Handle registers the handler for a task kind. Must be called before
// Start.
func (q *TaskQueue) Handle(kind TaskKind, fn TaskHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = fn
}

// OnComplete sets the callback fired after each task finishes.
func (q *TaskQueue) OnComplete(fn func(task Task, err error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onComplete = fn
}

// Start begins the drain loop.
func (q *TaskQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return errors.New("task queue already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.running = true

	q.logger.Info("task queue starting", "handlers", len(q.handlers))
	go q.drain(runCtx)
	return nil
}

// Stop halts the drain loop. Pending tasks stay queued.
func (q *TaskQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	cancel := q.cancel
	done := q.done
	q.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	q.logger.Info("task queue stopped")
	return nil
}

// Submit enqueues a task and returns its ID. A zero deadline gets the
// default.
func (q *TaskQueue) Submit(kind TaskKind, payload []byte, deadline time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return "", ErrQueueStopped
	}
	if _, ok := q.handlers[kind]; !ok {
		return "", ErrUnknownKind
	}

	now := time.Now()
	if deadline.IsZero() {
		deadline = now.Add(DefaultTaskDeadline)
	}
	task := Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
		Deadline:  deadline,
	}
	q.pending = append(q.pending, task)
	q.submitted++

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return task.ID, nil
}

// Stats returns a snapshot of queue counters.
func (q *TaskQueue) Stats() TaskStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return TaskStats{
		Submitted: q.submitted,
		Completed: q.finished,
		Failed:    q.failed,
		Expired:   q.expired,
		Pending:   len(q.pending),
	}
}

// Completed returns a copy of the completed-task ring, newest last.
func (q *TaskQueue) Completed() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.completed))
	copy(out, q.completed)
	return out
}

func (q *TaskQueue) drain(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}

		if !q.elector.IsLeader() {
			q.expireStale()
			continue
		}

		for {
			task, ok := q.pop()
			if !ok {
				break
			}
			q.execute(ctx, task)
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// pop removes the oldest unexpired pending task, dropping expired ones
// along the way.
func (q *TaskQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for len(q.pending) > 0 {
		task := q.pending[0]
		q.pending = q.pending[1:]
		if now.After(task.Deadline) {
			q.expired++
			metrics.TasksProcessed.WithLabelValues(string(task.Kind), "expired").Inc()
			q.logger.Warn("dropping expired task",
				"task_id", task.ID,
				"kind", task.Kind,
				"age", now.Sub(task.CreatedAt),
			)
			continue
		}
		return task, true
	}
	return Task{}, false
}

func (q *TaskQueue) expireStale() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	kept := q.pending[:0]
	for _, task := range q.pending {
		if now.After(task.Deadline) {
			q.expired++
			metrics.TasksProcessed.WithLabelValues(string(task.Kind), "expired").Inc()
			q.logger.Warn("dropping expired task while not leader",
				"task_id", task.ID,
				"kind", task.Kind,
			)
			continue
		}
		kept = append(kept, task)
	}
	q.pending = kept
}

func (q *TaskQueue) execute(ctx context.Context, task Task) {
	q.mu.Lock()
	handler := q.handlers[task.Kind]
	onComplete := q.onComplete
	q.mu.Unlock()

	taskCtx, cancel := context.WithDeadline(ctx, task.Deadline)
	err := handler(taskCtx, task)
	cancel()

	q.mu.Lock()
	if err != nil {
		q.failed++
		metrics.TasksProcessed.WithLabelValues(string(task.Kind), "failed").Inc()
	} else {
		q.finished++
		metrics.TasksProcessed.WithLabelValues(string(task.Kind), "ok").Inc()
	}
	q.completed = append(q.completed, task)
	if len(q.completed) > completedRingSize {
		q.completed = q.completed[len(q.completed)-completedRingSize:]
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("task failed", "task_id", task.ID, "kind", task.Kind, "error", err)
	} else {
		q.logger.Debug("task completed", "task_id", task.ID, "kind", task.Kind)
	}

	if onComplete != nil {
		onComplete(task, err)
	}
}
