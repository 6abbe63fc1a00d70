// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, leader bool) *TaskQueue {
	t.Helper()
	e, _ := newTestElector(t, "queue-node")
	if leader {
		e.mu.Lock()
		e.role = RoleLeader
		e.mu.Unlock()
	}
	q, err := NewTaskQueue(e, nil)
	if err != nil {
		t.Fatalf("failed to create task queue: %v", err)
	}
	return q
}

func TestSubmitRequiresHandler(t *testing.T) {
	q := newTestQueue(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	if _, err := q.Submit(TaskBroadcast, nil, time.Time{}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Submit without handler: err = %v, want ErrUnknownKind", err)
	}
}

func TestLeaderDrainsFIFO(t *testing.T) {
	q := newTestQueue(t, true)

	var order []string
	done := make(chan struct{}, 2)
	q.Handle(TaskBroadcast, func(ctx context.Context, task Task) error {
		order = append(order, string(task.Payload))
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	if _, err := q.Submit(TaskBroadcast, []byte("first"), time.Time{}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := q.Submit(TaskBroadcast, []byte("second"), time.Time{}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("task was not drained")
		}
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("drain order = %v, want [first second]", order)
	}

	stats := q.Stats()
	if stats.Submitted != 2 || stats.Completed != 2 || stats.Pending != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFollowerDoesNotDrain(t *testing.T) {
	q := newTestQueue(t, false)

	var calls atomic.Int32
	q.Handle(TaskBroadcast, func(ctx context.Context, task Task) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	if _, err := q.Submit(TaskBroadcast, []byte("held"), time.Time{}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	time.Sleep(600 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("follower executed %d tasks", n)
	}
	if stats := q.Stats(); stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}
}

func TestExpiredTaskDropped(t *testing.T) {
	q := newTestQueue(t, false)

	var calls atomic.Int32
	q.Handle(TaskHealthCheck, func(ctx context.Context, task Task) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	if _, err := q.Submit(TaskHealthCheck, nil, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return q.Stats().Expired == 1 }) {
		t.Fatal("expired task was not dropped")
	}
	if calls.Load() != 0 {
		t.Error("expired task was executed")
	}
}

func TestCompletionCallback(t *testing.T) {
	q := newTestQueue(t, true)

	boom := errors.New("boom")
	q.Handle(TaskMemorySync, func(ctx context.Context, task Task) error {
		return boom
	})

	got := make(chan error, 1)
	q.OnComplete(func(task Task, err error) {
		got <- err
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	id, err := q.Submit(TaskMemorySync, nil, time.Time{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id == "" {
		t.Fatal("Submit returned empty task ID")
	}

	select {
	case err := <-got:
		if !errors.Is(err, boom) {
			t.Errorf("completion err = %v, want boom", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}

	if stats := q.Stats(); stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}

	completed := q.Completed()
	if len(completed) != 1 || completed[0].ID != id {
		t.Errorf("completed ring = %+v", completed)
	}
}
