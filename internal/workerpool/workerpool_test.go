package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSubmitRunsTasks(t *testing.T) {
	p := New(2, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	var wg sync.WaitGroup
	var count int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks to complete")
	}

	if got := atomic.LoadInt64(&count); got != 50 {
		t.Fatalf("expected 50 tasks run, got %d", got)
	}
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	p := New(1, zerolog.Nop())
	// Don't Start: nothing drains the queue, so once it fills further
	// submits must be dropped rather than block.
	for i := 0; i < cap(p.taskQueue)+10; i++ {
		p.Submit(func() {})
	}
	if p.DroppedTasks() == 0 {
		t.Fatal("expected some tasks dropped once the queue filled")
	}
}

func TestRunTaskRecoversPanic(t *testing.T) {
	p := New(1, zerolog.Nop())
	p.runTask(func() { panic("boom") })
	if p.PanickedTasks() != 1 {
		t.Fatalf("expected PanickedTasks to be 1, got %d", p.PanickedTasks())
	}
}
