package workpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunExecutesAll(t *testing.T) {
	p := New(4)
	defer p.Close()

	var hits [32]atomic.Int32
	if err := p.Run(len(hits), func(i int) { hits[i].Add(1) }); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i := range hits {
		if got := hits[i].Load(); got != 1 {
			t.Errorf("task %d ran %d times", i, got)
		}
	}
}

func TestPool_FutureResolves(t *testing.T) {
	p := New(2)
	defer p.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	f, err := p.SubmitFuture(func() {
		close(started)
		<-release
	})
	if err != nil {
		t.Fatalf("SubmitFuture failed: %v", err)
	}

	<-started
	if f.Done() {
		t.Error("future done before task finished")
	}
	close(release)
	f.Wait()
	if !f.Done() {
		t.Error("future not done after Wait")
	}
	// Wait is idempotent.
	f.Wait()
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := New(1)
	p.Close()

	if err := p.Submit(func() {}); err != ErrPoolClosed {
		t.Errorf("Submit after close = %v, want ErrPoolClosed", err)
	}
	if _, err := p.SubmitFuture(func() {}); err != ErrPoolClosed {
		t.Errorf("SubmitFuture after close = %v, want ErrPoolClosed", err)
	}
	// Close is idempotent.
	p.Close()
}

func TestPool_CloseWaitsForInFlight(t *testing.T) {
	p := New(2)

	var finished atomic.Int32
	for i := 0; i < 8; i++ {
		if err := p.Submit(func() {
			time.Sleep(time.Millisecond)
			finished.Add(1)
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	p.Close()
	if got := finished.Load(); got != 8 {
		t.Errorf("Close returned with %d of 8 tasks finished", got)
	}
}
