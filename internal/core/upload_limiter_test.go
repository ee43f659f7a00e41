package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestUploadLimiter_AcquireRelease(t *testing.T) {
	l := NewUploadLimiter(2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if got := l.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	if got := l.Available(); got != 0 {
		t.Errorf("Available = %d, want 0", got)
	}

	l.Release()
	l.Release()
	if got := l.ActiveCount(); got != 0 {
		t.Errorf("after Release, ActiveCount = %d, want 0", got)
	}
	if got := l.Available(); got != 2 {
		t.Errorf("after Release, Available = %d, want 2", got)
	}
}

func TestUploadLimiter_TimesOutWhenFull(t *testing.T) {
	l := NewUploadLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Release()

	start := time.Now()
	err := l.Acquire(ctx)
	if !errors.Is(err, ErrTooManyUploads) {
		t.Fatalf("Acquire on full limiter = %v, want ErrTooManyUploads", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("gave up after %v, want about 50ms", elapsed)
	}
}

func TestUploadLimiter_ContextCancellation(t *testing.T) {
	l := NewUploadLimiter(1, time.Minute)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire on empty limiter failed")
	}
	defer l.Release()

	if l.TryAcquire() {
		t.Fatal("TryAcquire on full limiter succeeded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire with expiring context = %v, want DeadlineExceeded", err)
	}
}

func TestUploadLimiter_UnblocksWaiter(t *testing.T) {
	l := NewUploadLimiter(1, time.Second)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()

	// Wait for the goroutine to register as a waiter.
	deadline := time.Now().Add(time.Second)
	for l.Status().Waiting == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := l.Status().Waiting; got != 1 {
		t.Fatalf("Waiting = %d, want 1", got)
	}

	l.Release()
	if err := <-done; err != nil {
		t.Fatalf("waiter Acquire = %v", err)
	}
	l.Release()
}

func TestUploadLimiter_ConcurrentAccess(t *testing.T) {
	l := NewUploadLimiter(3, time.Second)
	var peak, current atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			l.Release()
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
	if got := l.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after all done = %d", got)
	}
}

func TestUploadLimiter_WaitForDrain(t *testing.T) {
	l := NewUploadLimiter(2, time.Second)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitForDrain(ctx); err != nil {
		t.Fatalf("WaitForDrain = %v", err)
	}

	if !l.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	defer l.Release()
	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if err := l.WaitForDrain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain with busy slot = %v, want DeadlineExceeded", err)
	}
}

func TestUploadLimiter_StatusAndDefaults(t *testing.T) {
	l := NewUploadLimiter(0, 0)
	if l.MaxConcurrent() != DefaultMaxConcurrentUploads || l.maxWait != DefaultMaxWaitTime {
		t.Errorf("defaults = %d, %v", l.MaxConcurrent(), l.maxWait)
	}

	l.TryAcquire()
	defer l.Release()
	want := UploadLimiterStatus{Active: 1, Waiting: 0, Available: DefaultMaxConcurrentUploads - 1, MaxConcurrent: DefaultMaxConcurrentUploads}
	if got := l.Status(); got != want {
		t.Errorf("Status() = %+v, want %+v", got, want)
	}
}
