package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mdai-dev/kiosk/internal/errors"
)

func TestPool_Do(t *testing.T) {
	p := New(2, nil)
	defer p.Close()

	ran := false
	if err := p.Do(context.Background(), "job", func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !ran {
		t.Error("job did not run")
	}

	want := errors.New("activation failed")
	if err := p.Do(context.Background(), "fail", func() error { return want }); err != want {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
}

func TestPool_DoRecoversPanic(t *testing.T) {
	p := New(1, nil)
	defer p.Close()

	err := p.Do(context.Background(), "panicky", func() error {
		panic("camera driver exploded")
	})
	var unexpected *errors.UnexpectedError
	if !errors.As(err, &unexpected) {
		t.Fatalf("expected UnexpectedError, got %v", err)
	}
	if unexpected.Op != "panicky" {
		t.Errorf("Op = %q, want panicky", unexpected.Op)
	}
}

func TestPool_DoContextCanceled(t *testing.T) {
	p := New(1, nil)
	defer p.Close()

	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, "slow", func() error {
		<-release
		return nil
	})
	close(release)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want deadline exceeded", err)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(2, nil)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		if err := p.Go("job", func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	p.Close()

	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestPool_GoRecoversPanic(t *testing.T) {
	p := New(1, nil)
	if err := p.Go("boom", func() { panic("x") }); err != nil {
		t.Fatal(err)
	}
	// Close waits; a leaked panic would crash the test binary.
	p.Close()
}

func TestPool_Closed(t *testing.T) {
	p := New(1, nil)
	p.Close()
	p.Close()

	if err := p.Go("late", func() {}); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("Go() after Close error = %v, want ErrClosed", err)
	}
	if err := p.TryGo("late", func() {}); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("TryGo() after Close error = %v, want ErrClosed", err)
	}
	if err := p.Do(context.Background(), "late", func() error { return nil }); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("Do() after Close error = %v, want ErrClosed", err)
	}
}

func TestPool_TryGoRejectsWhenBusy(t *testing.T) {
	p := New(1, nil)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Go("hold", func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	done := make(chan error, 1)
	go func() { done <- p.TryGo("save", func() {}) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrBusy) {
			t.Errorf("TryGo() error = %v, want ErrBusy", err)
		}
	case <-time.After(time.Second):
		t.Fatal("TryGo() blocked on a busy pool")
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	ran := make(chan struct{})
	for {
		err := p.TryGo("save", func() { close(ran) })
		if err == nil {
			break
		}
		if !errors.Is(err, ErrBusy) || time.Now().After(deadline) {
			t.Fatalf("TryGo() after release error = %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("accepted job never ran")
	}
}
