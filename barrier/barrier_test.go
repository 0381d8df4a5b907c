package barrier

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSharedHoldersDoNotBlockEachOther(t *testing.T) {
	b := New()
	var active int32

	release1 := b.HoldShared()
	atomic.AddInt32(&active, 1)

	done := make(chan struct{})
	go func() {
		release2 := b.HoldShared()
		atomic.AddInt32(&active, 1)
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second shared holder should not block")
	}

	if atomic.LoadInt32(&active) != 2 {
		t.Fatalf("expected 2 concurrent shared holders, got %d", active)
	}
	release1()
}

func TestExclusiveExcludesShared(t *testing.T) {
	b := New()
	releaseExcl := b.HoldExclusive()

	acquired := make(chan struct{})
	go func() {
		release := b.HoldShared()
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("shared acquisition should block while exclusive is held")
	case <-time.After(50 * time.Millisecond):
	}

	releaseExcl()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("shared acquisition should proceed after exclusive release")
	}
}

func TestExclusiveIsMutuallyExclusive(t *testing.T) {
	b := New()
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			release := b.HoldExclusive()
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			release()
		}(i)
	}
	wg.Wait()

	if len(order) != 5 {
		t.Fatalf("expected 5 exclusive holders to run, got %d", len(order))
	}
}
