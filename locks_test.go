package custody

import (
	"sync"
	"testing"
)

func TestSafeLocksSerializePerSafe(t *testing.T) {
	locks := NewSafeLocks()
	safe := NewAddress([]byte("contended safe"))

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock(safe)
			counter++
			locks.Unlock(safe)
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("want 50 increments, got %d", counter)
	}
}

func TestSafeLocksIndependentSafes(t *testing.T) {
	locks := NewSafeLocks()
	a := NewAddress([]byte("first safe"))
	b := NewAddress([]byte("second safe"))

	locks.Lock(a)
	// A lock on one safe must not block another safe.
	done := make(chan struct{})
	go func() {
		locks.Lock(b)
		locks.Unlock(b)
		close(done)
	}()
	<-done
	locks.Unlock(a)
}
