package kmutex

import (
	"sync"
	"testing"
)

func TestSameKeySerializes(t *testing.T) {
	k := New()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock("sid-1")
			counter++
			k.Unlock("sid-1")
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	k := New()
	k.Lock("a")

	done := make(chan struct{})
	go func() {
		k.Lock("b")
		k.Unlock("b")
		close(done)
	}()

	<-done
	k.Unlock("a")
}

func TestEntriesDroppedAfterRelease(t *testing.T) {
	k := New()
	k.Lock("a")
	k.Unlock("a")

	k.mu.Lock()
	n := len(k.entries)
	k.mu.Unlock()
	if n != 0 {
		t.Errorf("entries = %d, want 0 after release", n)
	}
}

func TestUnlockUnheldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on unlock of unheld key")
		}
	}()
	New().Unlock("nope")
}
