package core

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	var k keyedMutex

	unlockA := k.lock("a")
	unlockB := k.lock("b")
	if got := k.size(); got != 2 {
		t.Fatalf("size() = %d, want 2", got)
	}
	unlockA()
	unlockB()
	if got := k.size(); got != 0 {
		t.Errorf("size() after unlock = %d, want 0", got)
	}

	for i := 0; i < 100; i++ {
		k.lock("upload")()
	}
	if got := k.size(); got != 0 {
		t.Errorf("size() after repeated use = %d, want 0", got)
	}
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var k keyedMutex
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("upload")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max holders = %d, want 1", maxSeen)
	}
	if got := k.size(); got != 0 {
		t.Errorf("size() = %d, want 0", got)
	}
}

func TestKeyedMutex_OtherKeysDoNotBlock(t *testing.T) {
	var k keyedMutex
	unlock := k.lock("a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		k.lock("b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
}
