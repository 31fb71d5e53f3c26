package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestUserLockMutualExclusionProperty verifies that for any interleaving of
// goroutines contending on the same user ID, the critical section is never
// entered concurrently.
func TestUserLockMutualExclusionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.Int64Range(1, 1000).Draw(t, "userID")
		workers := rapid.IntRange(2, 16).Draw(t, "workers")
		iterations := rapid.IntRange(1, 50).Draw(t, "iterations")

		ul := NewUserLock()
		var inSection int32
		var violations int32
		var wg sync.WaitGroup

		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < iterations; i++ {
					ul.Lock(userID)
					if atomic.AddInt32(&inSection, 1) != 1 {
						atomic.AddInt32(&violations, 1)
					}
					atomic.AddInt32(&inSection, -1)
					ul.Unlock(userID)
				}
			}()
		}
		wg.Wait()

		if violations != 0 {
			t.Fatalf("critical section entered concurrently %d times", violations)
		}
	})
}

// TestUserLockIndependentUsers verifies locks for distinct users do not
// block each other.
func TestUserLockIndependentUsers(t *testing.T) {
	ul := NewUserLock()

	ul.Lock(1)
	defer ul.Unlock(1)

	acquired := make(chan struct{})
	go func() {
		ul.Lock(2)
		close(acquired)
		ul.Unlock(2)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock for user 2 should be acquirable while user 1 is held")
	}
}

// TestWithLockCounterProperty verifies WithLock serializes a read-modify-write
// counter: the final value equals the number of increments.
func TestWithLockCounterProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		workers := rapid.IntRange(2, 8).Draw(t, "workers")
		increments := rapid.IntRange(1, 100).Draw(t, "increments")

		ul := NewUserLock()
		counter := 0
		var wg sync.WaitGroup

		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < increments; i++ {
					_ = ul.WithLock(42, func() error {
						counter++
						return nil
					})
				}
			}()
		}
		wg.Wait()

		if counter != workers*increments {
			t.Fatalf("expected %d increments, got %d", workers*increments, counter)
		}
	})
}
