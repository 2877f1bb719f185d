package goroutine

import (
	"runtime"
	"testing"
	"time"
)

const (
	leakTimeout      = 5 * time.Second
	leakPollInterval = 50 * time.Millisecond
)

// AssertNoLeaks fails t if, once the test and its cleanups finish, more
// goroutines are running than when AssertNoLeaks was called. Call it before
// starting anything that spawns goroutines (rate limiters, cache sweepers).
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	before := runtime.NumGoroutine()

	t.Cleanup(func() {
		if settle(before, leakTimeout) {
			return
		}
		current := runtime.NumGoroutine()
		t.Errorf("goroutine leak: %d running before the test, %d after", before, current)

		buf := make([]byte, 1<<20)
		t.Logf("Active goroutines:\n%s", buf[:runtime.Stack(buf, true)])
	})
}

// settle polls until at most target goroutines remain or timeout expires
func settle(target int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if runtime.NumGoroutine() <= target {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(leakPollInterval)
	}
}
