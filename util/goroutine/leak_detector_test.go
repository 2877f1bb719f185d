package goroutine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssertNoLeaks_FinishedGoroutines(t *testing.T) {
	AssertNoLeaks(t)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
		}()
	}
	wg.Wait()
}

func TestAssertNoLeaks_StoppedInCleanup(t *testing.T) {
	AssertNoLeaks(t)

	stop := make(chan struct{})
	go func() { <-stop }()
	// Cleanups run last-in first-out, so this runs before the leak check
	t.Cleanup(func() { close(stop) })
}

func TestSettle(t *testing.T) {
	stop := make(chan struct{})
	go func() { <-stop }()

	assert.True(t, settle(1<<20, time.Second))
	assert.False(t, settle(0, 2*leakPollInterval))
	close(stop)
}
