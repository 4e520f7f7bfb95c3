package testutil

import (
	"testing"
	"time"
)

// WaitFor polls condition every 20ms until it returns true, failing the test
// with message once timeout has elapsed.
//
//	testutil.WaitFor(t, 2*time.Second, "digest for f1 to be cached", func() bool {
//	    _, ok := cache.Get("f1")
//	    return ok
//	})
func WaitFor(t testing.TB, timeout time.Duration, message string, condition func() bool) {
	t.Helper()

	if condition() {
		return
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s (waited %v)", message, timeout)
		}
	}
}
