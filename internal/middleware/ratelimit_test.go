package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/studycrew/studycrew/internal/logging"
)

func newTestRateLimiter(rps, burst int) *RateLimiter {
	return NewRateLimiter(rps, burst, logging.New("test", "error", "json"))
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := newTestRateLimiter(1, 2)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/studies", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third request: expected 429, got %d", last)
	}
}

func TestCleanupBoundsLimiterMap(t *testing.T) {
	rl := newTestRateLimiter(100, 100)
	for i := 0; i < 10001; i++ {
		rl.getLimiter(fmt.Sprintf("key-%d", i))
	}

	rl.Cleanup()

	rl.mu.RLock()
	size := len(rl.limiters)
	rl.mu.RUnlock()
	if size != 0 {
		t.Fatalf("limiter map size after cleanup = %d, want 0", size)
	}
}

func TestStartCleanupStops(t *testing.T) {
	rl := newTestRateLimiter(1, 1)

	stop := rl.StartCleanup(time.Millisecond)

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return; cleanup goroutine still running")
	}
}
