package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c.Request = req

	if got := KeyByClientIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("key = %q; want ip:203.0.113.9", got)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, nil)
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
	if rl.keyFn == nil {
		t.Fatalf("expected default key func")
	}

	lim := rl.limiterFor("k1")
	if got := rl.limiterFor("k1"); got != lim {
		t.Fatalf("expected limiter to be reused per key")
	}
	if got := rl.limiterFor("k2"); got == lim {
		t.Fatalf("expected distinct limiter per key")
	}
}

func TestRateLimiter_SweepEvictsIdle(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByClientIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.sweepN = 4999
	rl.mu.Unlock()

	_ = rl.limiterFor("new")

	rl.mu.Lock()
	_, oldLeft := rl.visitors["old"]
	_, newAdded := rl.visitors["new"]
	rl.mu.Unlock()
	if oldLeft || !newAdded {
		t.Fatalf("sweep: old present=%v new present=%v", oldLeft, newAdded)
	}
}

func TestRateLimiter_Handler_AllowThenDeny(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1.0, 1, KeyByClientIP())

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/rooms/:room_id/messages", func(c *gin.Context) { c.String(http.StatusOK, "[]") })

	do := func(ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/rooms/lobby/messages", nil)
		req.RemoteAddr = net.JoinHostPort(ip, "1")
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("198.51.100.1"); w.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w.Code)
	}
	w := do("198.51.100.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q; want 1", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "rate_limited" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected body: %v", body)
	}

	// Another client has its own bucket.
	if w := do("198.51.100.2"); w.Code != http.StatusOK {
		t.Fatalf("other client should pass, got %d", w.Code)
	}
}

func TestRateLimiter_RetryAfterSeconds(t *testing.T) {
	cases := []struct {
		rps  float64
		want int
	}{
		{10, 1},
		{1, 1},
		{0.25, 4},
		{0, 1},
	}
	for _, tc := range cases {
		if got := NewRateLimiter(tc.rps, 1, nil).retryAfterSeconds(); got != tc.want {
			t.Fatalf("rps=%v: retryAfter=%d; want %d", tc.rps, got, tc.want)
		}
	}
}
