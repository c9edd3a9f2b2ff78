package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newThrottleRouter(rps float64, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/t", NewIPThrottle(rps, burst).Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func getFrom(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/t", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIPThrottleAllowsWithinBurst(t *testing.T) {
	r := newThrottleRouter(1, 3)

	for i := 0; i < 3; i++ {
		if w := getFrom(r, "10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d, expected 200", i+1, w.Code)
		}
	}
}

func TestIPThrottleBlocksBurstOverflow(t *testing.T) {
	r := newThrottleRouter(0.001, 2)

	getFrom(r, "10.0.0.1")
	getFrom(r, "10.0.0.1")

	w := getFrom(r, "10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("overflow status = %d, expected 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on 429")
	}
}

func TestIPThrottleIsPerIP(t *testing.T) {
	r := newThrottleRouter(0.001, 1)

	if w := getFrom(r, "10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("first IP: status %d", w.Code)
	}
	if w := getFrom(r, "10.0.0.1"); w.Code != http.StatusTooManyRequests {
		t.Errorf("first IP second hit: status %d, expected 429", w.Code)
	}
	if w := getFrom(r, "10.0.0.2"); w.Code != http.StatusOK {
		t.Errorf("second IP: status %d, expected its own bucket", w.Code)
	}
}
