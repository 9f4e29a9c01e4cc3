package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/", handlers...)
	return r
}

func TestRateLimitPerClient(t *testing.T) {
	crl := NewClientRateLimiter(0.001, 2)
	r := newTestRouter(crl.RateLimit())

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2"))
}

func TestRateLimitDisabled(t *testing.T) {
	crl := NewClientRateLimiter(0, 1)
	for i := 0; i < 100; i++ {
		assert.True(t, crl.allowRequest("a"))
	}
}

func TestCleanupEvictsIdleClients(t *testing.T) {
	crl := NewClientRateLimiter(1, 1)
	start := time.Now()
	crl.now = func() time.Time { return start }

	crl.allowRequest("old")
	crl.now = func() time.Time { return start.Add(crl.idleTTL - time.Second) }
	crl.allowRequest("fresh")

	crl.now = func() time.Time { return start.Add(crl.idleTTL) }
	assert.Equal(t, 1, crl.cleanup())
	assert.Contains(t, crl.clients, "fresh")
	assert.NotContains(t, crl.clients, "old")
}

func TestRequestSizeLimit(t *testing.T) {
	r := newTestRouter(RequestSizeLimit(8))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body is too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
