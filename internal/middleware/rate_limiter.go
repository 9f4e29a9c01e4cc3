package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/rmitchellscott/onebit/internal/logging"
)

// ClientRateLimiter enforces a token bucket per client IP
type ClientRateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	clients map[string]*clientLimit
	mutex   sync.Mutex
	now     func() time.Time
}

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimiter creates a limiter allowing perSecond requests per
// client with the given burst. A non-positive perSecond disables limiting.
func NewClientRateLimiter(perSecond float64, burst int) *ClientRateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &ClientRateLimiter{
		limit:   limit,
		burst:   max(burst, 1),
		idleTTL: 10 * time.Minute,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// RateLimit is a middleware that rejects requests over the client's budget
func (crl *ClientRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !crl.allowRequest(ip) {
			logging.WarnWithComponent(logging.ComponentRateLimit, "Rate limit exceeded", "ip", ip, "path", c.FullPath())
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"rate_limit": float64(crl.limit),
				"burst":      crl.burst,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// allowRequest checks if a request should be allowed based on rate limiting
func (crl *ClientRateLimiter) allowRequest(clientKey string) bool {
	crl.mutex.Lock()
	defer crl.mutex.Unlock()

	now := crl.now()
	cl, exists := crl.clients[clientKey]
	if !exists {
		cl = &clientLimit{limiter: rate.NewLimiter(crl.limit, crl.burst)}
		crl.clients[clientKey] = cl
	}
	cl.lastSeen = now

	return cl.limiter.AllowN(now, 1)
}

// StartCleanup evicts idle clients every interval until stop is closed
func (crl *ClientRateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				crl.cleanup()
			case <-stop:
				return
			}
		}
	}()
}

// cleanup removes clients idle for longer than idleTTL
func (crl *ClientRateLimiter) cleanup() int {
	crl.mutex.Lock()
	defer crl.mutex.Unlock()

	now := crl.now()
	removed := 0
	for key, cl := range crl.clients {
		if now.Sub(cl.lastSeen) >= crl.idleTTL {
			delete(crl.clients, key)
			removed++
		}
	}
	return removed
}

// RequestSizeLimit rejects bodies larger than maxBytes and caps the reader
// for requests that do not declare a length
func RequestSizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			logging.WarnWithComponent(logging.ComponentAPI, "Request too large", "size", c.Request.ContentLength, "limit", maxBytes, "ip", c.ClientIP())
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":     "Request payload too large",
				"max_size":  fmt.Sprintf("%dB", maxBytes),
				"your_size": fmt.Sprintf("%dB", c.Request.ContentLength),
			})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
