package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/caffeineduck/newstate/internal/config"
	"github.com/caffeineduck/newstate/internal/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientIdle is how long a client's limiter is kept after its last request.
const clientIdle = 3 * time.Minute

// rateLimit creates a per-IP rate limiting middleware.
func rateLimit(cfg config.RateLimitConfig, m *metrics.Metrics) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastPrune = time.Now()
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		if now.Sub(lastPrune) > clientIdle {
			for k, cl := range clients {
				if now.Sub(cl.lastSeen) > clientIdle {
					delete(clients, k)
				}
			}
			lastPrune = now
		}
		cl, exists := clients[ip]
		if !exists {
			cl = &client{
				limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
			}
			clients[ip] = cl
		}
		cl.lastSeen = now
		limiter := cl.limiter
		mu.Unlock()

		if !limiter.Allow() {
			if m != nil {
				m.RateLimited.Inc()
			}
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
