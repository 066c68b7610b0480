package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for request metrics. Requests are
// labeled by route pattern so session IDs do not become label values.
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures one sandbox operation.
type Timer struct {
	start   time.Time
	metrics *Metrics
	op      string
}

func NewTimer(m *Metrics, op string) *Timer {
	return &Timer{start: time.Now(), metrics: m, op: op}
}

// Stop records the elapsed time under status and returns it.
func (t *Timer) Stop(status string) time.Duration {
	d := time.Since(t.start)
	t.metrics.RecordCall(t.op, status, d)
	return d
}
