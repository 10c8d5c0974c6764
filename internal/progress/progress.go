// Package progress is the side-channel counter import and export operations
// report through. It never affects correctness or ordering of the work it
// observes.
package progress

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	registerOnce sync.Once
	rowsTotal    *prometheus.CounterVec
)

func rowsCounter(operation string) prometheus.Counter {
	registerOnce.Do(func() {
		rowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backup_engine_rows_processed_total",
			Help: "Rows processed by import and export operations.",
		}, []string{"operation"})
		prometheus.DefaultRegisterer.MustRegister(rowsTotal)
	})
	return rowsTotal.WithLabelValues(operation)
}

// Callback receives the exact processed-row count. Invocations are throttled
// except for the final Flush, which always delivers the closing value.
type Callback func(processed int64)

// Counter counts processed rows exactly and fans the value out to a throttled
// callback plus a prometheus counter.
type Counter struct {
	mu       sync.Mutex
	n        int64
	reported int64
	limiter  *rate.Limiter
	callback Callback
	metric   prometheus.Counter
}

// NewCounter builds a counter for one operation kind. A nil callback is
// valid; the metric is still fed.
func NewCounter(operation string, callback Callback) *Counter {
	return &Counter{
		limiter:  rate.NewLimiter(rate.Limit(4), 1),
		callback: callback,
		metric:   rowsCounter(operation),
	}
}

// Increment records one processed row.
func (c *Counter) Increment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	c.metric.Inc()
	if c.callback != nil && c.limiter.Allow() {
		c.reported = c.n
		c.callback(c.n)
	}
}

// Flush delivers the final value to the callback regardless of throttling.
func (c *Counter) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callback != nil && c.reported != c.n {
		c.reported = c.n
		c.callback(c.n)
	}
}

// Value returns the exact processed-row count.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
