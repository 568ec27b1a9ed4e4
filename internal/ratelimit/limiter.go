// Package ratelimit throttles outgoing requests on the client side. BlinkTrade
// publishes no limits, so throttling is opt-in and a nil limiter never blocks.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Bucket names used by the transports.
const (
	BucketPublic = "public"
	BucketTrade  = "trade"
)

// RateLimiter applies one global token bucket plus an independent bucket per
// name. A request passes only when both allow it.
type RateLimiter struct {
	global   *rate.Limiter
	buckets  sync.Map
	requests int
	period   time.Duration
	metrics  *Metrics
}

// Metrics tracks statistics about rate limiter usage.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	bucketCount     atomic.Int32
}

// New creates a RateLimiter allowing requests per period. It returns nil when
// requests or period is not positive, which disables throttling.
func New(requests int, period time.Duration) *RateLimiter {
	if requests <= 0 || period <= 0 {
		return nil
	}
	return &RateLimiter{
		global:   newLimiter(requests, period),
		requests: requests,
		period:   period,
		metrics:  &Metrics{},
	}
}

func newLimiter(requests int, period time.Duration) *rate.Limiter {
	rps := float64(requests) / period.Seconds()
	return rate.NewLimiter(rate.Limit(rps), requests)
}

// Wait blocks until the global bucket allows a request or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.record(r.global.Wait(ctx))
}

// WaitBucket blocks until both the global bucket and the named bucket allow a
// request. Buckets are created on demand with the global limit.
func (r *RateLimiter) WaitBucket(ctx context.Context, bucket string) error {
	if r == nil {
		return nil
	}
	if err := r.global.Wait(ctx); err != nil {
		return r.record(err)
	}
	return r.record(r.getBucket(bucket).Wait(ctx))
}

func (r *RateLimiter) record(err error) error {
	r.metrics.totalRequests.Add(1)
	if err != nil {
		r.metrics.deniedRequests.Add(1)
		return err
	}
	r.metrics.allowedRequests.Add(1)
	return nil
}

func (r *RateLimiter) getBucket(bucket string) *rate.Limiter {
	if v, ok := r.buckets.Load(bucket); ok {
		return v.(*rate.Limiter)
	}

	actual, loaded := r.buckets.LoadOrStore(bucket, newLimiter(r.requests, r.period))
	if !loaded {
		r.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// Metrics returns a snapshot of the current rate limiter statistics.
func (r *RateLimiter) Metrics() MetricsSnapshot {
	if r == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		TotalRequests:   r.metrics.totalRequests.Load(),
		AllowedRequests: r.metrics.allowedRequests.Load(),
		DeniedRequests:  r.metrics.deniedRequests.Load(),
		BucketCount:     r.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of rate limiter statistics.
type MetricsSnapshot struct {
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	BucketCount     int32
}
