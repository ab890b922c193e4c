// Package middleware holds gRPC interceptors shared by the API server.
package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/auth"
)

// PostingLimiter hands out one token bucket per caller. Buckets that have
// been idle for longer than the idle TTL are swept in the background.
type PostingLimiter struct {
	every rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	done     chan struct{}
	doneOnce sync.Once
}

type bucket struct {
	*rate.Limiter
	used time.Time
}

// LimiterOption configures a PostingLimiter.
type LimiterOption func(*PostingLimiter)

// WithIdleTTL sets how long an unused bucket is kept.
func WithIdleTTL(d time.Duration) LimiterOption {
	return func(l *PostingLimiter) { l.ttl = d }
}

// WithSweepClock overrides the clock used to age buckets.
func WithSweepClock(now func() time.Time) LimiterOption {
	return func(l *PostingLimiter) { l.now = now }
}

// NewPostingLimiter allows perMinute posts per caller with the given burst.
// A sweep runs every sweepEvery; zero disables the background sweep.
func NewPostingLimiter(perMinute, burst int, sweepEvery time.Duration, opts ...LimiterOption) *PostingLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	l := &PostingLimiter{
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		ttl:     10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if sweepEvery > 0 {
		go l.sweepLoop(sweepEvery)
	}
	return l
}

func (l *PostingLimiter) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.Sweep()
		case <-l.done:
			return
		}
	}
}

// Sweep drops buckets idle for longer than the TTL and returns how many
// were dropped.
func (l *PostingLimiter) Sweep() int {
	cutoff := l.now().Add(-l.ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.buckets {
		if b.used.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Stop ends the background sweep. Safe to call more than once.
func (l *PostingLimiter) Stop() {
	l.doneOnce.Do(func() { close(l.done) })
}

// Len returns the number of tracked callers.
func (l *PostingLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Reserve takes a token for key. When none is available it returns false
// and how long the caller should wait before retrying.
func (l *PostingLimiter) Reserve(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.used = now
	l.mu.Unlock()

	r := b.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Allow reports whether key may post now.
func (l *PostingLimiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

// RateLimitUnaryInterceptor limits the listed methods per caller. It keys on
// the authenticated handle, so it has to run after the auth interceptor;
// anonymous calls are keyed by remote address.
func RateLimitUnaryInterceptor(l *PostingLimiter, limited map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !limited[info.FullMethod] {
			return handler(ctx, req)
		}
		if ok, wait := l.Reserve(callerKey(ctx)); !ok {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %s", wait.Round(time.Second))
		}
		return handler(ctx, req)
	}
}

func callerKey(ctx context.Context) string {
	if id, ok := auth.IdentityFromContext(ctx); ok {
		return "handle:" + id.Handle
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "addr:" + p.Addr.String()
	}
	return "unknown"
}
