package middleware

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/auth"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestPostingLimiter_BurstAndRefill(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := NewPostingLimiter(6, 2, 0, WithSweepClock(clock.Now))
	defer l.Stop()

	for i := 0; i < 2; i++ {
		if !l.Allow("handle:ida") {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}
	ok, wait := l.Reserve("handle:ida")
	if ok {
		t.Fatalf("expected limiter to block after burst consumed")
	}
	if wait <= 0 || wait > 10*time.Second {
		t.Fatalf("unexpected retry hint %s", wait)
	}

	// a refused reservation does not push the next token further out
	clock.Advance(10 * time.Second)
	if !l.Allow("handle:ida") {
		t.Fatalf("expected a token after refill")
	}
}

func TestPostingLimiter_Sweep(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := NewPostingLimiter(60, 1, 0, WithIdleTTL(time.Minute), WithSweepClock(clock.Now))
	defer l.Stop()

	l.Allow("handle:ida")
	clock.Advance(30 * time.Second)
	l.Allow("handle:olle")

	if n := l.Sweep(); n != 0 {
		t.Fatalf("swept %d fresh buckets", n)
	}
	clock.Advance(45 * time.Second)
	if n := l.Sweep(); n != 1 {
		t.Fatalf("expected one idle bucket swept, got %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("expected olle's bucket to remain, have %d", l.Len())
	}
}

func TestPostingLimiter_BackgroundSweep(t *testing.T) {
	l := NewPostingLimiter(5, 5, 20*time.Millisecond, WithIdleTTL(10*time.Millisecond))
	defer l.Stop()

	l.Allow("handle:ida")
	deadline := time.Now().Add(2 * time.Second)
	for l.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle bucket was never swept")
		}
		time.Sleep(10 * time.Millisecond)
	}
	l.Stop()
}

func TestRateLimitUnaryInterceptor_KeysByHandle(t *testing.T) {
	l := NewPostingLimiter(1, 1, 0)
	defer l.Stop()

	icpt := RateLimitUnaryInterceptor(l, map[string]bool{"/svc/Post": true})
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	addr := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4000}
	base := peer.NewContext(context.Background(), &peer.Peer{Addr: addr})
	ida := auth.WithIdentity(base, data.NewIdentity("ida"))
	olle := auth.WithIdentity(base, data.NewIdentity("olle"))
	post := &grpc.UnaryServerInfo{FullMethod: "/svc/Post"}

	if _, err := icpt(ida, nil, post, handler); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	_, err := icpt(ida, nil, post, handler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if !strings.Contains(status.Convert(err).Message(), "retry in") {
		t.Fatalf("expected a retry hint, got %q", status.Convert(err).Message())
	}

	// same address, different caller: separate budget
	if _, err := icpt(olle, nil, post, handler); err != nil {
		t.Fatalf("other handle should pass: %v", err)
	}

	// unlisted methods are never limited
	for i := 0; i < 3; i++ {
		if _, err := icpt(ida, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/List"}, handler); err != nil {
			t.Fatalf("unlimited method rejected: %v", err)
		}
	}

	// anonymous calls fall back to the peer address
	if _, err := icpt(base, nil, post, handler); err != nil {
		t.Fatalf("anonymous first call should pass: %v", err)
	}
	if _, err := icpt(base, nil, post, handler); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected anonymous call to be limited, got %v", err)
	}
}
