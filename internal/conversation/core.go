package conversation

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
)

const (
	DefaultMaxContentLength = 2000
	DefaultStoreRetries     = 3
	DefaultRetryInterval    = 50 * time.Millisecond
)

// Option configures a manager.
type Option func(*core)

// WithMaxContentLength bounds message length in runes.
func WithMaxContentLength(n int) Option {
	return func(c *core) {
		if n > 0 {
			c.maxContentLength = n
		}
	}
}

// WithStoreRetries sets how often a StoreUnavailable failure is retried.
func WithStoreRetries(n uint64, initial time.Duration) Option {
	return func(c *core) {
		c.retries = n
		if initial > 0 {
			c.retryInterval = initial
		}
	}
}

// WithClock replaces time.Now; the result is still made strictly monotonic.
func WithClock(now func() time.Time) Option {
	return func(c *core) { c.clock.now = now }
}

// core carries what both managers share: the store, retry policy, content
// rules and the message clock.
type core struct {
	store            Store
	maxContentLength int
	retries          uint64
	retryInterval    time.Duration
	clock            *clock
}

func newCore(store Store, opts []Option) *core {
	c := &core{
		store:            store,
		maxContentLength: DefaultMaxContentLength,
		retries:          DefaultStoreRetries,
		retryInterval:    DefaultRetryInterval,
		clock:            &clock{now: time.Now},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// retry runs op again while it fails with StoreUnavailable, up to the
// configured number of retries. Any other error ends the loop immediately.
func (c *core) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.retries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, apperr.ErrStoreUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

// inTx retries fn, each attempt in its own transaction.
func (c *core) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.retry(ctx, func() error {
		return c.store.RunInTx(ctx, fn)
	})
}

// content trims and validates a message body.
func (c *core) content(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperr.ErrEmptyContent
	}
	if utf8.RuneCountInString(s) > c.maxContentLength {
		return "", apperr.ErrContentTooLong
	}
	return s, nil
}

// clock hands out strictly increasing millisecond timestamps, the resolution
// MongoDB stores dates at.
type clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Millisecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Millisecond)
	}
	c.last = t
	return t
}
