// Package shortid allocates the six digit public identifiers used by ads,
// teams and ad conversations.
package shortid

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
)

// Namespace is an independent id space. The same value may be used once in
// each namespace.
type Namespace string

const (
	Ads           Namespace = "ads"
	Teams         Namespace = "teams"
	Conversations Namespace = "conversations"
)

const (
	Min = 100000
	Max = 999999

	// DefaultMaxAttempts caps the redraw loop. With a sparsely occupied
	// namespace the expected number of draws is about one.
	DefaultMaxAttempts = 1000
)

// ErrCollision is returned by a create callback (and by stores) when the
// candidate id was taken by a concurrent writer between check and commit.
var ErrCollision = errors.New("short id already in use")

// Checker reports whether a value is already assigned in a namespace.
type Checker interface {
	ShortIDExists(ctx context.Context, ns Namespace, value int) (bool, error)
}

// Allocator draws random ids and checks them against the store.
type Allocator struct {
	checker     Checker
	maxAttempts int
	intn        func(n int) int
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithRand replaces the random source; intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(a *Allocator) { a.intn = intn }
}

// NewAllocator returns an Allocator backed by checker.
func NewAllocator(checker Checker, opts ...Option) *Allocator {
	a := &Allocator{
		checker:     checker,
		maxAttempts: DefaultMaxAttempts,
		intn:        rand.IntN,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Allocator) candidate() int {
	return Min + a.intn(Max-Min+1)
}

// Allocate returns a value that is free in ns at the time of the check. The
// result is only a candidate: use Assign to create the owning entity so that
// a lost race is retried.
func (a *Allocator) Allocate(ctx context.Context, ns Namespace) (int, error) {
	for i := 0; i < a.maxAttempts; i++ {
		v := a.candidate()
		taken, err := a.checker.ShortIDExists(ctx, ns, v)
		if err != nil {
			return 0, err
		}
		if !taken {
			return v, nil
		}
	}
	return 0, exhausted(ns, a.maxAttempts)
}

// Assign allocates a candidate and hands it to create, which must persist the
// owning entity under a store-enforced uniqueness constraint. If create
// reports ErrCollision a fresh candidate is drawn. All draws, whether they
// fail the pre-check or the commit, count against the same attempt budget.
func (a *Allocator) Assign(ctx context.Context, ns Namespace, create func(ctx context.Context, id int) error) (int, error) {
	for i := 0; i < a.maxAttempts; i++ {
		v := a.candidate()
		taken, err := a.checker.ShortIDExists(ctx, ns, v)
		if err != nil {
			return 0, err
		}
		if taken {
			continue
		}
		err = create(ctx, v)
		if errors.Is(err, ErrCollision) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return v, nil
	}
	return 0, exhausted(ns, a.maxAttempts)
}

func exhausted(ns Namespace, attempts int) error {
	return apperr.New(apperr.CodeNamespaceExhausted,
		fmt.Sprintf("no free id in namespace %q after %d attempts", ns, attempts))
}
