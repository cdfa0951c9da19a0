package location

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds how long a caller keeps retrying a NotFound key before
// treating the target as unreachable.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, Backoff: 5 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
}

// Resolver wraps a Directory with bounded retry. It never blocks longer than
// the sum of its backoff steps (or until ctx is done).
type Resolver struct {
	dir    Directory
	policy RetryPolicy

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewResolver(dir Directory, p RetryPolicy) *Resolver {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	return &Resolver{dir: dir, policy: p, sleep: sleepCtx}
}

func (r *Resolver) Directory() Directory { return r.dir }

// Lookup is a single directory read. Fan-out from a tick loop uses it so a
// vanished recipient costs one map lookup instead of a backoff sequence.
func (r *Resolver) Lookup(ctx context.Context, k Key) (Address, error) {
	return r.dir.Resolve(ctx, k)
}

func (r *Resolver) Resolve(ctx context.Context, k Key) (Address, error) {
	wait := r.policy.Backoff
	var last error
	for i := 0; i < r.policy.Attempts; i++ {
		a, err := r.dir.Resolve(ctx, k)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Address{}, err
		}
		last = err
		if i == r.policy.Attempts-1 {
			break
		}
		if err := r.sleep(ctx, wait); err != nil {
			return Address{}, &LocationError{Code: CodeUnreachable, Key: k, Reason: err.Error()}
		}
		wait *= 2
		if wait > r.policy.MaxBackoff {
			wait = r.policy.MaxBackoff
		}
	}
	return Address{}, &LocationError{
		Code:   CodeUnreachable,
		Key:    k,
		Reason: fmt.Sprintf("%d attempts: %v", r.policy.Attempts, last),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
