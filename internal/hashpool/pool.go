// Package hashpool bounds the number of password hash operations that run at
// once. Hashing is deliberately slow and CPU bound; without a bound a burst
// of logins starves every other goroutine in the process.
package hashpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool runs functions with at most Size concurrent executions.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New returns a pool with the given number of workers. size <= 0 selects
// GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}

// Do waits for a free worker and runs fn on the calling goroutine. It returns
// ctx.Err() without running fn when the context ends first.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}

// Verify is a helper around Do for boolean verifications. A cancelled
// context yields false.
func (p *Pool) Verify(ctx context.Context, fn func() bool) (bool, error) {
	var ok bool
	if err := p.Do(ctx, func() { ok = fn() }); err != nil {
		return false, err
	}
	return ok, nil
}

// Hash is a helper around Do for digest producing calls.
func (p *Pool) Hash(ctx context.Context, fn func() (string, error)) (string, error) {
	var (
		digest string
		err    error
	)
	if perr := p.Do(ctx, func() { digest, err = fn() }); perr != nil {
		return "", perr
	}
	return digest, err
}
