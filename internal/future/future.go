// Package future provides a single-assignment result slot that goroutines can
// block on until a producer resolves it with a value or an error.
package future

import (
	"context"
	"sync"
)

// Value is a write-once slot. The zero value is not usable; create one with New.
type Value[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// New returns an unresolved Value.
func New[T any]() *Value[T] {
	return &Value[T]{done: make(chan struct{})}
}

// Resolve stores v and wakes every waiter. It reports false if the slot was
// already resolved or failed, in which case v is discarded.
func (f *Value[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Fail stores err and wakes every waiter.
func (f *Value[T]) Fail(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Value[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		settled = true
	})
	return settled
}

// Wait blocks until the slot is settled or ctx is done.
func (f *Value[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the slot is settled.
func (f *Value[T]) Done() <-chan struct{} {
	return f.done
}

// Peek returns the settled value without blocking. ok is false while the slot
// is still pending.
func (f *Value[T]) Peek() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		return v, nil, false
	}
}
