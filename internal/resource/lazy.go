package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("resource closed")

// Lazy is a process-wide handle created on first use and verified before it
// is handed out. One caller opens while the others wait on that attempt; the
// mutex is never held across open or check. A failed open is not remembered;
// the next Get tries again.
type Lazy[T any] struct {
	name  string
	open  func(context.Context) (T, error)
	check func(context.Context, T) error
	close func(T) error

	mu      sync.Mutex
	val     T
	ready   bool
	closed  bool
	opening *attempt
}

type attempt struct {
	done chan struct{}
	err  error
}

// New builds a lazy handle. check and closeFn may be nil.
func New[T any](name string, open func(context.Context) (T, error), check func(context.Context, T) error, closeFn func(T) error) *Lazy[T] {
	return &Lazy[T]{name: name, open: open, check: check, close: closeFn}
}

// Get returns the shared value, creating and verifying it on first use.
// Callers arriving during a cold start wait for it or for ctx, whichever
// comes first.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	var zero T

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return zero, fmt.Errorf("%s: %w", l.name, ErrClosed)
	}
	if l.ready {
		v := l.val
		l.mu.Unlock()
		return v, nil
	}
	if a := l.opening; a != nil {
		l.mu.Unlock()
		select {
		case <-a.done:
		case <-ctx.Done():
			return zero, fmt.Errorf("wait for %s: %w", l.name, ctx.Err())
		}
		if a.err != nil {
			return zero, a.err
		}
		return l.Get(ctx)
	}
	a := &attempt{done: make(chan struct{})}
	l.opening = a
	l.mu.Unlock()

	v, err := l.create(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.opening = nil
	defer close(a.done)
	if err != nil {
		a.err = err
		return zero, err
	}
	if l.closed {
		if l.close != nil {
			_ = l.close(v)
		}
		a.err = fmt.Errorf("%s: %w", l.name, ErrClosed)
		return zero, a.err
	}
	l.val, l.ready = v, true
	return v, nil
}

func (l *Lazy[T]) create(ctx context.Context) (T, error) {
	var zero T
	v, err := l.open(ctx)
	if err != nil {
		return zero, fmt.Errorf("open %s: %w", l.name, err)
	}
	if l.check != nil {
		if err := l.check(ctx, v); err != nil {
			if l.close != nil {
				_ = l.close(v)
			}
			return zero, fmt.Errorf("verify %s: %w", l.name, err)
		}
	}
	return v, nil
}

// Check verifies the handle, creating it if needed.
func (l *Lazy[T]) Check(ctx context.Context) error {
	v, err := l.Get(ctx)
	if err != nil {
		return err
	}
	if l.check == nil {
		return nil
	}
	if err := l.check(ctx, v); err != nil {
		return fmt.Errorf("check %s: %w", l.name, err)
	}
	return nil
}

// Name identifies the resource in logs and health output.
func (l *Lazy[T]) Name() string {
	return l.name
}

// Close releases the value if it was ever created. Later Gets fail.
func (l *Lazy[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if !l.ready {
		return nil
	}
	l.ready = false
	if l.close == nil {
		return nil
	}
	if err := l.close(l.val); err != nil {
		return fmt.Errorf("close %s: %w", l.name, err)
	}
	return nil
}
