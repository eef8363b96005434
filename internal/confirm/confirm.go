// Package confirm implements the stage, confirm or discard protocol used before
// destructive actions.
package confirm

import (
	"context"
	"errors"
	"sync"
)

var ErrNothingStaged = errors.New("nothing staged for confirmation")

// Action holds at most one staged value. Staging never has side effects; only
// Confirm runs the mutation.
type Action[T any] struct {
	mu     sync.Mutex
	staged *T
}

// Stage replaces any previously staged value.
func (a *Action[T]) Stage(v T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staged = &v
}

func (a *Action[T]) Staged() (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.staged == nil {
		var zero T
		return zero, false
	}
	return *a.staged, true
}

// Discard drops the staged value.
func (a *Action[T]) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staged = nil
}

// Confirm runs fn with the staged value. The value is cleared only when fn
// succeeds, so a failed action can be confirmed again.
func (a *Action[T]) Confirm(ctx context.Context, fn func(ctx context.Context, v T) error) error {
	v, ok := a.Staged()
	if !ok {
		return ErrNothingStaged
	}
	if err := fn(ctx, v); err != nil {
		return err
	}
	a.mu.Lock()
	a.staged = nil
	a.mu.Unlock()
	return nil
}
