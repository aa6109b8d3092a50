package collab

import (
	"context"
	"errors"
	"fmt"
)

const DefaultSemaphoreSize = 100

var (
	ErrAcquireTimeout = errors.New("acquire reached time limit")
	ErrNotAcquired    = errors.New("release failed, semaphore is not acquired")
)

type SemaphoreControl struct {
	ch chan struct{}
}

// NewSemaphoreControl allows size concurrent holders, DefaultSemaphoreSize if size <= 0.
func NewSemaphoreControl(size int) *SemaphoreControl {
	if size <= 0 {
		size = DefaultSemaphoreSize
	}
	return &SemaphoreControl{ch: make(chan struct{}, size)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrAcquireTimeout, ctx.Err())
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrNotAcquired
	}
}
