package comm

import (
	"context"
	"sync"
)

// Handle tracks completion of a non-blocking send.
type Handle interface {
	Done() bool
	Wait(ctx context.Context) error
}

type completed struct{ err error }

// Completed returns a handle that is already done.
func Completed(err error) Handle {
	return completed{err: err}
}

func (c completed) Done() bool                 { return true }
func (c completed) Wait(context.Context) error { return c.err }

// PendingHandle is completed by a transport writer goroutine.
type PendingHandle struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewPendingHandle() *PendingHandle {
	return &PendingHandle{done: make(chan struct{})}
}

func (h *PendingHandle) Complete(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *PendingHandle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *PendingHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll waits for every handle and returns the first error.
func WaitAll(ctx context.Context, handles ...Handle) error {
	var first error
	for _, h := range handles {
		if err := h.Wait(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
