package optiga

import (
	"context"
	"fmt"
	"sync"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
)

// Callback receives the final status of an asynchronous operation. A nil
// error means success.
type Callback func(err error)

// Completion turns a Callback into something a caller can wait on. A Wait
// that gives up abandons the outstanding operation, and the late callback of
// that operation is dropped instead of completing a later one.
type Completion struct {
	mu        sync.Mutex
	ch        chan struct{}
	err       error
	done      bool
	abandoned bool
	stale     int
}

// NewCompletion returns an armed completion.
func NewCompletion() *Completion {
	return &Completion{ch: make(chan struct{})}
}

// Callback returns the function to hand to Util or Crypt instances. Only the
// first call after a Reset is recorded.
func (c *Completion) Callback() Callback {
	return func(err error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.stale > 0 {
			c.stale--

			return
		}
		if c.done {
			return
		}
		c.err, c.done = err, true
		close(c.ch)
	}
}

// Wait blocks until the callback fires or ctx ends.
func (c *Completion) Wait(ctx context.Context) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()

	select {
	case <-ch:
		c.mu.Lock()
		defer c.mu.Unlock()

		return c.err
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.done {
			return c.err
		}
		if !c.abandoned {
			c.abandoned = true
			c.stale++
		}

		return fmt.Errorf("%w: %v", errorcodes.ErrCommsTimeout, ctx.Err())
	}
}

// Reset re-arms the completion for the next operation.
func (c *Completion) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ch = make(chan struct{})
	c.err, c.done, c.abandoned = nil, false, false
}
