package comm

import (
	"context"
	"fmt"
	"sync"
)

// WriteFunc pushes one payload to a peer.
type WriteFunc func(ctx context.Context, tag Tag, payload []byte) error

type outbound struct {
	tag     Tag
	payload []byte
	handle  *PendingHandle
}

// Pipe serializes sends to one peer through a single writer goroutine so
// payloads reach the peer in push order. The first write error is sticky:
// it fails every payload queued behind it and every later Push, so no
// payload is delivered after one that was lost.
type Pipe struct {
	write  WriteFunc
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []outbound
	wake   chan struct{}
	closed bool
	err    error
	done   chan struct{}
}

func NewPipe(write WriteFunc) *Pipe {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipe{
		write:  write,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Push queues a payload. The payload is copied.
func (p *Pipe) Push(tag Tag, payload []byte) (*PendingHandle, error) {
	h := NewPendingHandle()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return nil, err
	}
	p.queue = append(p.queue, outbound{tag: tag, payload: clonePayload(payload), handle: h})
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return h, nil
}

// Err is the write error that broke the pipe, or nil.
func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Pending reports how many payloads are queued and not yet written.
func (p *Pipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close flushes queued payloads and stops the writer. Payloads still queued
// when ctx expires are failed with ErrClosed.
func (p *Pipe) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

func (p *Pipe) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			<-p.wake
			continue
		}
		next := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if p.ctx.Err() != nil {
			next.handle.Complete(ErrClosed)
			continue
		}
		err := p.write(p.ctx, next.tag, next.payload)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrBroken, err)
			p.fail(err)
		}
		next.handle.Complete(err)
	}
}

// fail records err and fails everything still queued with it.
func (p *Pipe) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()
	for _, o := range queued {
		o.handle.Complete(err)
	}
}
