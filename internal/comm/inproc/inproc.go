// Package inproc runs a group of ranks inside one process. Every rank owns a
// mailbox and sends are delivered synchronously into the destination's
// mailbox.
package inproc

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/syncgraph/internal/comm"
)

// World is a fixed-size group of in-process ranks.
type World struct {
	mailboxes []*comm.Mailbox

	mu     sync.Mutex
	closed []bool
}

func NewWorld(size int) (*World, error) {
	if size <= 0 {
		return nil, fmt.Errorf("inproc: invalid world size %d", size)
	}
	w := &World{
		mailboxes: make([]*comm.Mailbox, size),
		closed:    make([]bool, size),
	}
	for i := range w.mailboxes {
		w.mailboxes[i] = comm.NewMailbox()
	}
	return w, nil
}

func (w *World) Size() int {
	return len(w.mailboxes)
}

// Comm returns the communicator for one rank.
func (w *World) Comm(rank int) (*Comm, error) {
	if err := comm.CheckRank(rank, w.Size()); err != nil {
		return nil, err
	}
	return &Comm{world: w, rank: rank}, nil
}

// Comms returns one communicator per rank, indexed by rank.
func (w *World) Comms() []*Comm {
	out := make([]*Comm, w.Size())
	for r := range out {
		out[r] = &Comm{world: w, rank: r}
	}
	return out
}

func (w *World) isClosed(rank int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed[rank]
}

// Comm is one rank's view of a World.
type Comm struct {
	world *World
	rank  int
}

var _ comm.Communicator = (*Comm)(nil)

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.world.Size() }

func (c *Comm) Send(dst int, tag comm.Tag, payload []byte) error {
	if err := comm.CheckRank(dst, c.Size()); err != nil {
		return err
	}
	if c.world.isClosed(c.rank) {
		return comm.ErrClosed
	}
	var body []byte
	if payload != nil {
		body = make([]byte, len(payload))
		copy(body, payload)
	}
	c.world.mailboxes[dst].Deliver(comm.Message{Source: c.rank, Tag: tag, Payload: body})
	return nil
}

func (c *Comm) Isend(dst int, tag comm.Tag, payload []byte) (comm.Handle, error) {
	if err := c.Send(dst, tag, payload); err != nil {
		return nil, err
	}
	return comm.Completed(nil), nil
}

func (c *Comm) Probe(src int, tag comm.Tag) (comm.Status, bool) {
	return c.world.mailboxes[c.rank].Probe(src, tag)
}

func (c *Comm) Recv(ctx context.Context, src int, tag comm.Tag) (comm.Message, error) {
	return c.world.mailboxes[c.rank].Recv(ctx, src, tag)
}

func (c *Comm) Arrivals() <-chan struct{} {
	return c.world.mailboxes[c.rank].Arrivals()
}

// Pending reports messages buffered for this rank.
func (c *Comm) Pending() int {
	return c.world.mailboxes[c.rank].Pending()
}

func (c *Comm) Close() error {
	c.world.mu.Lock()
	c.world.closed[c.rank] = true
	c.world.mu.Unlock()
	c.world.mailboxes[c.rank].Close()
	return nil
}
