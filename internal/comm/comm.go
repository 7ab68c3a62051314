// Package comm is the rank-addressed asynchronous messaging layer. Transports
// deliver into a Mailbox; collectives are built from point-to-point sends on
// reserved tags.
package comm

import (
	"context"
	"errors"
	"fmt"
)

// Tag identifies a logical channel between ranks. Messages from one source
// on one tag are delivered in send order.
type Tag uint32

// AnySource matches messages from every rank in Probe and Recv.
const AnySource = -1

var (
	ErrClosed      = errors.New("comm: communicator closed")
	ErrInvalidRank = errors.New("comm: invalid rank")
	// ErrBroken wraps the write error that stopped the outbound path to a
	// peer. Nothing is sent to that peer afterwards.
	ErrBroken = errors.New("comm: link to peer broken")
)

// Status describes a message available in the mailbox.
type Status struct {
	Source int
	Tag    Tag
	Size   int
}

// Message is one received payload.
type Message struct {
	Source  int
	Tag     Tag
	Payload []byte
}

// Communicator is the per-rank messaging contract.
type Communicator interface {
	Rank() int
	Size() int

	// Send hands the payload to the transport. Delivery is asynchronous; once
	// an earlier message to dst failed, Send returns an error wrapping ErrBroken.
	Send(dst int, tag Tag, payload []byte) error
	// Isend is Send with a completion handle.
	Isend(dst int, tag Tag, payload []byte) (Handle, error)

	// Probe reports the next message matching (src, tag) without consuming it.
	Probe(src int, tag Tag) (Status, bool)
	// Recv blocks until a message matching (src, tag) is available.
	Recv(ctx context.Context, src int, tag Tag) (Message, error)
	// Arrivals returns a channel closed on the next delivery into the mailbox.
	Arrivals() <-chan struct{}

	Close() error
}

// CheckRank validates a destination rank for a group of the given size.
func CheckRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return fmt.Errorf("%w: %d (size=%d)", ErrInvalidRank, rank, size)
	}
	return nil
}

func clonePayload(payload []byte) []byte {
	if payload == nil {
		return nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}
