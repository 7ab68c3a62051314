package comm

import (
	"context"
	"fmt"
)

// Reserved tags used by the collectives in this package.
const (
	TagBroadcast Tag = 0xFFFF0001
	TagGather    Tag = 0xFFFF0002
	TagAllGather Tag = 0xFFFF0003
	TagBarrier   Tag = 0xFFFF0004
)

// Broadcast sends payload from root to every rank and returns it on all of
// them.
func Broadcast(ctx context.Context, c Communicator, root int, payload []byte) ([]byte, error) {
	if err := CheckRank(root, c.Size()); err != nil {
		return nil, err
	}
	if c.Rank() != root {
		msg, err := c.Recv(ctx, root, TagBroadcast)
		if err != nil {
			return nil, fmt.Errorf("comm: broadcast recv: %w", err)
		}
		return msg.Payload, nil
	}
	for r := 0; r < c.Size(); r++ {
		if r == root {
			continue
		}
		if err := c.Send(r, TagBroadcast, payload); err != nil {
			return nil, fmt.Errorf("comm: broadcast to %d: %w", r, err)
		}
	}
	return payload, nil
}

// Gather collects one payload per rank on root, indexed by rank. Other ranks
// get a nil slice.
func Gather(ctx context.Context, c Communicator, root int, payload []byte) ([][]byte, error) {
	if err := CheckRank(root, c.Size()); err != nil {
		return nil, err
	}
	if c.Rank() != root {
		if err := c.Send(root, TagGather, payload); err != nil {
			return nil, fmt.Errorf("comm: gather send: %w", err)
		}
		return nil, nil
	}
	out := make([][]byte, c.Size())
	out[root] = payload
	for r := 0; r < c.Size(); r++ {
		if r == root {
			continue
		}
		msg, err := c.Recv(ctx, r, TagGather)
		if err != nil {
			return nil, fmt.Errorf("comm: gather from %d: %w", r, err)
		}
		out[r] = msg.Payload
	}
	return out, nil
}

// AllToAll sends out[r] to every rank r (an empty payload when absent) and
// returns what each rank sent here. Each rank must call it with the same tag.
func AllToAll(ctx context.Context, c Communicator, tag Tag, out map[int][]byte) (map[int][]byte, error) {
	rank, size := c.Rank(), c.Size()
	for dst := range out {
		if err := CheckRank(dst, size); err != nil {
			return nil, err
		}
	}
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		if err := c.Send(r, tag, out[r]); err != nil {
			return nil, fmt.Errorf("comm: all-to-all send to %d: %w", r, err)
		}
	}
	in := make(map[int][]byte, size)
	in[rank] = out[rank]
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		msg, err := c.Recv(ctx, r, tag)
		if err != nil {
			return nil, fmt.Errorf("comm: all-to-all recv from %d: %w", r, err)
		}
		in[r] = msg.Payload
	}
	return in, nil
}

// AllGather returns every rank's payload on every rank, indexed by rank.
func AllGather(ctx context.Context, c Communicator, payload []byte) ([][]byte, error) {
	out := make(map[int][]byte, c.Size())
	for r := 0; r < c.Size(); r++ {
		out[r] = payload
	}
	in, err := AllToAll(ctx, c, TagAllGather, out)
	if err != nil {
		return nil, err
	}
	all := make([][]byte, c.Size())
	for r, p := range in {
		all[r] = p
	}
	return all, nil
}

// Barrier returns once every rank has entered it.
func Barrier(ctx context.Context, c Communicator) error {
	_, err := AllToAll(ctx, c, TagBarrier, nil)
	return err
}
