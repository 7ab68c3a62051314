package comm

import "context"

// Observer receives per-message traffic events.
type Observer interface {
	Sent(rank, dst int, tag Tag, bytes int)
	Received(rank, src int, tag Tag, bytes int)
}

type instrumented struct {
	Communicator
	obs Observer
}

// Instrument wraps c so every send and receive is reported to obs.
func Instrument(c Communicator, obs Observer) Communicator {
	if obs == nil {
		return c
	}
	return &instrumented{Communicator: c, obs: obs}
}

func (i *instrumented) Send(dst int, tag Tag, payload []byte) error {
	if err := i.Communicator.Send(dst, tag, payload); err != nil {
		return err
	}
	i.obs.Sent(i.Rank(), dst, tag, len(payload))
	return nil
}

func (i *instrumented) Isend(dst int, tag Tag, payload []byte) (Handle, error) {
	h, err := i.Communicator.Isend(dst, tag, payload)
	if err != nil {
		return nil, err
	}
	i.obs.Sent(i.Rank(), dst, tag, len(payload))
	return h, nil
}

func (i *instrumented) Recv(ctx context.Context, src int, tag Tag) (Message, error) {
	msg, err := i.Communicator.Recv(ctx, src, tag)
	if err != nil {
		return msg, err
	}
	i.obs.Received(i.Rank(), msg.Source, tag, len(msg.Payload))
	return msg, nil
}
