package hard

import (
	"context"
	"time"

	"github.com/danmuck/syncgraph/internal/comm"
)

// RequestHandler services one inbound request.
type RequestHandler func(ctx context.Context, src int, payload []byte) error

// ServerPack owns the per-rank protocol state shared by the mutex and link
// servers: the epoch, the termination color and the count of messages sent
// minus received during the current epoch.
type ServerPack struct {
	comm    comm.Communicator
	handle  RequestHandler
	idle    time.Duration
	epoch   Epoch
	color   Color
	balance int64
}

func NewServerPack(c comm.Communicator, idle time.Duration, handle RequestHandler) *ServerPack {
	if idle <= 0 {
		idle = DefaultConfig().IdlePoll
	}
	return &ServerPack{comm: c, handle: handle, idle: idle, epoch: EpochEven, color: White}
}

func (p *ServerPack) Epoch() Epoch   { return p.epoch }
func (p *ServerPack) Color() Color   { return p.color }
func (p *ServerPack) Balance() int64 { return p.balance }

// SetEpoch starts a new round. It must only be called once termination of
// the current round is known.
func (p *ServerPack) SetEpoch(e Epoch) {
	p.epoch = e
	p.balance = 0
	p.color = White
}

func (p *ServerPack) send(dst int, k kind, payload []byte) error {
	if err := p.comm.Send(dst, tagFor(p.epoch, k), payload); err != nil {
		return err
	}
	p.balance++
	return nil
}

func (p *ServerPack) recv(ctx context.Context, src int, k kind) (comm.Message, error) {
	msg, err := p.comm.Recv(ctx, src, tagFor(p.epoch, k))
	if err != nil {
		return msg, err
	}
	p.balance--
	p.color = Black
	return msg, nil
}

// HandleIncomingRequests services every request of the current epoch that
// is already in the mailbox. It reports whether anything was handled.
func (p *ServerPack) HandleIncomingRequests(ctx context.Context) (bool, error) {
	progressed := false
	tag := tagFor(p.epoch, kindRequest)
	for {
		st, ok := p.comm.Probe(comm.AnySource, tag)
		if !ok {
			return progressed, nil
		}
		msg, err := p.recv(ctx, st.Source, kindRequest)
		if err != nil {
			return progressed, err
		}
		progressed = true
		if err := p.handle(ctx, msg.Source, msg.Payload); err != nil {
			return progressed, err
		}
	}
}

// WaitResponse blocks until a response from src arrives, servicing inbound
// requests meanwhile so peers waiting on this rank keep progressing.
func (p *ServerPack) WaitResponse(ctx context.Context, src int) (comm.Message, error) {
	tag := tagFor(p.epoch, kindResponse)
	for {
		arrivals := p.comm.Arrivals()
		if _, ok := p.comm.Probe(src, tag); ok {
			return p.recv(ctx, src, kindResponse)
		}
		progressed, err := p.HandleIncomingRequests(ctx)
		if err != nil {
			return comm.Message{}, err
		}
		if progressed {
			continue
		}
		if err := p.idleWait(ctx, arrivals); err != nil {
			return comm.Message{}, err
		}
	}
}

// WaitUntil services inbound requests until cond holds.
func (p *ServerPack) WaitUntil(ctx context.Context, cond func() bool) error {
	for {
		arrivals := p.comm.Arrivals()
		if cond() {
			return nil
		}
		progressed, err := p.HandleIncomingRequests(ctx)
		if err != nil {
			return err
		}
		if progressed {
			continue
		}
		if err := p.idleWait(ctx, arrivals); err != nil {
			return err
		}
	}
}

func (p *ServerPack) idleWait(ctx context.Context, arrivals <-chan struct{}) error {
	timer := time.NewTimer(p.idle)
	defer timer.Stop()
	select {
	case <-arrivals:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
