package hard

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/observability"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

// Terminate is collective. It keeps servicing requests until every rank is
// inside Terminate and no request or response is in flight, then advances
// the epoch everywhere.
//
// Rank 0 circulates a token from size-1 down to 0; each rank adds its
// balance and blackens the token if it received anything since it last
// forwarded. A white token that returns to a white rank 0 with a zero total
// proves quiescence, and rank 0 broadcasts END. Token and END messages are
// not counted.
func (p *ServerPack) Terminate(ctx context.Context) error {
	start := time.Now()
	rank, size := p.comm.Rank(), p.comm.Size()
	epoch := p.epoch
	rounds := 0

	if size == 1 {
		for {
			progressed, err := p.HandleIncomingRequests(ctx)
			if err != nil {
				return err
			}
			if !progressed {
				break
			}
		}
		p.finish(rank, rounds, start)
		return nil
	}

	tokenTag := tagFor(epoch, kindToken)
	endTag := tagFor(epoch, kindEnd)

	if rank == 0 {
		rounds++
		p.color = White
		if err := p.sendToken(size-1, wire.Token{Color: uint8(White)}); err != nil {
			return err
		}
	}

	for {
		arrivals := p.comm.Arrivals()
		if rank != 0 {
			if _, ok := p.comm.Probe(0, endTag); ok {
				if _, err := p.comm.Recv(ctx, 0, endTag); err != nil {
					return err
				}
				break
			}
		}

		progressed, err := p.HandleIncomingRequests(ctx)
		if err != nil {
			return err
		}
		if progressed {
			continue
		}

		if _, ok := p.comm.Probe(comm.AnySource, tokenTag); ok {
			msg, err := p.comm.Recv(ctx, comm.AnySource, tokenTag)
			if err != nil {
				return err
			}
			tok, err := wire.DecodeToken(msg.Payload)
			if err != nil {
				return fmt.Errorf("hard: token from %d: %w", msg.Source, err)
			}
			if rank == 0 {
				if Color(tok.Color) == White && p.color == White && tok.Count+p.balance == 0 {
					for r := 1; r < size; r++ {
						if err := p.comm.Send(r, endTag, []byte{}); err != nil {
							return err
						}
					}
					break
				}
				logging.Tracef("hard.ServerPack.Terminate rank=0 epoch=%s round=%d token=%s count=%d balance=%d", epoch, rounds, Color(tok.Color), tok.Count, p.balance)
				rounds++
				p.color = White
				if err := p.sendToken(size-1, wire.Token{Color: uint8(White)}); err != nil {
					return err
				}
				continue
			}
			tok.Count += p.balance
			if p.color == Black {
				tok.Color = uint8(Black)
			}
			if err := p.sendToken(rank-1, tok); err != nil {
				return err
			}
			p.color = White
			continue
		}

		if err := p.idleWait(ctx, arrivals); err != nil {
			return err
		}
	}

	p.finish(rank, rounds, start)
	return nil
}

func (p *ServerPack) sendToken(dst int, tok wire.Token) error {
	payload, err := wire.EncodeToken(tok)
	if err != nil {
		return err
	}
	return p.comm.Send(dst, tagFor(p.epoch, kindToken), payload)
}

func (p *ServerPack) finish(rank, rounds int, start time.Time) {
	prev := p.epoch
	p.SetEpoch(prev.Next())
	observability.RecordTermination(rank, rounds, time.Since(start))
	logging.Debugf("hard.ServerPack.Terminate rank=%d epoch=%s->%s rounds=%d", rank, prev, p.epoch, rounds)
}
