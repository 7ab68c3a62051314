// Package rpc carries communicator traffic over gRPC. Each rank serves a
// single bidirectional "Deliver" stream and holds one outbound stream per
// peer; frames travel through a custom codec instead of protobuf.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/protocol/frame"
)

const deliverMethod = "/syncgraph.Mailbox/Deliver"

type mailboxService interface {
	deliver(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "syncgraph.Mailbox",
	HandlerType: (*mailboxService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Deliver",
			Handler:       deliverHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "syncgraph/mailbox",
}

func deliverHandler(srv any, stream grpc.ServerStream) error {
	return srv.(mailboxService).deliver(stream)
}

// Config places one rank in a gRPC group. Peers is indexed by rank.
type Config struct {
	Rank         int
	Peers        []string
	Creds        credentials.TransportCredentials
	CloseTimeout time.Duration
	Limits       frame.Limits
}

func DefaultConfig() Config {
	return Config{
		CloseTimeout: 5 * time.Second,
		Limits:       frame.DefaultLimits(),
	}
}

func (c Config) Validate() error {
	if len(c.Peers) == 0 {
		return errors.New("rpc: peer list is empty")
	}
	if c.Rank < 0 || c.Rank >= len(c.Peers) {
		return fmt.Errorf("rpc: rank %d outside peer list of %d", c.Rank, len(c.Peers))
	}
	for i, addr := range c.Peers {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("rpc: empty address for rank %d", i)
		}
	}
	return nil
}

func (c Config) creds() credentials.TransportCredentials {
	if c.Creds != nil {
		return c.Creds
	}
	return insecure.NewCredentials()
}

// Comm is one rank of a gRPC group.
type Comm struct {
	cfg     Config
	codec   frameCodec
	mailbox *comm.Mailbox
	server  *grpc.Server
	ln      net.Listener
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	peers  map[int]*peer
	closed bool

	serveErr chan error
}

var _ comm.Communicator = (*Comm)(nil)

// New serves the Deliver stream on ln.
func New(cfg Config, ln net.Listener) (*Comm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	codec := frameCodec{limits: cfg.Limits}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Comm{
		cfg:      cfg,
		codec:    codec,
		mailbox:  comm.NewMailbox(),
		ln:       ln,
		ctx:      ctx,
		cancel:   cancel,
		peers:    make(map[int]*peer),
		serveErr: make(chan error, 1),
	}
	c.server = grpc.NewServer(grpc.ForceServerCodec(codec), grpc.Creds(cfg.creds()))
	c.server.RegisterService(&serviceDesc, c)
	go func() {
		c.serveErr <- c.server.Serve(ln)
	}()
	logging.Infof("rpc.Comm.New rank=%d size=%d listen=%q", cfg.Rank, len(cfg.Peers), ln.Addr().String())
	return c, nil
}

// Open listens on cfg.Peers[cfg.Rank] and serves.
func Open(cfg Config) (*Comm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Peers[cfg.Rank])
	if err != nil {
		return nil, err
	}
	c, err := New(cfg, ln)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return c, nil
}

func (c *Comm) deliver(stream grpc.ServerStream) error {
	for {
		var f frame.Frame
		if err := stream.RecvMsg(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		src := int(f.Header.Source)
		if err := comm.CheckRank(src, c.Size()); err != nil {
			logging.Errf("rpc.Comm.deliver rank=%d dropping stream: %v", c.cfg.Rank, err)
			return err
		}
		c.mailbox.Deliver(comm.Message{Source: src, Tag: comm.Tag(f.Header.Tag), Payload: f.Payload})
	}
}

func (c *Comm) Rank() int      { return c.cfg.Rank }
func (c *Comm) Size() int      { return len(c.cfg.Peers) }
func (c *Comm) Addr() net.Addr { return c.ln.Addr() }

func (c *Comm) Send(dst int, tag comm.Tag, payload []byte) error {
	_, err := c.Isend(dst, tag, payload)
	return err
}

func (c *Comm) Isend(dst int, tag comm.Tag, payload []byte) (comm.Handle, error) {
	if err := comm.CheckRank(dst, c.Size()); err != nil {
		return nil, err
	}
	if dst == c.Rank() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, comm.ErrClosed
		}
		body := make([]byte, len(payload))
		copy(body, payload)
		c.mailbox.Deliver(comm.Message{Source: dst, Tag: tag, Payload: body})
		return comm.Completed(nil), nil
	}
	p, err := c.peer(dst)
	if err != nil {
		return nil, err
	}
	return p.pipe.Push(tag, payload)
}

func (c *Comm) Probe(src int, tag comm.Tag) (comm.Status, bool) {
	return c.mailbox.Probe(src, tag)
}

func (c *Comm) Recv(ctx context.Context, src int, tag comm.Tag) (comm.Message, error) {
	return c.mailbox.Recv(ctx, src, tag)
}

func (c *Comm) Arrivals() <-chan struct{} {
	return c.mailbox.Arrivals()
}

func (c *Comm) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	peers := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)
	defer cancel()
	var firstErr error
	for _, p := range peers {
		if err := p.pipe.Close(flushCtx); err != nil && firstErr == nil {
			firstErr = err
		}
		p.close()
	}
	c.cancel()
	c.server.Stop()
	if err := <-c.serveErr; err != nil && !errors.Is(err, grpc.ErrServerStopped) && firstErr == nil {
		firstErr = err
	}
	c.mailbox.Close()
	logging.Infof("rpc.Comm.Close rank=%d", c.cfg.Rank)
	return firstErr
}

func (c *Comm) peer(dst int) (*peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, comm.ErrClosed
	}
	if p, ok := c.peers[dst]; ok {
		return p, nil
	}
	conn, err := grpc.NewClient(c.cfg.Peers[dst],
		grpc.WithTransportCredentials(c.cfg.creds()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(c.codec), grpc.WaitForReady(true)),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: client for rank %d: %w", dst, err)
	}
	p := &peer{owner: c, rank: dst, conn: conn}
	p.pipe = comm.NewPipe(p.write)
	c.peers[dst] = p
	return p, nil
}

type peer struct {
	owner *Comm
	rank  int
	conn  *grpc.ClientConn
	pipe  *comm.Pipe

	stream grpc.ClientStream
	cancel context.CancelFunc
	seq    uint64
}

// write runs on the pipe goroutine only.
func (p *peer) write(ctx context.Context, tag comm.Tag, payload []byte) error {
	if p.stream == nil {
		streamCtx, cancel := context.WithCancel(p.owner.ctx)
		stream, err := p.conn.NewStream(streamCtx, &serviceDesc.Streams[0], deliverMethod)
		if err != nil {
			cancel()
			return fmt.Errorf("rpc: open stream to rank %d: %w", p.rank, err)
		}
		p.stream = stream
		p.cancel = cancel
	}
	p.seq++
	f := frame.New(p.owner.cfg.Rank, uint32(tag), p.seq, payload)
	if err := p.stream.SendMsg(&f); err != nil {
		logging.Warnf("rpc.peer.write rank=%d dst=%d tag=%#x err=%v", p.owner.cfg.Rank, p.rank, uint32(tag), err)
		p.resetStream()
		return err
	}
	return nil
}

func (p *peer) resetStream() {
	if p.cancel != nil {
		p.cancel()
	}
	p.stream = nil
	p.cancel = nil
}

func (p *peer) close() {
	if p.stream != nil {
		_ = p.stream.CloseSend()
		var ack frame.Frame
		_ = p.stream.RecvMsg(&ack)
	}
	p.resetStream()
	_ = p.conn.Close()
}
