// Package tcp carries communicator traffic over framed TCP (optionally TLS)
// connections. Every rank listens on its own address and dials each peer
// lazily; one writer goroutine per peer keeps sends in order.
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/protocol/frame"
)

// Listen opens the listener for cfg.Peers[cfg.Rank] under the configured
// transport policy.
func Listen(cfg Config) (net.Listener, error) {
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if cfg.Rank < 0 || cfg.Rank >= len(cfg.Peers) {
		return nil, fmt.Errorf("tcp: rank %d outside peer list of %d", cfg.Rank, len(cfg.Peers))
	}
	addr := cfg.Peers[cfg.Rank]
	if !cfg.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := cfg.serverTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

// Comm is one rank of a TCP group.
type Comm struct {
	cfg     Config
	mailbox *comm.Mailbox
	ln      net.Listener
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	peers  map[int]*peer
	conns  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

var _ comm.Communicator = (*Comm)(nil)

// Open listens and starts accepting peers.
func Open(cfg Config) (*Comm, error) {
	ln, err := Listen(cfg)
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

// New starts a rank on an existing listener. cfg.Peers[cfg.Rank] is only
// used by other ranks to reach this one.
func New(cfg Config, ln net.Listener) (*Comm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Comm{
		cfg:     cfg,
		mailbox: comm.NewMailbox(),
		ln:      ln,
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[int]*peer),
		conns:   make(map[net.Conn]struct{}),
	}
	c.wg.Add(1)
	go c.serve()
	logging.Infof("tcp.Comm.New rank=%d size=%d listen=%q", cfg.Rank, len(cfg.Peers), ln.Addr().String())
	return c, nil
}

func (c *Comm) Rank() int { return c.cfg.Rank }
func (c *Comm) Size() int { return len(c.cfg.Peers) }

// Addr is the bound listen address.
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
		if c.isClosed() {
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

// Close flushes queued sends, then tears down the listener and connections.
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
		p.closeConn()
	}
	c.cancel()
	_ = c.ln.Close()
	c.closeAllConns()
	c.wg.Wait()
	c.mailbox.Close()
	logging.Infof("tcp.Comm.Close rank=%d", c.cfg.Rank)
	return firstErr
}

func (c *Comm) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
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
	p := &peer{owner: c, rank: dst, addr: c.cfg.Peers[dst]}
	p.pipe = comm.NewPipe(p.write)
	c.peers[dst] = p
	return p, nil
}

func (c *Comm) serve() {
	defer c.wg.Done()
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Errf("tcp.Comm.serve rank=%d accept err=%v", c.cfg.Rank, err)
			return
		}
		if !c.trackConn(conn) {
			_ = conn.Close()
			return
		}
		c.wg.Add(1)
		go c.handleConn(conn)
	}
}

// handleConn pumps inbound frames into the mailbox.
func (c *Comm) handleConn(conn net.Conn) {
	defer c.wg.Done()
	defer conn.Close()
	defer c.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	for {
		f, err := frame.ReadFrame(conn, c.cfg.Limits)
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logging.Warnf("tcp.Comm.handleConn rank=%d remote=%q read err=%v", c.cfg.Rank, remote, err)
			}
			return
		}
		src := int(f.Header.Source)
		if err := comm.CheckRank(src, c.Size()); err != nil {
			logging.Errf("tcp.Comm.handleConn rank=%d remote=%q dropping frame: %v", c.cfg.Rank, remote, err)
			return
		}
		c.mailbox.Deliver(comm.Message{Source: src, Tag: comm.Tag(f.Header.Tag), Payload: f.Payload})
	}
}

func (c *Comm) trackConn(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conns[conn] = struct{}{}
	return true
}

func (c *Comm) untrackConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn)
}

func (c *Comm) closeAllConns() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for conn := range c.conns {
		_ = conn.Close()
		delete(c.conns, conn)
	}
}

// peer is the outbound side toward one rank.
type peer struct {
	owner *Comm
	rank  int
	addr  string
	pipe  *comm.Pipe

	mu   sync.Mutex
	conn net.Conn
	seq  uint64
}

func (p *peer) write(ctx context.Context, tag comm.Tag, payload []byte) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	p.seq++
	f := frame.New(p.owner.cfg.Rank, uint32(tag), p.seq, payload)
	if p.owner.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(p.owner.cfg.WriteTimeout))
	}
	if err := frame.WriteFrame(conn, f, p.owner.cfg.Limits); err != nil {
		logging.Warnf("tcp.peer.write rank=%d dst=%d tag=%#x err=%v", p.owner.cfg.Rank, p.rank, uint32(tag), err)
		p.closeConn()
		return err
	}
	return nil
}

func (p *peer) connect(ctx context.Context) (net.Conn, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; ; attempt++ {
		conn, err := p.dial(ctx)
		if err == nil {
			p.mu.Lock()
			p.conn = conn
			p.mu.Unlock()
			logging.Debugf("tcp.peer.connect rank=%d dst=%d addr=%q attempt=%d", p.owner.cfg.Rank, p.rank, p.addr, attempt)
			return conn, nil
		}
		lastErr = err
		if limit := p.owner.cfg.MaxConnectAttempts; limit > 0 && attempt >= limit {
			return nil, fmt.Errorf("tcp: dial rank %d at %q after %d attempts: %w", p.rank, p.addr, attempt, lastErr)
		}
		delay := p.owner.cfg.Backoff.Delay(attempt, rng)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tcp: dial rank %d: %w", p.rank, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (p *peer) dial(ctx context.Context) (net.Conn, error) {
	cfg := p.owner.cfg
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}
	tlsCfg, err := cfg.clientTLSConfig(p.addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (p *peer) closeConn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
