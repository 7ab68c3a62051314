package comm

import (
	"context"
	"sort"
	"sync"
)

type envelope struct {
	seq uint64
	msg Message
}

// Mailbox buffers inbound messages per (tag, source). A probe on AnySource
// returns the message that arrived first across all sources, so servers
// observe requests in arrival order.
type Mailbox struct {
	mu       sync.Mutex
	seq      uint64
	queues   map[Tag]map[int][]envelope
	arrivals chan struct{}
	closed   bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		queues:   make(map[Tag]map[int][]envelope),
		arrivals: make(chan struct{}),
	}
}

// Deliver appends a message. Deliveries after Close are dropped.
func (m *Mailbox) Deliver(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.seq++
	bySource, ok := m.queues[msg.Tag]
	if !ok {
		bySource = make(map[int][]envelope)
		m.queues[msg.Tag] = bySource
	}
	bySource[msg.Source] = append(bySource[msg.Source], envelope{seq: m.seq, msg: msg})
	close(m.arrivals)
	m.arrivals = make(chan struct{})
}

func (m *Mailbox) Arrivals() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arrivals
}

func (m *Mailbox) Probe(src int, tag Tag) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, env, ok := m.headLocked(src, tag)
	if !ok {
		return Status{}, false
	}
	return Status{Source: source, Tag: tag, Size: len(env.msg.Payload)}, true
}

// Take consumes the next message matching (src, tag) if one is available.
func (m *Mailbox) Take(src int, tag Tag) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, env, ok := m.headLocked(src, tag)
	if !ok {
		return Message{}, false
	}
	bySource := m.queues[tag]
	rest := bySource[source][1:]
	if len(rest) == 0 {
		delete(bySource, source)
		if len(bySource) == 0 {
			delete(m.queues, tag)
		}
	} else {
		bySource[source] = rest
	}
	return env.msg, true
}

func (m *Mailbox) Recv(ctx context.Context, src int, tag Tag) (Message, error) {
	for {
		arrivals := m.Arrivals()
		if msg, ok := m.Take(src, tag); ok {
			return msg, nil
		}
		if m.isClosed() {
			return Message{}, ErrClosed
		}
		select {
		case <-arrivals:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Pending counts buffered messages on every tag.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, bySource := range m.queues {
		for _, q := range bySource {
			n += len(q)
		}
	}
	return n
}

// Tags lists the tags with buffered messages.
func (m *Mailbox) Tags() []Tag {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Tag, 0, len(m.queues))
	for tag := range m.queues {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close wakes every waiter; buffered messages stay readable.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.arrivals)
	m.arrivals = make(chan struct{})
	close(m.arrivals)
}

func (m *Mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mailbox) headLocked(src int, tag Tag) (int, envelope, bool) {
	bySource, ok := m.queues[tag]
	if !ok {
		return 0, envelope{}, false
	}
	if src != AnySource {
		q := bySource[src]
		if len(q) == 0 {
			return 0, envelope{}, false
		}
		return src, q[0], true
	}
	best := -1
	var head envelope
	for source, q := range bySource {
		if len(q) == 0 {
			continue
		}
		if best < 0 || q[0].seq < head.seq {
			best = source
			head = q[0]
		}
	}
	if best < 0 {
		return 0, envelope{}, false
	}
	return best, head, true
}
