package comm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

func TestMailboxPerSourceFIFO(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox()
	for i := byte(0); i < 5; i++ {
		m.Deliver(Message{Source: 1, Tag: 7, Payload: []byte{i}})
	}
	for i := byte(0); i < 5; i++ {
		msg, ok := m.Take(1, 7)
		if !ok {
			t.Fatalf("missing message %d", i)
		}
		if msg.Payload[0] != i {
			t.Fatalf("out of order: got=%d want=%d", msg.Payload[0], i)
		}
	}
	if _, ok := m.Take(1, 7); ok {
		t.Fatalf("expected empty mailbox")
	}
	if m.Pending() != 0 {
		t.Fatalf("pending=%d", m.Pending())
	}
}

func TestMailboxAnySourceReturnsEarliestArrival(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox()
	m.Deliver(Message{Source: 2, Tag: 1, Payload: []byte("a")})
	m.Deliver(Message{Source: 0, Tag: 1, Payload: []byte("b")})
	m.Deliver(Message{Source: 2, Tag: 1, Payload: []byte("c")})
	m.Deliver(Message{Source: 1, Tag: 9, Payload: []byte("other-tag")})

	want := []struct {
		src  int
		body string
	}{{2, "a"}, {0, "b"}, {2, "c"}}
	for _, w := range want {
		st, ok := m.Probe(AnySource, 1)
		if !ok || st.Source != w.src {
			t.Fatalf("probe got=%+v ok=%v want source=%d", st, ok, w.src)
		}
		msg, ok := m.Take(AnySource, 1)
		if !ok || string(msg.Payload) != w.body {
			t.Fatalf("take got=%q want=%q", msg.Payload, w.body)
		}
	}
	if tags := m.Tags(); len(tags) != 1 || tags[0] != 9 {
		t.Fatalf("unexpected tags=%v", tags)
	}
}

func TestMailboxRecvWaitsForDelivery(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox()
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Deliver(Message{Source: 3, Tag: 2, Payload: []byte("late")})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := m.Recv(ctx, 3, 2)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(msg.Payload) != "late" {
		t.Fatalf("payload=%q", msg.Payload)
	}
}

func TestMailboxRecvHonorsContextAndClose(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Recv(ctx, 0, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	m.Deliver(Message{Source: 0, Tag: 1, Payload: []byte("kept")})
	m.Close()
	m.Deliver(Message{Source: 0, Tag: 1, Payload: []byte("dropped")})
	if msg, err := m.Recv(context.Background(), 0, 1); err != nil || string(msg.Payload) != "kept" {
		t.Fatalf("buffered message lost: %q %v", msg.Payload, err)
	}
	if _, err := m.Recv(context.Background(), 0, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestArrivalsClosedOnDelivery(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox()
	ch := m.Arrivals()
	select {
	case <-ch:
		t.Fatalf("arrivals closed before delivery")
	default:
	}
	m.Deliver(Message{Source: 0, Tag: 1})
	select {
	case <-ch:
	default:
		t.Fatalf("arrivals not signalled")
	}
}
