package inproc

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

func TestSendCopiesPayloadAndDelivers(t *testing.T) {
	testlog.Start(t)
	w, err := NewWorld(2)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	a, _ := w.Comm(0)
	b, _ := w.Comm(1)
	payload := []byte("abc")
	if err := a.Send(1, 3, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	payload[0] = 'z'
	st, ok := b.Probe(comm.AnySource, 3)
	if !ok || st.Source != 0 || st.Size != 3 {
		t.Fatalf("probe=%+v ok=%v", st, ok)
	}
	msg, err := b.Recv(context.Background(), 0, 3)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(msg.Payload) != "abc" {
		t.Fatalf("payload aliased: %q", msg.Payload)
	}
}

func TestSelfSendAndInvalidRank(t *testing.T) {
	testlog.Start(t)
	w, _ := NewWorld(1)
	c, _ := w.Comm(0)
	h, err := c.Isend(0, 1, []byte("me"))
	if err != nil || !h.Done() {
		t.Fatalf("isend: %v", err)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending=%d", c.Pending())
	}
	if err := c.Send(1, 1, nil); !errors.Is(err, comm.ErrInvalidRank) {
		t.Fatalf("expected ErrInvalidRank, got %v", err)
	}
	if _, err := NewWorld(0); err == nil {
		t.Fatalf("expected invalid size error")
	}
}

func TestClosedRankCannotSend(t *testing.T) {
	testlog.Start(t)
	w, _ := NewWorld(2)
	a, _ := w.Comm(0)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Send(1, 1, nil); !errors.Is(err, comm.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
