package broker

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

const urlEnv = "SYNCGRAPH_AMQP_URL"

func TestQueueNameAndValidate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing run id error")
	}
	cfg.RunID = "run-1"
	cfg.Size = 2
	cfg.Rank = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := cfg.QueueName(1); got != "syncgraph.run-1.rank.1" {
		t.Fatalf("queue=%q", got)
	}
	cfg.Rank = 2
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected rank error")
	}
}

func TestHeaderIntAcceptsDecodedWidths(t *testing.T) {
	testlog.Start(t)
	for _, v := range []any{int32(7), int64(7), int16(7), uint8(7), 7} {
		got, ok := headerInt(v)
		if !ok || got != 7 {
			t.Fatalf("headerInt(%T)=%d ok=%v", v, got, ok)
		}
	}
	if _, ok := headerInt("7"); ok {
		t.Fatalf("string header accepted")
	}
}

func TestBrokerRoundTrip(t *testing.T) {
	testlog.Start(t)
	url := strings.TrimSpace(os.Getenv(urlEnv))
	if url == "" {
		t.Skipf("%s not set", urlEnv)
	}
	run := uuid.NewString()
	comms := make([]*Comm, 2)
	for r := range comms {
		cfg := DefaultConfig()
		cfg.URL = url
		cfg.RunID = run
		cfg.Rank = r
		cfg.Size = 2
		c, err := Dial(cfg)
		if err != nil {
			t.Fatalf("dial rank %d: %v", r, err)
		}
		comms[r] = c
		defer c.Close()
	}
	for i := 0; i < 10; i++ {
		if err := comms[0].Send(1, 4, []byte{byte(i)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < 10; i++ {
		msg, err := comms[1].Recv(ctx, 0, 4)
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if int(msg.Payload[0]) != i {
			t.Fatalf("out of order: got=%d want=%d", msg.Payload[0], i)
		}
	}
}
