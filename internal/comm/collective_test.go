package comm_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/comm/inproc"
	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

func runRanks(t *testing.T, size int, fn func(ctx context.Context, c comm.Communicator) error) {
	t.Helper()
	world, err := inproc.NewWorld(size)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs := make([]error, size)
	var wg sync.WaitGroup
	for _, c := range world.Comms() {
		wg.Add(1)
		go func(c *inproc.Comm) {
			defer wg.Done()
			errs[c.Rank()] = fn(ctx, c)
		}(c)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
}

func TestAllToAllDeliversPerDestinationPayloads(t *testing.T) {
	testlog.Start(t)
	const size = 4
	runRanks(t, size, func(ctx context.Context, c comm.Communicator) error {
		out := make(map[int][]byte)
		for r := 0; r < size; r++ {
			if r == (c.Rank()+1)%size {
				continue
			}
			out[r] = []byte(fmt.Sprintf("%d->%d", c.Rank(), r))
		}
		for round := 0; round < 3; round++ {
			in, err := comm.AllToAll(ctx, c, 42, out)
			if err != nil {
				return err
			}
			for src := 0; src < size; src++ {
				want := fmt.Sprintf("%d->%d", src, c.Rank())
				if (src+1)%size == c.Rank() {
					want = ""
				}
				if string(in[src]) != want {
					return fmt.Errorf("round %d from %d got=%q want=%q", round, src, in[src], want)
				}
			}
		}
		return nil
	})
}

func TestBroadcastGatherAndBarrier(t *testing.T) {
	testlog.Start(t)
	const size = 3
	runRanks(t, size, func(ctx context.Context, c comm.Communicator) error {
		got, err := comm.Broadcast(ctx, c, 1, []byte("hello"))
		if err != nil {
			return err
		}
		if string(got) != "hello" {
			return fmt.Errorf("broadcast got=%q", got)
		}
		all, err := comm.Gather(ctx, c, 0, []byte{byte(c.Rank())})
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			for r, p := range all {
				if len(p) != 1 || int(p[0]) != r {
					return fmt.Errorf("gather slot %d=%v", r, p)
				}
			}
		} else if all != nil {
			return fmt.Errorf("non-root gather result=%v", all)
		}
		every, err := comm.AllGather(ctx, c, []byte{byte(c.Rank() * 10)})
		if err != nil {
			return err
		}
		for r, p := range every {
			if len(p) != 1 || int(p[0]) != r*10 {
				return fmt.Errorf("all-gather slot %d=%v", r, p)
			}
		}
		return comm.Barrier(ctx, c)
	})
}

func TestBroadcastRejectsInvalidRoot(t *testing.T) {
	testlog.Start(t)
	world, _ := inproc.NewWorld(2)
	c, _ := world.Comm(0)
	if _, err := comm.Broadcast(context.Background(), c, 5, nil); err == nil {
		t.Fatalf("expected invalid rank error")
	}
}

type countingObserver struct {
	mu   sync.Mutex
	sent int
	recv int
}

func (o *countingObserver) Sent(int, int, comm.Tag, int) {
	o.mu.Lock()
	o.sent++
	o.mu.Unlock()
}

func (o *countingObserver) Received(int, int, comm.Tag, int) {
	o.mu.Lock()
	o.recv++
	o.mu.Unlock()
}

func TestInstrumentReportsTraffic(t *testing.T) {
	testlog.Start(t)
	world, _ := inproc.NewWorld(2)
	obs := &countingObserver{}
	a, _ := world.Comm(0)
	b, _ := world.Comm(1)
	ia := comm.Instrument(a, obs)
	ib := comm.Instrument(b, obs)
	if err := ia.Send(1, 5, []byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := ib.Recv(context.Background(), 0, 5); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if obs.sent != 1 || obs.recv != 1 {
		t.Fatalf("sent=%d recv=%d", obs.sent, obs.recv)
	}
}
