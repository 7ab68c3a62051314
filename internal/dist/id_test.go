package dist

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	in := ID{Rank: 7, Seq: 4242}
	if got := Unpack(in.Pack()); got != in {
		t.Fatalf("unpack mismatch: got=%v want=%v", got, in)
	}
	if in.String() != "[7:4242]" {
		t.Fatalf("unexpected string: %s", in.String())
	}
}

func TestGeneratorNeverReuses(t *testing.T) {
	g := NewGenerator(3)
	a := g.Next()
	b := g.Next()
	if a == b || a.Rank != 3 || b.Seq != 1 {
		t.Fatalf("unexpected ids: %v %v", a, b)
	}
	g.Reset(0)
	if g.Next().Seq != 2 {
		t.Fatalf("reset must not rewind the counter")
	}
	g.Reset(10)
	if g.Peek() != 10 {
		t.Fatalf("unexpected peek: %d", g.Peek())
	}
}

func TestSortIDsOrdersByRankThenSeq(t *testing.T) {
	ids := []ID{{Rank: 1, Seq: 2}, {Rank: 0, Seq: 9}, {Rank: 1, Seq: 0}}
	SortIDs(ids)
	want := []ID{{Rank: 0, Seq: 9}, {Rank: 1, Seq: 0}, {Rank: 1, Seq: 2}}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order mismatch at %d: %v", i, ids)
		}
	}
}

func TestPartitionMoves(t *testing.T) {
	p := Partition{{Rank: 0, Seq: 0}: 1, {Rank: 0, Seq: 1}: 0}
	current := map[ID]int{{Rank: 0, Seq: 0}: 0, {Rank: 0, Seq: 1}: 0}
	if p.Moves(current) != 1 {
		t.Fatalf("expected one move")
	}
	if r := p.Ranks(); len(r) != 2 || r[0] != 0 || r[1] != 1 {
		t.Fatalf("unexpected ranks: %v", r)
	}
}
