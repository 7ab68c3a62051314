// Package dist holds the identifiers and placement vocabulary shared by every
// rank: distributed ids, node state and partitions.
package dist

import (
	"fmt"
	"sort"
)

// ID identifies a node or an edge across the whole process group. Rank is the
// origin rank that created the element, Seq a per-rank counter.
type ID struct {
	Rank int32  `json:"rank"`
	Seq  uint32 `json:"seq"`
}

func (id ID) String() string {
	return fmt.Sprintf("[%d:%d]", id.Rank, id.Seq)
}

// Origin is the rank that created the element and manages its location.
func (id ID) Origin() int {
	return int(id.Rank)
}

// Pack folds the id into a single word for the wire.
func (id ID) Pack() uint64 {
	return uint64(uint32(id.Rank))<<32 | uint64(id.Seq)
}

func Unpack(v uint64) ID {
	return ID{Rank: int32(uint32(v >> 32)), Seq: uint32(v)}
}

func (id ID) Less(other ID) bool {
	if id.Rank != other.Rank {
		return id.Rank < other.Rank
	}
	return id.Seq < other.Seq
}

func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// Generator hands out ids for one origin rank. Ids are never reused.
type Generator struct {
	rank int32
	next uint32
}

func NewGenerator(rank int) *Generator {
	return &Generator{rank: int32(rank)}
}

func (g *Generator) Next() ID {
	id := ID{Rank: g.rank, Seq: g.next}
	g.next++
	return id
}

// Peek returns the counter the next id will use.
func (g *Generator) Peek() uint32 {
	return g.next
}

// Reset moves the counter forward, used when restoring a checkpoint.
func (g *Generator) Reset(next uint32) {
	if next > g.next {
		g.next = next
	}
}
