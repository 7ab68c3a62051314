package dist

import (
	"fmt"
	"sort"
)

// State tells whether this rank owns an element.
type State uint8

const (
	Local State = iota
	Distant
)

func (s State) String() string {
	switch s {
	case Local:
		return "LOCAL"
	case Distant:
		return "DISTANT"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// LayerID partitions edges into independent named layers.
type LayerID int32

const DefaultLayer LayerID = 0

// Partition is a target assignment node id -> rank produced by a partitioner.
type Partition map[ID]int

// IDs returns the assigned ids in deterministic order.
func (p Partition) IDs() []ID {
	out := make([]ID, 0, len(p))
	for id := range p {
		out = append(out, id)
	}
	SortIDs(out)
	return out
}

// Moves counts entries whose target differs from the given current owners.
func (p Partition) Moves(current map[ID]int) int {
	n := 0
	for id, target := range p {
		if owner, ok := current[id]; ok && owner != target {
			n++
		}
	}
	return n
}

// Ranks returns the sorted set of target ranks.
func (p Partition) Ranks() []int {
	seen := make(map[int]struct{})
	for _, r := range p {
		seen[r] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}
