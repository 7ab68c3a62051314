// Package location tracks which rank owns every node this rank knows about,
// and, for nodes created here, the authoritative current owner.
package location

import (
	"errors"
	"fmt"

	"github.com/danmuck/syncgraph/internal/dist"
)

var (
	ErrInvalidOwner = errors.New("location: invalid owner")
	ErrUnknownNode  = errors.New("location: unknown node")
)

// Entry is the local view of one node.
type Entry struct {
	State dist.State `json:"state"`
	Owner int        `json:"owner"`
}

// Update assigns a new owner to a known node.
type Update struct {
	ID    dist.ID
	Owner int
}

// Manager is owned by the rank's driving goroutine and is not safe for
// concurrent use.
type Manager struct {
	rank int
	size int

	entries map[dist.ID]Entry
	// managed holds the current owner of every node whose origin is this rank.
	managed map[dist.ID]int

	// pending directory reports for other origin ranks
	newLocal map[dist.ID]struct{}
	removed  map[dist.ID]struct{}
}

func New(rank, size int) *Manager {
	return &Manager{
		rank:     rank,
		size:     size,
		entries:  make(map[dist.ID]Entry),
		managed:  make(map[dist.ID]int),
		newLocal: make(map[dist.ID]struct{}),
		removed:  make(map[dist.ID]struct{}),
	}
}

func (m *Manager) Rank() int { return m.rank }
func (m *Manager) Size() int { return m.size }

func (m *Manager) SetLocal(id dist.ID) {
	m.entries[id] = Entry{State: dist.Local, Owner: m.rank}
	delete(m.removed, id)
	if id.Origin() == m.rank {
		m.managed[id] = m.rank
		return
	}
	m.newLocal[id] = struct{}{}
}

func (m *Manager) SetDistant(id dist.ID, owner int) error {
	if owner == m.rank || owner < 0 || owner >= m.size {
		return fmt.Errorf("%w: node %s owner %d on rank %d", ErrInvalidOwner, id, owner, m.rank)
	}
	m.entries[id] = Entry{State: dist.Distant, Owner: owner}
	delete(m.newLocal, id)
	return nil
}

func (m *Manager) Lookup(id dist.ID) (Entry, bool) {
	e, ok := m.entries[id]
	return e, ok
}

func (m *Manager) IsLocal(id dist.ID) bool {
	e, ok := m.entries[id]
	return ok && e.State == dist.Local
}

// Remove forgets a node. Removing a node this rank owns is reported to its
// origin at the next Exchange.
func (m *Manager) Remove(id dist.ID) {
	e, ok := m.entries[id]
	if !ok {
		return
	}
	delete(m.entries, id)
	delete(m.newLocal, id)
	if e.State != dist.Local {
		return
	}
	if id.Origin() == m.rank {
		delete(m.managed, id)
		return
	}
	m.removed[id] = struct{}{}
}

// Forget drops a DISTANT reference without reporting anything.
func (m *Manager) Forget(id dist.ID) {
	if e, ok := m.entries[id]; ok && e.State == dist.Distant {
		delete(m.entries, id)
	}
}

func (m *Manager) LocalNodes() []dist.ID {
	return m.collect(dist.Local)
}

func (m *Manager) DistantNodes() []dist.ID {
	return m.collect(dist.Distant)
}

func (m *Manager) Len() int {
	return len(m.entries)
}

func (m *Manager) collect(state dist.State) []dist.ID {
	out := make([]dist.ID, 0, len(m.entries))
	for id, e := range m.entries {
		if e.State == state {
			out = append(out, id)
		}
	}
	dist.SortIDs(out)
	return out
}

// UpdateLocations applies ownership changes to DISTANT entries. The whole
// batch is validated before anything is applied. Unknown nodes and LOCAL
// entries are left untouched, and reapplying a batch is a no-op.
func (m *Manager) UpdateLocations(batch []Update) (int, error) {
	for _, u := range batch {
		if u.Owner < 0 || u.Owner >= m.size {
			return 0, fmt.Errorf("%w: node %s owner %d", ErrInvalidOwner, u.ID, u.Owner)
		}
	}
	changed := 0
	for _, u := range batch {
		e, ok := m.entries[u.ID]
		if !ok || e.State == dist.Local || u.Owner == m.rank || e.Owner == u.Owner {
			continue
		}
		m.entries[u.ID] = Entry{State: dist.Distant, Owner: u.Owner}
		changed++
	}
	return changed, nil
}

// Manage records the authoritative owner of a node created on this rank.
func (m *Manager) Manage(id dist.ID, owner int) error {
	if id.Origin() != m.rank {
		return fmt.Errorf("location: node %s is managed by rank %d", id, id.Origin())
	}
	if owner < 0 || owner >= m.size {
		return fmt.Errorf("%w: node %s owner %d", ErrInvalidOwner, id, owner)
	}
	m.managed[id] = owner
	return nil
}

// Managed returns the authoritative owner of a node created on this rank.
// ok is false for nodes that were removed or never existed.
func (m *Manager) Managed(id dist.ID) (int, bool) {
	owner, ok := m.managed[id]
	return owner, ok
}

// Resolve picks the best known owner of id: the local entry, then the
// directory, then the origin rank.
func (m *Manager) Resolve(id dist.ID) int {
	if e, ok := m.entries[id]; ok {
		return e.Owner
	}
	if owner, ok := m.managed[id]; ok {
		return owner
	}
	return id.Origin()
}
