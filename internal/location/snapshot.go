package location

import "github.com/danmuck/syncgraph/internal/dist"

// Record is the serializable form of one entry.
type Record struct {
	ID    dist.ID    `json:"id"`
	State dist.State `json:"state"`
	Owner int        `json:"owner"`
}

// Snapshot is the serializable state of a Manager.
type Snapshot struct {
	Entries []Record `json:"entries"`
	Managed []Record `json:"managed"`
}

func (m *Manager) Snapshot() Snapshot {
	snap := Snapshot{
		Entries: make([]Record, 0, len(m.entries)),
		Managed: make([]Record, 0, len(m.managed)),
	}
	ids := make([]dist.ID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	dist.SortIDs(ids)
	for _, id := range ids {
		e := m.entries[id]
		snap.Entries = append(snap.Entries, Record{ID: id, State: e.State, Owner: e.Owner})
	}
	ids = ids[:0]
	for id := range m.managed {
		ids = append(ids, id)
	}
	dist.SortIDs(ids)
	for _, id := range ids {
		snap.Managed = append(snap.Managed, Record{ID: id, State: dist.Local, Owner: m.managed[id]})
	}
	return snap
}

// Restore replaces the manager state with snap.
func (m *Manager) Restore(snap Snapshot) {
	m.entries = make(map[dist.ID]Entry, len(snap.Entries))
	m.managed = make(map[dist.ID]int, len(snap.Managed))
	m.newLocal = make(map[dist.ID]struct{})
	m.removed = make(map[dist.ID]struct{})
	for _, r := range snap.Entries {
		m.entries[r.ID] = Entry{State: r.State, Owner: r.Owner}
	}
	for _, r := range snap.Managed {
		m.managed[r.ID] = r.Owner
	}
}
