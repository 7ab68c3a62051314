package location

import (
	"context"
	"fmt"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

const (
	TagReport comm.Tag = 0x301
	TagQuery  comm.Tag = 0x302
	TagReply  comm.Tag = 0x303
)

// ExchangeResult summarizes one directory exchange.
type ExchangeResult struct {
	Reported int
	Updated  int
	// Gone lists DISTANT nodes whose origin no longer knows an owner.
	Gone []dist.ID
}

// Exchange is collective: every rank must call it. Ranks report ownership
// changes to origin ranks, then refresh the owner of every DISTANT node from
// its origin.
func (m *Manager) Exchange(ctx context.Context, c comm.Communicator) (ExchangeResult, error) {
	var res ExchangeResult
	reports := make(map[int][]wire.Location)
	for id := range m.newLocal {
		reports[id.Origin()] = append(reports[id.Origin()], wire.Location{ID: id, Owner: m.rank})
	}
	for id := range m.removed {
		reports[id.Origin()] = append(reports[id.Origin()], wire.Location{ID: id, Owner: wire.NoOwner})
	}
	out, err := encodeLocations(reports)
	if err != nil {
		return res, err
	}
	in, err := comm.AllToAll(ctx, c, TagReport, out)
	if err != nil {
		return res, fmt.Errorf("location: report exchange: %w", err)
	}
	for src, payload := range in {
		if src == m.rank || len(payload) == 0 {
			continue
		}
		locs, err := wire.DecodeLocations(payload)
		if err != nil {
			return res, fmt.Errorf("location: reports from %d: %w", src, err)
		}
		for _, loc := range locs {
			if loc.ID.Origin() != m.rank {
				continue
			}
			if loc.Owner == wire.NoOwner {
				delete(m.managed, loc.ID)
			} else {
				m.managed[loc.ID] = loc.Owner
			}
			res.Reported++
		}
	}
	m.newLocal = make(map[dist.ID]struct{})
	m.removed = make(map[dist.ID]struct{})

	queries := make(map[int][]dist.ID)
	var updates []Update
	for _, id := range m.DistantNodes() {
		origin := id.Origin()
		if origin != m.rank {
			queries[origin] = append(queries[origin], id)
			continue
		}
		if owner, ok := m.managed[id]; ok {
			updates = append(updates, Update{ID: id, Owner: owner})
		} else {
			res.Gone = append(res.Gone, id)
		}
	}
	out = make(map[int][]byte, len(queries))
	for r, ids := range queries {
		payload, err := wire.EncodeIDs(ids)
		if err != nil {
			return res, err
		}
		out[r] = payload
	}
	in, err = comm.AllToAll(ctx, c, TagQuery, out)
	if err != nil {
		return res, fmt.Errorf("location: query exchange: %w", err)
	}
	replies := make(map[int][]wire.Location)
	for src, payload := range in {
		if src == m.rank || len(payload) == 0 {
			continue
		}
		ids, err := wire.DecodeIDs(payload)
		if err != nil {
			return res, fmt.Errorf("location: queries from %d: %w", src, err)
		}
		for _, id := range ids {
			owner, ok := m.managed[id]
			if !ok {
				owner = wire.NoOwner
			}
			replies[src] = append(replies[src], wire.Location{ID: id, Owner: owner})
		}
	}
	out, err = encodeLocations(replies)
	if err != nil {
		return res, err
	}
	in, err = comm.AllToAll(ctx, c, TagReply, out)
	if err != nil {
		return res, fmt.Errorf("location: reply exchange: %w", err)
	}
	for src, payload := range in {
		if src == m.rank || len(payload) == 0 {
			continue
		}
		locs, err := wire.DecodeLocations(payload)
		if err != nil {
			return res, fmt.Errorf("location: replies from %d: %w", src, err)
		}
		for _, loc := range locs {
			if loc.Owner == wire.NoOwner {
				res.Gone = append(res.Gone, loc.ID)
				continue
			}
			updates = append(updates, Update{ID: loc.ID, Owner: loc.Owner})
		}
	}
	if res.Updated, err = m.UpdateLocations(updates); err != nil {
		return res, err
	}
	dist.SortIDs(res.Gone)
	logging.Debugf("location.Manager.Exchange rank=%d reported=%d updated=%d gone=%d", m.rank, res.Reported, res.Updated, len(res.Gone))
	return res, nil
}

func encodeLocations(by map[int][]wire.Location) (map[int][]byte, error) {
	out := make(map[int][]byte, len(by))
	for r, locs := range by {
		payload, err := wire.EncodeLocations(locs)
		if err != nil {
			return nil, err
		}
		out[r] = payload
	}
	return out, nil
}
