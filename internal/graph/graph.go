// Package graph is the distributed graph: nodes partitioned across ranks,
// DISTANT proxies for remote endpoints, and the sync mode that keeps them
// consistent.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/location"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

var (
	ErrUnknownNode  = errors.New("graph: unknown node")
	ErrUnknownEdge  = errors.New("graph: unknown edge")
	ErrNotLocal     = errors.New("graph: node is not local")
	ErrForeignNode  = errors.New("graph: node belongs to another graph")
	ErrDuplicateID  = errors.New("graph: duplicate id")
	ErrCodecMissing = errors.New("graph: codec required")
)

// Graph is driven by a single goroutine per rank.
type Graph[T any] struct {
	comm      comm.Communicator
	codec     Codec[T]
	locations *location.Manager
	mode      SyncMode[T]

	nodes map[dist.ID]*Node[T]
	edges map[dist.ID]*Edge[T]

	nodeIDs *dist.Generator
	edgeIDs *dist.Generator

	onSetLocal   []func(*Node[T])
	onSetDistant []func(*Node[T])
}

func New[T any](c comm.Communicator, codec Codec[T], factory ModeFactory[T]) (*Graph[T], error) {
	if codec == nil {
		return nil, ErrCodecMissing
	}
	if factory == nil {
		return nil, errors.New("graph: sync mode factory required")
	}
	g := &Graph[T]{
		comm:      c,
		codec:     codec,
		locations: location.New(c.Rank(), c.Size()),
		nodes:     make(map[dist.ID]*Node[T]),
		edges:     make(map[dist.ID]*Edge[T]),
		nodeIDs:   dist.NewGenerator(c.Rank()),
		edgeIDs:   dist.NewGenerator(c.Rank()),
	}
	g.mode = factory(g)
	logging.Debugf("graph.New rank=%d size=%d mode=%s", c.Rank(), c.Size(), g.mode.Name())
	return g, nil
}

func (g *Graph[T]) Rank() int                    { return g.comm.Rank() }
func (g *Graph[T]) Size() int                    { return g.comm.Size() }
func (g *Graph[T]) Comm() comm.Communicator      { return g.comm }
func (g *Graph[T]) Codec() Codec[T]              { return g.codec }
func (g *Graph[T]) Locations() *location.Manager { return g.locations }
func (g *Graph[T]) Mode() SyncMode[T]            { return g.mode }

// OnSetLocal registers a callback run whenever a node becomes LOCAL here.
func (g *Graph[T]) OnSetLocal(fn func(*Node[T])) {
	g.onSetLocal = append(g.onSetLocal, fn)
}

// OnSetDistant registers a callback run whenever a node becomes DISTANT here.
func (g *Graph[T]) OnSetDistant(fn func(*Node[T])) {
	g.onSetDistant = append(g.onSetDistant, fn)
}

func (g *Graph[T]) Node(id dist.ID) (*Node[T], bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph[T]) Edge(id dist.ID) (*Edge[T], bool) {
	e, ok := g.edges[id]
	return e, ok
}

func (g *Graph[T]) NodeCount() int { return len(g.nodes) }
func (g *Graph[T]) EdgeCount() int { return len(g.edges) }

// Nodes returns every node known here, sorted by id.
func (g *Graph[T]) Nodes() []*Node[T] {
	ids := make([]dist.ID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return g.lookupAll(ids)
}

func (g *Graph[T]) LocalNodes() []*Node[T] {
	return g.lookupAll(g.locations.LocalNodes())
}

func (g *Graph[T]) DistantNodes() []*Node[T] {
	return g.lookupAll(g.locations.DistantNodes())
}

// Edges returns every edge known here, sorted by id.
func (g *Graph[T]) Edges() []*Edge[T] {
	ids := make([]dist.ID, 0, len(g.edges))
	for id := range g.edges {
		ids = append(ids, id)
	}
	dist.SortIDs(ids)
	out := make([]*Edge[T], 0, len(ids))
	for _, id := range ids {
		out = append(out, g.edges[id])
	}
	return out
}

func (g *Graph[T]) lookupAll(ids []dist.ID) []*Node[T] {
	dist.SortIDs(ids)
	out := make([]*Node[T], 0, len(ids))
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// BuildNode creates a LOCAL node.
func (g *Graph[T]) BuildNode(data T, weight float64) *Node[T] {
	n := newNode(g, g.nodeIDs.Next(), data, weight)
	g.insertLocal(n)
	return n
}

func (g *Graph[T]) insertLocal(n *Node[T]) {
	g.nodes[n.id] = n
	g.locations.SetLocal(n.id)
	n.mutex = g.mode.BuildMutex(n)
	for _, fn := range g.onSetLocal {
		fn(n)
	}
}

// InsertDistant creates a DISTANT proxy owned by owner, or returns the known
// node.
func (g *Graph[T]) InsertDistant(id dist.ID, owner int, data T, weight float64) (*Node[T], error) {
	if n, ok := g.nodes[id]; ok {
		return n, nil
	}
	if err := g.locations.SetDistant(id, owner); err != nil {
		return nil, err
	}
	n := newNode(g, id, data, weight)
	g.nodes[id] = n
	n.mutex = g.mode.BuildMutex(n)
	for _, fn := range g.onSetDistant {
		fn(n)
	}
	return n, nil
}

// SetLocal marks a known node as owned here.
func (g *Graph[T]) SetLocal(n *Node[T]) {
	g.locations.SetLocal(n.id)
	for _, fn := range g.onSetLocal {
		fn(n)
	}
}

// SetDistant marks a known node as owned by owner.
func (g *Graph[T]) SetDistant(n *Node[T], owner int) error {
	if err := g.locations.SetDistant(n.id, owner); err != nil {
		return err
	}
	for _, fn := range g.onSetDistant {
		fn(n)
	}
	return nil
}

func (g *Graph[T]) own(n *Node[T]) error {
	if n == nil || n.graph != g {
		return ErrForeignNode
	}
	if cur, ok := g.nodes[n.id]; !ok || cur != n {
		return fmt.Errorf("%w: %s", ErrUnknownNode, n.id)
	}
	return nil
}

// Link creates an edge under shared locks on both endpoints and notifies
// the owners of DISTANT endpoints.
func (g *Graph[T]) Link(ctx context.Context, src, dst *Node[T], layer dist.LayerID, weight float64) (*Edge[T], error) {
	if err := g.own(src); err != nil {
		return nil, err
	}
	if err := g.own(dst); err != nil {
		return nil, err
	}
	unlock, err := g.lockSharedPair(ctx, src, dst)
	if err != nil {
		return nil, err
	}
	e := &Edge[T]{id: g.edgeIDs.Next(), layer: layer, weight: weight, source: src, target: dst}
	g.insertEdge(e)
	linkErr := g.mode.Linker().Link(ctx, e)
	if err := unlock(); err != nil && linkErr == nil {
		linkErr = err
	}
	if linkErr != nil {
		return e, linkErr
	}
	return e, nil
}

// Unlink removes an edge under shared locks on both endpoints.
func (g *Graph[T]) Unlink(ctx context.Context, e *Edge[T]) error {
	if cur, ok := g.edges[e.id]; !ok || cur != e {
		return fmt.Errorf("%w: %s", ErrUnknownEdge, e.id)
	}
	unlock, err := g.lockSharedPair(ctx, e.source, e.target)
	if err != nil {
		return err
	}
	detachErr := g.Detach(ctx, e)
	if err := unlock(); err != nil && detachErr == nil {
		detachErr = err
	}
	return detachErr
}

// Detach notifies the linker and erases the edge without taking locks. It
// is the building block for Unlink and node removal.
func (g *Graph[T]) Detach(ctx context.Context, e *Edge[T]) error {
	err := g.mode.Linker().Unlink(ctx, e)
	g.EraseEdge(e)
	return err
}

// RemoveNode removes a node through the linker while holding its exclusive
// lock. LOCAL nodes are erased at the next Synchronize.
func (g *Graph[T]) RemoveNode(ctx context.Context, n *Node[T]) error {
	if err := g.own(n); err != nil {
		return err
	}
	if err := n.mutex.Lock(ctx); err != nil {
		return err
	}
	removeErr := g.mode.Linker().RemoveNode(ctx, n)
	if err := n.mutex.Unlock(); err != nil && removeErr == nil {
		removeErr = err
	}
	return removeErr
}

// lockSharedPair takes shared locks in id order so concurrent linkers
// cannot deadlock on each other.
func (g *Graph[T]) lockSharedPair(ctx context.Context, a, b *Node[T]) (func() error, error) {
	first, second := a, b
	if second.id.Less(first.id) {
		first, second = second, first
	}
	if err := first.mutex.LockShared(ctx); err != nil {
		return nil, err
	}
	if first == second {
		return first.mutex.UnlockShared, nil
	}
	if err := second.mutex.LockShared(ctx); err != nil {
		_ = first.mutex.UnlockShared()
		return nil, err
	}
	return func() error {
		errSecond := second.mutex.UnlockShared()
		errFirst := first.mutex.UnlockShared()
		return errors.Join(errSecond, errFirst)
	}, nil
}

func (g *Graph[T]) insertEdge(e *Edge[T]) {
	g.edges[e.id] = e
	e.source.attach(e)
	if e.target != e.source {
		e.target.attach(e)
	}
}

// EraseEdge drops an edge from this rank only.
func (g *Graph[T]) EraseEdge(e *Edge[T]) {
	if cur, ok := g.edges[e.id]; !ok || cur != e {
		return
	}
	delete(g.edges, e.id)
	e.source.detach(e)
	e.target.detach(e)
}

// Erase drops a node and its edges from this rank only.
func (g *Graph[T]) Erase(n *Node[T]) {
	if cur, ok := g.nodes[n.id]; !ok || cur != n {
		return
	}
	for _, e := range n.Edges() {
		g.EraseEdge(e)
	}
	g.mode.DropMutex(n.id)
	if n.IsLocal() {
		g.locations.Remove(n.id)
	} else {
		g.locations.Forget(n.id)
	}
	delete(g.nodes, n.id)
}

// ClearNode erases edges of a DISTANT node that no longer touch a LOCAL node,
// then the node itself when nothing references it. It reports whether the
// node was erased.
func (g *Graph[T]) ClearNode(n *Node[T]) bool {
	if n.IsLocal() {
		return false
	}
	for _, e := range n.Edges() {
		if e.Other(n).IsLocal() {
			continue
		}
		g.EraseEdge(e)
	}
	if len(n.Edges()) > 0 {
		return false
	}
	g.Erase(n)
	return true
}

// ClearDistantNodes applies ClearNode to every DISTANT node.
func (g *Graph[T]) ClearDistantNodes() int {
	cleared := 0
	for _, n := range g.DistantNodes() {
		if g.ClearNode(n) {
			cleared++
		}
	}
	return cleared
}

// ImportNode materializes a node record as LOCAL, reusing a DISTANT proxy
// when one exists.
func (g *Graph[T]) ImportNode(rec wire.NodeRecord) (*Node[T], error) {
	data, err := g.codec.Decode(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("graph: decode node %s: %w", rec.ID, err)
	}
	if n, ok := g.nodes[rec.ID]; ok {
		n.data = data
		n.weight = rec.Weight
		g.SetLocal(n)
		return n, nil
	}
	n := newNode(g, rec.ID, data, rec.Weight)
	g.insertLocal(n)
	return n, nil
}

// ImportEdge materializes an edge record, creating DISTANT proxies for
// unknown endpoints from the locations carried by the record.
func (g *Graph[T]) ImportEdge(rec wire.EdgeRecord) (*Edge[T], error) {
	if e, ok := g.edges[rec.ID]; ok {
		e.weight = rec.Weight
		return e, nil
	}
	src, err := g.endpoint(rec.Source)
	if err != nil {
		return nil, fmt.Errorf("graph: edge %s source: %w", rec.ID, err)
	}
	dst, err := g.endpoint(rec.Target)
	if err != nil {
		return nil, fmt.Errorf("graph: edge %s target: %w", rec.ID, err)
	}
	e := &Edge[T]{id: rec.ID, layer: rec.Layer, weight: rec.Weight, source: src, target: dst}
	g.insertEdge(e)
	return e, nil
}

func (g *Graph[T]) endpoint(ep wire.Endpoint) (*Node[T], error) {
	if n, ok := g.nodes[ep.ID]; ok {
		return n, nil
	}
	if ep.Location == g.Rank() {
		return nil, fmt.Errorf("%w: %s expected local", ErrUnknownNode, ep.ID)
	}
	var zero T
	return g.InsertDistant(ep.ID, ep.Location, zero, 0)
}

// ExportNode builds the record that carries a node to another rank.
func (g *Graph[T]) ExportNode(n *Node[T]) (wire.NodeRecord, error) {
	data, err := g.codec.Encode(n.data)
	if err != nil {
		return wire.NodeRecord{}, fmt.Errorf("graph: encode node %s: %w", n.id, err)
	}
	return wire.NodeRecord{ID: n.id, Weight: n.weight, Data: data}, nil
}

// ExportEdge builds the record of an edge with endpoint locations as known
// here.
func (g *Graph[T]) ExportEdge(e *Edge[T]) wire.EdgeRecord {
	return wire.EdgeRecord{
		ID:     e.id,
		Layer:  e.layer,
		Weight: e.weight,
		Source: wire.Endpoint{ID: e.source.id, Location: e.source.Location()},
		Target: wire.Endpoint{ID: e.target.id, Location: e.target.Location()},
	}
}

// Synchronize closes a simulation step: structural notifications first,
// then dangling proxies are cleared, then payloads are refreshed.
func (g *Graph[T]) Synchronize(ctx context.Context) error {
	if err := g.mode.Linker().Synchronize(ctx); err != nil {
		return err
	}
	g.ClearDistantNodes()
	return g.mode.DataSync().Synchronize(ctx)
}
