// Package sim is a small scheduler: it runs a model step by step over a
// distributed graph, synchronizing after every step and rebalancing on a
// fixed cadence.
package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/syncgraph/internal/balance"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/migrate"
	"github.com/danmuck/syncgraph/internal/observability"
)

// Status is what a rank reports about itself after each step.
type Status struct {
	Rank          int            `json:"rank"`
	Size          int            `json:"size"`
	Mode          string         `json:"mode"`
	Step          uint64         `json:"step"`
	Local         int            `json:"local"`
	Distant       int            `json:"distant"`
	Edges         int            `json:"edges"`
	LastMigration migrate.Report `json:"last_migration"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Publisher receives the state of the rank after every step. It is called
// from the driving goroutine and must not block.
type Publisher interface {
	Publish(st Status, snap graph.Snapshot)
}

// Checkpointer persists snapshots.
type Checkpointer interface {
	Save(run string, step uint64, snap graph.Snapshot) error
}

type Config struct {
	RunID           string
	RebalanceEvery  uint64
	CheckpointEvery uint64
	Migrate         migrate.Config
}

type Runner[T any] struct {
	graph       *graph.Graph[T]
	model       Model[T]
	cfg         Config
	partitioner balance.Partitioner[T]
	coordinator *migrate.Coordinator[T]
	store       Checkpointer
	publishers  []Publisher

	step          uint64
	lastMigration migrate.Report
}

func NewRunner[T any](g *graph.Graph[T], model Model[T], cfg Config) *Runner[T] {
	return &Runner[T]{
		graph:       g,
		model:       model,
		cfg:         cfg,
		partitioner: balance.Greedy[T]{},
		coordinator: migrate.New(g, cfg.Migrate),
	}
}

func (r *Runner[T]) WithPartitioner(p balance.Partitioner[T]) *Runner[T] {
	r.partitioner = p
	return r
}

func (r *Runner[T]) WithCheckpoints(store Checkpointer) *Runner[T] {
	r.store = store
	return r
}

func (r *Runner[T]) WithPublisher(p Publisher) *Runner[T] {
	r.publishers = append(r.publishers, p)
	return r
}

func (r *Runner[T]) Step() uint64 { return r.step }

// StepOnce is collective: model work, Synchronize, then optional rebalance
// and checkpoint.
func (r *Runner[T]) StepOnce(ctx context.Context) error {
	g := r.graph
	if err := r.model.Step(ctx, g, r.step); err != nil {
		return fmt.Errorf("sim: step %d model: %w", r.step, err)
	}
	if err := g.Synchronize(ctx); err != nil {
		return fmt.Errorf("sim: step %d synchronize: %w", r.step, err)
	}
	r.step++
	observability.RecordSimStep(g.Rank())

	if r.cfg.RebalanceEvery > 0 && r.step%r.cfg.RebalanceEvery == 0 {
		partition, err := r.partitioner.Partition(ctx, g)
		if err != nil {
			return fmt.Errorf("sim: step %d partition: %w", r.step, err)
		}
		report, err := r.coordinator.Distribute(ctx, partition)
		if err != nil {
			return fmt.Errorf("sim: step %d distribute: %w", r.step, err)
		}
		r.lastMigration = report
	}

	needSnapshot := len(r.publishers) > 0 ||
		(r.store != nil && r.cfg.CheckpointEvery > 0 && r.step%r.cfg.CheckpointEvery == 0)
	if !needSnapshot {
		return nil
	}
	snap, err := g.Snapshot()
	if err != nil {
		return err
	}
	if r.store != nil && r.cfg.CheckpointEvery > 0 && r.step%r.cfg.CheckpointEvery == 0 {
		if err := r.store.Save(r.cfg.RunID, r.step, snap); err != nil {
			return err
		}
	}
	st := r.Status()
	for _, p := range r.publishers {
		p.Publish(st, snap)
	}
	return nil
}

// Run executes steps until the count is reached or ctx ends.
func (r *Runner[T]) Run(ctx context.Context, steps uint64) error {
	start := time.Now()
	for i := uint64(0); i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.StepOnce(ctx); err != nil {
			return err
		}
	}
	logging.Infof("sim.Runner.Run rank=%d steps=%d local=%d took=%s", r.graph.Rank(), steps, len(r.graph.LocalNodes()), time.Since(start))
	return nil
}

func (r *Runner[T]) Status() Status {
	g := r.graph
	return Status{
		Rank:          g.Rank(),
		Size:          g.Size(),
		Mode:          g.Mode().Name(),
		Step:          r.step,
		Local:         len(g.LocalNodes()),
		Distant:       len(g.DistantNodes()),
		Edges:         g.EdgeCount(),
		LastMigration: r.lastMigration,
		UpdatedAt:     time.Now(),
	}
}
