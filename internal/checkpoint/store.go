// Package checkpoint persists per-rank graph snapshots in badger, keyed by
// run, rank and step.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
)

var (
	ErrNotFound   = errors.New("checkpoint: not found")
	ErrInvalidRun = errors.New("checkpoint: invalid run id")
)

type Store struct {
	db *badger.DB
}

// Open opens or creates a store under dir.
func Open(dir string) (*Store, error) {
	return open(badger.DefaultOptions(dir).WithLogger(nil))
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Keys sort by step within a (run, rank) prefix: the step is big-endian.
func prefix(run string, rank int) []byte {
	return []byte(fmt.Sprintf("run/%s/rank/%d/", run, rank))
}

func key(run string, rank int, step uint64) []byte {
	return binary.BigEndian.AppendUint64(prefix(run, rank), step)
}

func checkRun(run string) error {
	if run == "" || strings.Contains(run, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidRun, run)
	}
	return nil
}

// Save stores the snapshot of snap.Rank at step, replacing any previous one.
func (s *Store) Save(run string, step uint64, snap graph.Snapshot) error {
	if err := checkRun(run); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint: encode snapshot: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(run, snap.Rank, step), data)
	})
	if err != nil {
		return fmt.Errorf("checkpoint: save run=%s rank=%d step=%d: %w", run, snap.Rank, step, err)
	}
	logging.Debugf("checkpoint.Store.Save run=%s rank=%d step=%d bytes=%d", run, snap.Rank, step, len(data))
	return nil
}

func (s *Store) Load(run string, rank int, step uint64) (graph.Snapshot, error) {
	var snap graph.Snapshot
	if err := checkRun(run); err != nil {
		return snap, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(run, rank, step))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return snap, fmt.Errorf("%w: run=%s rank=%d step=%d", ErrNotFound, run, rank, step)
	}
	if err != nil {
		return snap, fmt.Errorf("checkpoint: load run=%s rank=%d step=%d: %w", run, rank, step, err)
	}
	return snap, nil
}

// Steps lists the stored steps of one rank in ascending order.
func (s *Store) Steps(run string, rank int) ([]uint64, error) {
	if err := checkRun(run); err != nil {
		return nil, err
	}
	p := prefix(run, rank)
	var steps []uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if len(k) != len(p)+8 {
				continue
			}
			steps = append(steps, binary.BigEndian.Uint64(k[len(p):]))
		}
		return nil
	})
	return steps, err
}

// Latest loads the highest stored step of one rank.
func (s *Store) Latest(run string, rank int) (uint64, graph.Snapshot, error) {
	steps, err := s.Steps(run, rank)
	if err != nil {
		return 0, graph.Snapshot{}, err
	}
	if len(steps) == 0 {
		return 0, graph.Snapshot{}, fmt.Errorf("%w: run=%s rank=%d", ErrNotFound, run, rank)
	}
	step := steps[len(steps)-1]
	snap, err := s.Load(run, rank, step)
	return step, snap, err
}

// Delete drops every snapshot of a run.
func (s *Store) Delete(run string) error {
	if err := checkRun(run); err != nil {
		return err
	}
	return s.db.DropPrefix([]byte(fmt.Sprintf("run/%s/", run)))
}
