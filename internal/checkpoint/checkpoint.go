// Package checkpoint implements the durable, transactional key/value store
// backing a capture session's runtime checkpoint and connector state: an
// embedded RocksDB instance the capture core owns directly, rather than
// delegating to a surrounding consumer shard.
package checkpoint

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/jgraettinger/gorocksdb"
)

// Reserved keys within the store's single column family.
var (
	checkpointKey     = []byte("checkpoint")
	connectorStateKey = []byte("connector-state")
)

// Store is a durable, atomically-written key/value store holding exactly
// two documents: the opaque runtime checkpoint and the connector's own
// state, merged over time via RFC 7396 JSON Merge Patch.
type Store struct {
	db    *gorocksdb.DB
	ro    *gorocksdb.ReadOptions
	wo    *gorocksdb.WriteOptions
	merge *mergeOperator
}

// Open opens (creating if necessary) a Store rooted at dir, registering the
// JSON-merge-patch associative merge operator on the connector-state key.
func Open(dir string) (*Store, error) {
	var merge = &mergeOperator{}

	var opts = gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetMergeOperator(merge)

	db, err := gorocksdb.OpenDb(opts, dir)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store at %q: %w", dir, err)
	}

	return &Store{
		db:    db,
		ro:    gorocksdb.NewDefaultReadOptions(),
		wo:    gorocksdb.NewDefaultWriteOptions(),
		merge: merge,
	}, nil
}

// Close releases the store's underlying RocksDB handles.
func (s *Store) Close() {
	s.ro.Destroy()
	s.wo.Destroy()
	s.db.Close()
}

// LoadCheckpoint returns the last durably-committed runtime checkpoint, or
// nil if none has ever been written (a fresh session).
func (s *Store) LoadCheckpoint() (json.RawMessage, error) {
	return s.get(checkpointKey)
}

// LoadConnectorState returns the connector's persisted state applied as an
// RFC 7396 merge patch onto initial (the value supplied on Open by the
// caller), or initial unchanged if the store has never recorded one.
func (s *Store) LoadConnectorState(initial json.RawMessage) (json.RawMessage, error) {
	var stored, err = s.get(connectorStateKey)
	if err != nil {
		return nil, err
	} else if stored == nil {
		return initial, nil
	}
	merged, err := jsonpatch.MergePatch(initial, stored)
	if err != nil {
		return nil, fmt.Errorf("merging persisted connector state: %w", err)
	}
	return merged, nil
}

func (s *Store) get(key []byte) (json.RawMessage, error) {
	var slice, err = s.db.Get(s.ro, key)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store get %q: %w", key, err)
	}
	defer slice.Free()

	if !slice.Exists() {
		return nil, nil
	}
	var out = make([]byte, slice.Size())
	copy(out, slice.Data())
	return out, nil
}

// WriteBatch accumulates puts and merges to apply atomically via Write.
type WriteBatch struct {
	batch *gorocksdb.WriteBatch
}

// NewWriteBatch returns an empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{batch: gorocksdb.NewWriteBatch()}
}

// PutCheckpoint stages an unconditional overwrite of the runtime checkpoint.
func (b *WriteBatch) PutCheckpoint(value json.RawMessage) {
	b.batch.Put(checkpointKey, value)
}

// PutConnectorState stages an unconditional overwrite of the connector
// state, discarding any prior value (used when a connector sends a
// non-merge-patch Checkpoint).
func (b *WriteBatch) PutConnectorState(value json.RawMessage) {
	b.batch.Put(connectorStateKey, value)
}

// MergeConnectorState stages an RFC 7396 merge patch against whatever
// connector-state value the store already holds, applied atomically by
// RocksDB's associative merge operator at read or compaction time.
func (b *WriteBatch) MergeConnectorState(patch json.RawMessage) {
	b.batch.Merge(connectorStateKey, patch)
}

func (b *WriteBatch) destroy() { b.batch.Destroy() }

// Write durably and atomically applies batch. A failure here is always
// fatal to the owning session: the caller has no way to know which of the
// batch's writes landed.
func (s *Store) Write(b *WriteBatch) error {
	defer b.destroy()
	if err := s.db.Write(s.wo, b.batch); err != nil {
		return fmt.Errorf("writing checkpoint batch: %w", err)
	}
	return nil
}

// mergeOperator implements gorocksdb.MergeOperator with RFC 7396 JSON merge
// patch semantics, so repeated Checkpoint updates with MergePatch == true
// may be applied to the store without a read-modify-write round trip.
type mergeOperator struct{}

// FullMerge folds existingValue (possibly absent) with all queued operands,
// in order, via successive RFC 7396 merge patches.
func (mergeOperator) FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool) {
	var acc json.RawMessage = existingValue
	if len(acc) == 0 {
		acc = []byte("{}")
	}
	for _, op := range operands {
		var merged, err = jsonpatch.MergePatch(acc, op)
		if err != nil {
			return nil, false
		}
		acc = merged
	}
	return acc, true
}

// PartialMerge combines two not-yet-applied operands into one, using
// MergeMergePatches so that partial-merge results remain valid merge
// patches themselves (associativity required by RocksDB's merge operator
// contract).
func (mergeOperator) PartialMerge(key, left, right []byte) ([]byte, bool) {
	var merged, err = jsonpatch.MergeMergePatches(left, right)
	if err != nil {
		return nil, false
	}
	return merged, true
}

func (mergeOperator) Name() string { return "capture-core.JSONMergePatch" }
