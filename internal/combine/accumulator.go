// Package combine implements a double-buffered combine accumulator: a
// mapping from (binding index, packed key) to a reduced document, spilling
// sorted runs to temp storage past a soft byte threshold and draining
// through a k-way merge.
package combine

import (
	"bytes"
	"container/heap"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/estuary/capture-core/internal/tuple"
	"github.com/minio/highwayhash"
)

// ByteThreshold is the soft memtable size, past which Add spills the
// current in-memory contents to a sorted run on disk.
const ByteThreshold = 1 << 25

// numShards is the number of buckets the memtable hashes composite keys
// into. Sharding only affects the constant factor of a lookup before a
// run is sorted out for spill/drain; it never affects iteration order,
// which always sorts composite keys directly.
const numShards = 64

// bucketHashKey is the fixed highwayhash key used to bucket memtable
// entries. Bucketing is purely an internal performance aid, not a
// security boundary, so a fixed all-zero key is fine.
var bucketHashKey = make([]byte, 32)

func shardFor(compKey []byte) int {
	var h, err = highwayhash.New64(bucketHashKey)
	if err != nil {
		panic(err) // Only fails for a key of the wrong length, which bucketHashKey never is.
	}
	h.Write(compKey)
	return int(h.Sum64() % numShards)
}

// Meta describes one drained document's origin.
type Meta struct {
	BindingIndex int
	// Flags carries out-of-band bits for the session layer (e.g. whether
	// the connector-state slot's entry began with a full-replace reset);
	// opaque to the accumulator itself.
	Flags uint32
}

// FlagReset marks a drained document as having begun this transaction from
// a full-replace Reset rather than folding onto whatever the accumulator
// previously held for that key.
const FlagReset uint32 = 1 << 0

// DrainedDoc is one entry yielded by a DrainIterator, in ascending
// (binding index, packed key) order.
type DrainedDoc struct {
	Meta      Meta
	KeyPacked []byte
	Root      interface{}
}

type entry struct {
	compKey []byte
	binding int
	packed  []byte
	doc     interface{}
	flags   uint32
}

// Accumulator is a single combine buffer: use two (accumulating and
// draining) per session so one may accumulate while the other drains.
type Accumulator struct {
	specs     map[int]Spec
	shards    [numShards]map[string]*entry
	approxLen int
	spillDir  string
	runs      []string // paths of sorted spill files, oldest first

	drained bool // Set once IntoDrain has been called; Add after this is an error.
}

// New returns an empty Accumulator. specs maps binding index to its
// combine specification; spillDir is a directory the accumulator may
// create temp files in (use "" for an OS default).
func New(specs map[int]Spec, spillDir string) *Accumulator {
	var a = &Accumulator{specs: specs, spillDir: spillDir}
	for i := range a.shards {
		a.shards[i] = make(map[string]*entry)
	}
	return a
}

func (a *Accumulator) memtableLen() int {
	var n int
	for _, shard := range a.shards {
		n += len(shard)
	}
	return n
}

func compositeKey(bindingIndex int, packed []byte) []byte {
	var out = make([]byte, 4+len(packed))
	binary.BigEndian.PutUint32(out[:4], uint32(bindingIndex))
	copy(out[4:], packed)
	return out
}

// ParseJSONStr decodes s into a document tree, preserving numeric literals
// via json.Number so integer/float distinctions survive combine and
// re-serialization.
func (a *Accumulator) ParseJSONStr(s string) (interface{}, error) {
	var dec = json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("combine: parsing document: %w", err)
	}
	return out, nil
}

// Add combines doc into the entry for (bindingIndex, key), using the
// binding's configured reducers when fullReduce is set, or simple
// last-write-wins replacement otherwise (most captured documents have no
// reduction annotations and are simply superseded by their latest value;
// fullReduce distinguishes genuinely-reduced collections, e.g. the
// connector-state slot under merge-patch semantics).
func (a *Accumulator) Add(bindingIndex int, key tuple.Tuple, doc interface{}, fullReduce bool) error {
	if a.drained {
		return fmt.Errorf("combine: Add called on a drained accumulator")
	}

	var packed = key.Pack()
	var compKey = compositeKey(bindingIndex, packed)
	var mapKey = string(compKey)
	var shard = a.shards[shardFor(compKey)]

	if existing, ok := shard[mapKey]; ok {
		if fullReduce {
			var merged, err = ReduceDocuments(a.specs[bindingIndex], existing.doc, doc)
			if err != nil {
				return err
			}
			existing.doc = merged
		} else {
			existing.doc = doc
		}
	} else {
		shard[mapKey] = &entry{compKey: compKey, binding: bindingIndex, packed: packed, doc: doc}
	}

	a.approxLen += approxSize(doc)
	if a.approxLen >= ByteThreshold {
		if err := a.spill(); err != nil {
			return err
		}
	}
	return nil
}

// Reset discards any existing entry for (bindingIndex, key) and replaces it
// with a nil document flagged FlagReset: the next Add for the same key
// folds onto nil rather than onto whatever came before, and the drained
// document carries FlagReset so the session layer knows to persist it as a
// full replacement rather than a merge onto the prior durable value.
func (a *Accumulator) Reset(bindingIndex int, key tuple.Tuple) error {
	if a.drained {
		return fmt.Errorf("combine: Reset called on a drained accumulator")
	}

	var packed = key.Pack()
	var compKey = compositeKey(bindingIndex, packed)
	var shard = a.shards[shardFor(compKey)]
	shard[string(compKey)] = &entry{compKey: compKey, binding: bindingIndex, packed: packed, flags: FlagReset}
	return nil
}

func approxSize(doc interface{}) int {
	var b, err = json.Marshal(doc)
	if err != nil {
		return 64
	}
	return len(b)
}

// spill writes the current memtable out as one sorted run, ascending by
// composite key, and resets the memtable.
func (a *Accumulator) spill() error {
	var all = make(map[string]*entry, a.memtableLen())
	for _, shard := range a.shards {
		for k, e := range shard {
			all[k] = e
		}
	}
	if len(all) == 0 {
		return nil
	}

	var keys = make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var f, err = os.CreateTemp(a.spillDir, "capture-core-combine-*.run")
	if err != nil {
		return fmt.Errorf("combine: creating spill file: %w", err)
	}
	defer f.Close()

	for _, k := range keys {
		if err := writeRunEntry(f, all[k]); err != nil {
			return fmt.Errorf("combine: writing spill run: %w", err)
		}
	}

	a.runs = append(a.runs, f.Name())
	for i := range a.shards {
		a.shards[i] = make(map[string]*entry)
	}
	a.approxLen = 0
	return nil
}

func writeRunEntry(w io.Writer, e *entry) error {
	var docBytes, err = json.Marshal(e.doc)
	if err != nil {
		return err
	}
	var header [4 + 4 + 4 + 4]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(e.binding))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(e.packed)))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(docBytes)))
	binary.BigEndian.PutUint32(header[12:16], e.flags)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.packed); err != nil {
		return err
	}
	_, err = w.Write(docBytes)
	return err
}

func readRunEntries(path string) ([]*entry, error) {
	var f, err = os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*entry
	for {
		var header [16]byte
		if _, err := io.ReadFull(f, header[:]); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		var binding = int(binary.BigEndian.Uint32(header[0:4]))
		var packedLen = binary.BigEndian.Uint32(header[4:8])
		var docLen = binary.BigEndian.Uint32(header[8:12])
		var flags = binary.BigEndian.Uint32(header[12:16])

		var packed = make([]byte, packedLen)
		if _, err := io.ReadFull(f, packed); err != nil {
			return nil, err
		}
		var docBytes = make([]byte, docLen)
		if _, err := io.ReadFull(f, docBytes); err != nil {
			return nil, err
		}

		var dec = json.NewDecoder(bytes.NewReader(docBytes))
		dec.UseNumber()
		var doc interface{}
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}

		out = append(out, &entry{
			compKey: compositeKey(binding, packed),
			binding: binding,
			packed:  packed,
			doc:     doc,
			flags:   flags,
		})
	}
	return out, nil
}

// DrainIterator yields the accumulator's contents in ascending (binding
// index, packed key) order, coalescing entries sharing a key across the
// memtable and any spilled runs via k-way merge.
type DrainIterator struct {
	h *mergeHeap
}

// Next returns the next drained document, or ok=false once exhausted.
func (d *DrainIterator) Next() (DrainedDoc, bool, error) {
	if d.h.Len() == 0 {
		return DrainedDoc{}, false, nil
	}

	var c = heap.Pop(d.h).(*cursor)
	var first = c.peek()
	var merged = first.doc
	var binding = first.binding
	var packed = first.packed
	var compKey = first.compKey
	var flags = first.flags
	var spec = d.h.specs[binding]

	c.advance()
	if c.valid() {
		heap.Push(d.h, c)
	}

	// Coalesce any further sources whose next entry shares first's key,
	// oldest source first. A newer entry flagged FlagReset replaces what
	// the older sources held rather than folding onto it. A reset anywhere
	// in the chain means the key was fully replaced at some point this
	// transaction, so FlagReset is ORed in rather than overwritten: it must
	// survive regardless of spill/merge ordering.
	for d.h.Len() > 0 && bytes.Equal(d.h.sources[0].peek().compKey, compKey) {
		var next = heap.Pop(d.h).(*cursor)
		var e = next.peek()
		if e.flags&FlagReset != 0 {
			merged = e.doc
		} else {
			var m, err = ReduceDocuments(spec, merged, e.doc)
			if err != nil {
				return DrainedDoc{}, false, err
			}
			merged = m
		}
		flags |= e.flags
		next.advance()
		if next.valid() {
			heap.Push(d.h, next)
		}
	}

	return DrainedDoc{
		Meta:      Meta{BindingIndex: binding, Flags: flags},
		KeyPacked: packed,
		Root:      merged,
	}, true, nil
}

// IntoDrain consumes the accumulator, returning an iterator over its
// merged contents. Once called, the accumulator accepts no further Add
// calls and must be discarded; drain order is only ever forward-only from
// the start.
func (a *Accumulator) IntoDrain() (*DrainIterator, error) {
	a.drained = true

	var cursors []*cursor
	if n := a.memtableLen(); n > 0 {
		var all = make(map[string]*entry, n)
		for _, shard := range a.shards {
			for k, e := range shard {
				all[k] = e
			}
		}

		var keys = make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var entries = make([]*entry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, all[k])
		}
		cursors = append(cursors, &cursor{entries: entries, age: len(a.runs)})
	}
	for i, path := range a.runs {
		var entries, err = readRunEntries(path)
		if err != nil {
			return nil, fmt.Errorf("combine: reading spill run %q: %w", path, err)
		}
		if len(entries) > 0 {
			cursors = append(cursors, &cursor{entries: entries, age: i})
		}
	}

	var h = &mergeHeap{sources: cursors, specs: a.specs}
	heap.Init(h)
	return &DrainIterator{h: h}, nil
}

// Close removes any spilled run files. Safe to call multiple times.
func (a *Accumulator) Close() {
	for _, path := range a.runs {
		os.Remove(path)
	}
	a.runs = nil
}

type cursor struct {
	entries []*entry
	pos     int
	age     int // Spilled runs in spill order, then the memtable last.
}

func (c *cursor) valid() bool  { return c.pos < len(c.entries) }
func (c *cursor) peek() *entry { return c.entries[c.pos] }
func (c *cursor) advance()     { c.pos++ }

type mergeHeap struct {
	sources []*cursor
	specs   map[int]Spec
}

func (h mergeHeap) Len() int { return len(h.sources) }
func (h mergeHeap) Less(i, j int) bool {
	if c := bytes.Compare(h.sources[i].peek().compKey, h.sources[j].peek().compKey); c != 0 {
		return c < 0
	}
	// Equal keys: the older source comes first, so newer entries fold onto it.
	return h.sources[i].age < h.sources[j].age
}
func (h mergeHeap) Swap(i, j int) { h.sources[i], h.sources[j] = h.sources[j], h.sources[i] }

func (h *mergeHeap) Push(x interface{}) {
	h.sources = append(h.sources, x.(*cursor))
}

func (h *mergeHeap) Pop() interface{} {
	var old = h.sources
	var n = len(old)
	var last = old[n-1]
	h.sources = old[:n-1]
	return last
}
