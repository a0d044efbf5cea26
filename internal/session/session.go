// Package session implements the capture session state machine: the open
// handshake, transaction lifecycle, and StartCommit sequencing that
// orchestrate the checkpoint store, combine accumulators, and shape
// inference.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/capture-core/internal/checkpoint"
	"github.com/estuary/capture-core/internal/combine"
	"github.com/estuary/capture-core/internal/ops"
	"github.com/estuary/capture-core/internal/protocol"
	"github.com/estuary/capture-core/internal/shape"
	"github.com/estuary/capture-core/internal/tuple"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.gazette.dev/core/broker/client"
)

// shapeCacheSize bounds the per-binding shape table: a session that has
// run many backfill generations accumulates one state_key per generation,
// and only the most recently touched ones are worth keeping warm.
const shapeCacheSize = 1024

// State is one of the session's lifecycle states.
type State int

const (
	StateInit State = iota
	StateOpened
	StateIdle
	StateAccumulating
	StateDraining
	StateCommitting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateOpened:
		return "Opened"
	case StateIdle:
		return "Idle"
	case StateAccumulating:
		return "Accumulating"
	case StateDraining:
		return "Draining"
	case StateCommitting:
		return "Committing"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// stateSlotKey is the fixed, empty tuple used as the connector-state
// binding's singleton key: there is exactly one state document per
// session, not one per extracted key.
var stateSlotKey = tuple.Tuple{}

// PendingOpen is returned by RecvClientFirstOpen and threaded through to
// RecvConnectorOpened, carrying the store across the connector round trip
// (frame emission/transport itself is out of this core's scope).
type PendingOpen struct {
	store *checkpoint.Store
}

// RecvClientFirstOpen opens the session's CheckpointStore. storeDir is the
// descriptor embedded in the Open request's internal extension and is
// passed to checkpoint.Open unchanged; an empty string gets no special
// handling and does not select an ephemeral store.
func RecvClientFirstOpen(storeDir string) (*PendingOpen, error) {
	var store, err = checkpoint.Open(storeDir)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	return &PendingOpen{store: store}, nil
}

// RecvClientOpen merges the request's state_json with any persisted
// connector state, and recomputes every binding's state_key, mutating req
// in place before it is forwarded to the connector.
func RecvClientOpen(pending *PendingOpen, req *protocol.OpenRequest) (*CaptureSpecJSON, error) {
	var spec CaptureSpecJSON
	if err := json.Unmarshal(req.CaptureSpecJSON, &spec); err != nil {
		return nil, &ParseError{Context: "capture spec", Err: err}
	}

	var merged, err = pending.store.LoadConnectorState(orEmptyObject(req.StateJSON))
	if err != nil {
		return nil, &StoreError{Op: "load connector state", Err: err}
	}
	req.StateJSON = merged

	if err := recomputeStateKeys(spec.Bindings); err != nil {
		return nil, &ParseError{Context: "state_key", Err: err}
	}
	// Reflect the recomputed keys back into the JSON the connector receives,
	// since it is keyed by the same bindings slice.
	if spec.Bindings != nil {
		var reencoded, err = json.Marshal(spec)
		if err != nil {
			return nil, &ParseError{Context: "re-encoding capture spec", Err: err}
		}
		req.CaptureSpecJSON = reencoded
	}

	return &spec, nil
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// Session is the capture session state machine.
type Session struct {
	state       State
	store       *checkpoint.Store
	task        *Task
	shapes      []*shape.Shape
	shapesByKey *lru.Cache[string, *shape.Shape]

	accumulating *combine.Accumulator
	draining     *combine.Accumulator
	txn          *Transaction
	pendingTxn   *Transaction // the drained transaction awaiting StartCommit.
	pendingBatch *checkpoint.WriteBatch

	lastSchemaJSON  [][]byte // last schema logged per binding, for SchemaUpdated's diff.
	lastCheckpoints uint32   // Checkpoints pending an Acknowledge to the connector.
	log             *ops.Logger
}

// RecvConnectorOpened finalizes the open handshake: it builds the Task,
// allocates the accumulating combine buffer (the draining one is first
// set by Drain), restores the per-binding
// shape table from shapesByKey (unmatched entries are discarded), and
// loads the last durable runtime checkpoint to attach to the outbound
// Opened response.
func RecvConnectorOpened(
	pending *PendingOpen,
	spec *CaptureSpecJSON,
	opened protocol.ConnectorOpened,
	shapesByKey map[string]*shape.Shape,
	shard ops.ShardRef,
	now time.Time,
) (*Session, protocol.ClientOpened, error) {
	var task, err = newTask(*spec, now)
	if err != nil {
		return nil, protocol.ClientOpened{}, &ParseError{Context: "task", Err: err}
	}
	task.ExplicitAcknowledgements = opened.ExplicitAcknowledgements

	var shapeCache, cacheErr = lru.New[string, *shape.Shape](shapeCacheSize)
	if cacheErr != nil {
		return nil, protocol.ClientOpened{}, &ResourceError{Op: "allocate shape cache", Err: cacheErr}
	}

	var shapes = make([]*shape.Shape, len(task.Bindings))
	for i, b := range task.Bindings {
		if restored, ok := shapesByKey[b.StateKey]; ok {
			shapes[i] = restored
		} else {
			shapes[i] = shape.New()
		}
		shapeCache.Add(b.StateKey, shapes[i])
	}

	var checkpointBytes, cpErr = pending.store.LoadCheckpoint()
	if cpErr != nil {
		return nil, protocol.ClientOpened{}, &StoreError{Op: "load checkpoint", Err: cpErr}
	}

	var specsByBinding = combineSpecsByBinding(task)
	var s = &Session{
		state:          StateIdle,
		store:          pending.store,
		task:           task,
		shapes:         shapes,
		shapesByKey:    shapeCache,
		accumulating:   combine.New(specsByBinding, ""),
		draining:       nil,
		lastSchemaJSON: make([][]byte, len(task.Bindings)),
		log:            ops.NewLogger(shard),
	}
	s.log.Transition(StateOpened.String(), s.state.String())

	return s, protocol.ClientOpened{
		ExplicitAcknowledgements: opened.ExplicitAcknowledgements,
		RuntimeCheckpoint:        checkpointBytes,
	}, nil
}

// ShapesByKey returns a snapshot of the bounded per-state_key shape table,
// suitable for seeding a subsequent session's RecvConnectorOpened after a
// restart. Entries evicted by the LRU bound are simply absent, matching
// how a fresh Shape would be built for that binding anyway.
func (s *Session) ShapesByKey() map[string]*shape.Shape {
	var out = make(map[string]*shape.Shape, s.shapesByKey.Len())
	for _, key := range s.shapesByKey.Keys() {
		if v, ok := s.shapesByKey.Peek(key); ok {
			out[key] = v
		}
	}
	return out
}

func combineSpecsByBinding(task *Task) map[int]combine.Spec {
	var out = make(map[int]combine.Spec, len(task.Bindings)+1)
	for i, b := range task.Bindings {
		out[i] = b.CombineSpec
	}
	// The connector-state slot always reduces via whole-document JSON
	// merge patch, regardless of any client-declared combine spec.
	out[task.StateSlotIndex()] = combine.Spec{
		FieldReducers: map[string]combine.Reducer{"": combine.JsonMergePatch},
		WholeDocument: true,
	}
	return out
}

func (s *Session) ensureTxn(now time.Time) {
	if s.txn == nil {
		s.txn = newTransaction(now)
		var from = s.state.String()
		s.state = StateAccumulating
		s.log.Transition(from, s.state.String())
	}
}

// RecvConnectorCaptured parses a captured document, injects the UUID
// placeholder if configured, and adds it to the accumulating buffer.
func (s *Session) RecvConnectorCaptured(binding int, docJSON json.RawMessage, now time.Time) error {
	if binding < 0 || binding >= len(s.task.Bindings) {
		return mismatch(PartyConnector, "Captured with valid binding", fmt.Sprintf("binding=%d", binding))
	}
	s.ensureTxn(now)

	var doc, err = s.accumulating.ParseJSONStr(string(docJSON))
	if err != nil {
		return &ParseError{Context: "captured document", Err: err}
	}

	var b = s.task.Bindings[binding]
	if b.DocumentUUIDPointer != "" {
		doc = createUUIDPlaceholder(doc, b.DocumentUUIDPointer)
	}

	var key, keyErr = extractTuple(doc, b.KeyPointers)
	if keyErr != nil {
		return &ParseError{Context: "extracting key", Err: keyErr}
	}

	if err := s.accumulating.Add(binding, key, doc, true); err != nil {
		return err
	}

	s.txn.incoming(binding, len(docJSON))
	if s.shapes[binding].Widen(doc) {
		s.txn.UpdatedInferences[binding] = true
		s.shapesByKey.Add(b.StateKey, s.shapes[binding])
	}
	return nil
}

// RecvConnectorCheckpoint folds a connector Checkpoint's state update into
// the connector-state slot of the accumulating buffer.
func (s *Session) RecvConnectorCheckpoint(state *protocol.ConnectorState, now time.Time) error {
	if state == nil {
		return mismatch(PartyConnector, "Checkpoint with state", "Checkpoint without state")
	}
	s.ensureTxn(now)

	var doc, err = s.accumulating.ParseJSONStr(string(state.UpdatedJSON))
	if err != nil {
		return &ParseError{Context: "connector state", Err: err}
	}

	var slot = s.task.StateSlotIndex()
	if !state.MergePatch {
		// Reset: discard whatever the slot held and flag the entry so
		// Drain persists it as a replacement, not a merge onto the
		// durably-stored value.
		if err := s.accumulating.Reset(slot, stateSlotKey); err != nil {
			return err
		}
	}
	if err := s.accumulating.Add(slot, stateSlotKey, doc, true); err != nil {
		return err
	}

	s.txn.Checkpoints++
	return nil
}

// RecvConnectorEOF records that the connector has closed its response
// stream.
func (s *Session) RecvConnectorEOF(now time.Time) {
	s.ensureTxn(now)
	s.txn.ConnectorEOF = true
}

// Poll computes the PollResult for the current transaction.
func (s *Session) Poll(now time.Time) protocol.PollResult {
	if s.txn == nil {
		return protocol.PollNotReady
	}
	switch {
	case s.txn.Checkpoints > 0:
		return protocol.PollReady
	case s.txn.ConnectorEOF && s.task.RestartElapsed(now):
		return protocol.PollRestart
	case s.txn.ConnectorEOF:
		return protocol.PollCoolOff
	default:
		return protocol.PollNotReady
	}
}

// DrainResult carries the frames the session emits after a Ready poll, in
// the exact order they must be sent.
type DrainResult struct {
	Captured    []protocol.ClientCaptured
	MergedState *protocol.ClientCheckpoint // nil if no state update occurred this transaction.
	FinalStats  protocol.ClientCheckpoint
}

// Drain swaps the accumulating and draining buffers, iterates the
// draining buffer's merged contents, and returns the ordered frames to
// send to the client: all Captured frames, then the merged-state
// Checkpoint (if any), then the final stats Checkpoint.
func (s *Session) Drain(now time.Time) (DrainResult, error) {
	var fromAccumulating = s.state.String()
	s.state = StateDraining
	s.log.Transition(fromAccumulating, s.state.String())

	var prevTxn = s.txn
	var prevDraining = s.draining

	s.draining = s.accumulating
	s.accumulating = combine.New(combineSpecsByBinding(s.task), "")
	s.txn = nil

	if prevDraining != nil {
		prevDraining.Close()
	}

	var it, err = s.draining.IntoDrain()
	if err != nil {
		return DrainResult{}, &ResourceError{Op: "drain accumulator", Err: err}
	}

	s.pendingBatch = checkpoint.NewWriteBatch()

	var result DrainResult
	var slot = s.task.StateSlotIndex()
	for {
		var d, ok, drainErr = it.Next()
		if drainErr != nil {
			return DrainResult{}, &ResourceError{Op: "drain iteration", Err: drainErr}
		}
		if !ok {
			break
		}

		if d.Meta.BindingIndex == slot {
			var updatedJSON, marshalErr = json.Marshal(d.Root)
			if marshalErr != nil {
				return DrainResult{}, &ParseError{Context: "merged connector state", Err: marshalErr}
			}
			s.log.StoreWrite(updatedJSON)
			if d.Meta.Flags&combine.FlagReset != 0 {
				// A merge_patch=false Checkpoint occurred this transaction:
				// null out the durable value first so the merge below
				// replaces it outright instead of folding onto whatever
				// was previously persisted.
				s.pendingBatch.PutConnectorState(json.RawMessage("null"))
			}
			s.pendingBatch.MergeConnectorState(updatedJSON)

			result.MergedState = &protocol.ClientCheckpoint{
				State: &protocol.ConnectorState{UpdatedJSON: updatedJSON, MergePatch: true},
			}
			continue
		}

		var b = s.task.Bindings[d.Meta.BindingIndex]
		var partitions, partErr = extractTuple(d.Root, b.PartitionPointers)
		if partErr != nil {
			return DrainResult{}, &ParseError{Context: "extracting partitions", Err: partErr}
		}
		var docJSON, marshalErr = json.Marshal(d.Root)
		if marshalErr != nil {
			return DrainResult{}, &ParseError{Context: "drained document", Err: marshalErr}
		}

		result.Captured = append(result.Captured, protocol.ClientCaptured{
			Binding:          d.Meta.BindingIndex,
			DocJSON:          docJSON,
			KeyPacked:        d.KeyPacked,
			PartitionsPacked: partitions.Pack(),
		})
		prevTxn.outgoing(d.Meta.BindingIndex, len(docJSON))
	}

	var names = make([]string, len(s.task.Bindings))
	for i, b := range s.task.Bindings {
		names[i] = b.CollectionName
	}
	result.FinalStats = protocol.ClientCheckpoint{
		Stats:      refStats(ops.BuildStats(names, prevTxn.Stats, prevTxn.StartedAt)),
		PollResult: protocol.PollResultInvalid,
	}

	s.pendingTxn = prevTxn
	var fromDraining = s.state.String()
	s.state = StateCommitting
	s.log.Transition(fromDraining, s.state.String())
	return result, nil
}

func refStats(s protocol.Stats) *protocol.Stats { return &s }

// StartCommit atomically persists the connector-state merge and the
// client's opaque runtime checkpoint, logs any updated inferred schemas,
// and returns the StartedCommit response alongside an OpFuture the caller
// may await for commit durability. The store write here is synchronous,
// but callers that layer a recovery log or other async durability
// mechanism on top can resolve their own future through the same
// interface, so the commit-wait contract doesn't change shape depending
// on what's underneath it.
func (s *Session) StartCommit(req protocol.StartCommitRequest) (protocol.StartedCommitResponse, client.OpFuture, error) {
	var op = client.NewAsyncOperation()
	var commitID = uuid.NewString()

	if s.pendingBatch == nil {
		var err error = mismatch(PartyClient, "StartCommit after Ready poll", "StartCommit with no pending drain")
		op.Resolve(err)
		return protocol.StartedCommitResponse{}, op, err
	}

	s.pendingBatch.PutCheckpoint(req.RuntimeCheckpoint)

	for binding := range s.pendingTxn.UpdatedInferences {
		var b = s.task.Bindings[binding]
		var schemaJSON = s.shapes[binding].ToSchema()
		s.log.SchemaUpdated(binding, b.CollectionName, s.lastSchemaJSON[binding], schemaJSON)
		s.lastSchemaJSON[binding] = schemaJSON
	}

	if err := s.store.Write(s.pendingBatch); err != nil {
		var wrapped error = &StoreError{Op: "write commit batch", Err: err}
		op.Resolve(wrapped)
		return protocol.StartedCommitResponse{}, op, wrapped
	}

	s.lastCheckpoints += s.pendingTxn.Checkpoints
	s.log.Committed(commitID, s.pendingTxn.Checkpoints)
	s.pendingBatch = nil
	s.pendingTxn = nil
	var fromCommitting = s.state.String()
	s.state = StateIdle
	s.log.Transition(fromCommitting, s.state.String())

	op.Resolve(nil)
	return protocol.StartedCommitResponse{}, op, nil
}

// AcknowledgeIfDue returns an Acknowledge frame to forward to the
// connector, resetting the pending checkpoint counter, or nil if
// acknowledgement isn't due.
func (s *Session) AcknowledgeIfDue() *protocol.ConnectorAcknowledge {
	if !s.task.ExplicitAcknowledgements || s.lastCheckpoints == 0 {
		return nil
	}
	var ack = &protocol.ConnectorAcknowledge{Checkpoints: s.lastCheckpoints}
	s.lastCheckpoints = 0
	return ack
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Fail transitions the session to Failed; no further frames are emitted
// after this call.
func (s *Session) Fail(err error) {
	var from = s.state.String()
	s.state = StateFailed
	s.log.Transition(from, s.state.String())
	if _, aborted := err.(*ActionAbortedError); !aborted {
		s.log.Failed(err)
	}
}

// Close releases the session's store and accumulator resources.
func (s *Session) Close() {
	if s.accumulating != nil {
		s.accumulating.Close()
	}
	if s.draining != nil {
		s.draining.Close()
	}
	s.store.Close()
}
