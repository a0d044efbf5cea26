package session

import (
	"encoding/base32"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/capture-core/internal/combine"
)

// BindingSpec is the wire shape of one binding within a CaptureSpecJSON
// payload, plus the combine specification needed to build a combine.Spec.
type BindingSpec struct {
	CollectionName      string            `json:"collectionName"`
	ResourcePath        []string          `json:"resourcePath"`
	Backfill            int               `json:"backfill"`
	KeyPointers         []string          `json:"keyPointers"`
	PartitionPointers   []string          `json:"partitionPointers"`
	DocumentUUIDPointer string            `json:"documentUuidPointer"`
	FieldReducers       map[string]string `json:"fieldReducers"`
	StateKey            string            `json:"stateKey"`
}

// CaptureSpecJSON is the decoded shape of an OpenRequest.CaptureSpecJSON
// payload.
type CaptureSpecJSON struct {
	EndpointType             string        `json:"endpointType"`
	ExplicitAcknowledgements bool          `json:"explicitAcknowledgements"`
	RestartAfter              string        `json:"restartAfter"` // Go duration string, e.g. "30s".
	Bindings                  []BindingSpec `json:"bindings"`
}

// Binding is the runtime-resolved descriptor for one capture stream.
type Binding struct {
	CollectionName       string
	KeyPointers           []string
	PartitionPointers     []string
	DocumentUUIDPointer   string
	StateKey              string
	CombineSpec           combine.Spec
}

// Task is the immutable snapshot of an open session.
type Task struct {
	Bindings                 []Binding
	ExplicitAcknowledgements bool
	RestartAfter              time.Duration
	OpenedAt                  time.Time
}

// StateSlotIndex returns N: the reserved connector-state binding index,
// one past the last real binding.
func (t *Task) StateSlotIndex() int { return len(t.Bindings) }

// RestartElapsed reports whether the task's configured restart interval
// has elapsed since it was opened.
func (t *Task) RestartElapsed(now time.Time) bool {
	if t.RestartAfter <= 0 {
		return false // No restart deadline configured.
	}
	return now.Sub(t.OpenedAt) >= t.RestartAfter
}

var reducerNames = map[string]combine.Reducer{
	"sum":            combine.Sum,
	"merge":          combine.Merge,
	"lastWriteWins":  combine.LastWriteWins,
	"firstWriteWins": combine.FirstWriteWins,
	"set":            combine.Set,
	"jsonMergePatch": combine.JsonMergePatch,
}

func parseCombineSpec(fieldReducers map[string]string) (combine.Spec, error) {
	var out = combine.Spec{FieldReducers: make(map[string]combine.Reducer, len(fieldReducers))}
	for pointer, name := range fieldReducers {
		var r, ok = reducerNames[name]
		if !ok {
			return combine.Spec{}, fmt.Errorf("unknown reducer %q for field %q", name, pointer)
		}
		out.FieldReducers[pointer] = r
	}
	return out, nil
}

// encodeStateKey derives a stable, restart-durable identifier from a
// binding's resource path and backfill counter: the JSON-encoded resource
// path, base32-encoded so it is safe to use as a map key and a log field
// without further escaping, followed by ";" and the zero-padded backfill
// counter.
func encodeStateKey(resourcePath []string, backfill int) (string, error) {
	var b, err = json.Marshal(resourcePath)
	if err != nil {
		return "", err
	}
	var encoded = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	return fmt.Sprintf("%s;%02d", encoded, backfill), nil
}

// recomputeStateKeys overwrites every binding's StateKey by recomputing it
// from (resourcePath, backfill), discarding any client-supplied value.
//
// TODO(johnny): Switch to erroring if state_key is not already populated.
func recomputeStateKeys(specs []BindingSpec) error {
	for i := range specs {
		var key, err = encodeStateKey(specs[i].ResourcePath, specs[i].Backfill)
		if err != nil {
			return fmt.Errorf("encoding state_key for binding %d: %w", i, err)
		}
		specs[i].StateKey = key
	}
	return nil
}

func newTask(spec CaptureSpecJSON, openedAt time.Time) (*Task, error) {
	var restart time.Duration
	if spec.RestartAfter != "" {
		var d, err = time.ParseDuration(spec.RestartAfter)
		if err != nil {
			return nil, fmt.Errorf("parsing restartAfter: %w", err)
		}
		restart = d
	}

	var bindings = make([]Binding, len(spec.Bindings))
	for i, b := range spec.Bindings {
		var cs, err = parseCombineSpec(b.FieldReducers)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", i, err)
		}
		bindings[i] = Binding{
			CollectionName:      b.CollectionName,
			KeyPointers:         b.KeyPointers,
			PartitionPointers:   b.PartitionPointers,
			DocumentUUIDPointer: b.DocumentUUIDPointer,
			StateKey:            b.StateKey,
			CombineSpec:         cs,
		}
	}

	return &Task{
		Bindings:                 bindings,
		ExplicitAcknowledgements: spec.ExplicitAcknowledgements,
		RestartAfter:             restart,
		OpenedAt:                 openedAt,
	}, nil
}
