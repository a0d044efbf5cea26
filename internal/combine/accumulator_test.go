package combine

import (
	"encoding/json"
	"testing"

	"github.com/estuary/capture-core/internal/tuple"
	"github.com/stretchr/testify/require"
)

func drainAll(t *testing.T, acc *Accumulator) []DrainedDoc {
	t.Helper()
	var it, err = acc.IntoDrain()
	require.NoError(t, err)

	var out []DrainedDoc
	for {
		var d, ok, err = it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, d)
	}
	return out
}

func TestDrainOrdersByBindingThenKey(t *testing.T) {
	var acc = New(nil, t.TempDir())
	defer acc.Close()

	require.NoError(t, acc.Add(1, tuple.Tuple{int64(5)}, "b1-k5", false))
	require.NoError(t, acc.Add(0, tuple.Tuple{int64(9)}, "b0-k9", false))
	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, "b0-k1", false))

	var drained = drainAll(t, acc)
	require.Len(t, drained, 3)
	require.Equal(t, "b0-k1", drained[0].Root)
	require.Equal(t, "b0-k9", drained[1].Root)
	require.Equal(t, "b1-k5", drained[2].Root)
}

func TestDuplicateKeysCombineIntoOneEntry(t *testing.T) {
	var specs = map[int]Spec{0: {FieldReducers: map[string]Reducer{"/n": Sum}}}
	var acc = New(specs, t.TempDir())
	defer acc.Close()

	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, map[string]interface{}{"n": float64(1)}, true))
	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, map[string]interface{}{"n": float64(2)}, true))

	var drained = drainAll(t, acc)
	require.Len(t, drained, 1)
	require.Equal(t, map[string]interface{}{"n": float64(3)}, drained[0].Root)
}

func TestNonFullReduceOverwritesWithLatest(t *testing.T) {
	var acc = New(nil, t.TempDir())
	defer acc.Close()

	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, "first", false))
	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, "second", false))

	var drained = drainAll(t, acc)
	require.Len(t, drained, 1)
	require.Equal(t, "second", drained[0].Root)
}

func TestBindingIndexPreventsKeyCollision(t *testing.T) {
	var acc = New(nil, t.TempDir())
	defer acc.Close()

	require.NoError(t, acc.Add(0, tuple.Tuple{int64(7)}, "from-binding-0", false))
	require.NoError(t, acc.Add(1, tuple.Tuple{int64(7)}, "from-binding-1", false))

	var drained = drainAll(t, acc)
	require.Len(t, drained, 2)
	require.Equal(t, 0, drained[0].Meta.BindingIndex)
	require.Equal(t, 1, drained[1].Meta.BindingIndex)
}

func TestSpillAndDrainRoundTripsAcrossMultipleRuns(t *testing.T) {
	var acc = New(nil, t.TempDir())
	defer acc.Close()

	// Use strings so identity survives a JSON round trip through a
	// spilled run exactly as it would for an un-spilled memtable entry.
	for i := 0; i < 10; i++ {
		require.NoError(t, acc.Add(0, tuple.Tuple{int64(i)}, docLabel(i), false))
	}
	// Force at least one spill so the drain exercises the k-way merge
	// across a spilled run plus the live memtable.
	require.NoError(t, acc.spill())
	require.NoError(t, acc.Add(0, tuple.Tuple{int64(10)}, docLabel(10), false))

	var drained = drainAll(t, acc)
	require.Len(t, drained, 11)
	for i, d := range drained {
		require.Equal(t, docLabel(i), d.Root)
	}
}

func docLabel(i int) string {
	return "doc-" + string(rune('a'+i))
}

func TestAddAfterDrainErrors(t *testing.T) {
	var acc = New(nil, t.TempDir())
	defer acc.Close()

	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, "x", false))
	var _, err = acc.IntoDrain()
	require.NoError(t, err)

	require.Error(t, acc.Add(0, tuple.Tuple{int64(2)}, "y", false))
}

func TestParseJSONStrPreservesIntegerNumbers(t *testing.T) {
	var acc = New(nil, t.TempDir())
	defer acc.Close()

	var doc, err = acc.ParseJSONStr(`{"k":1,"v":"a"}`)
	require.NoError(t, err)

	var obj = doc.(map[string]interface{})
	require.Equal(t, json.Number("1"), obj["k"])
	require.Equal(t, "a", obj["v"])
}

func TestResetFlagsTheDrainedEntry(t *testing.T) {
	var specs = map[int]Spec{0: {FieldReducers: map[string]Reducer{"": JsonMergePatch}, WholeDocument: true}}
	var acc = New(specs, t.TempDir())
	defer acc.Close()

	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, map[string]interface{}{"a": json.Number("1"), "b": json.Number("2")}, true))
	require.NoError(t, acc.Reset(0, tuple.Tuple{int64(1)}))
	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, map[string]interface{}{"a": json.Number("9")}, true))

	var drained = drainAll(t, acc)
	require.Len(t, drained, 1)
	require.Equal(t, map[string]interface{}{"a": json.Number("9")}, drained[0].Root)
	require.NotZero(t, drained[0].Meta.Flags&FlagReset)
}

func TestResetFlagSurvivesASpillBoundary(t *testing.T) {
	var specs = map[int]Spec{0: {FieldReducers: map[string]Reducer{"": JsonMergePatch}, WholeDocument: true}}
	var acc = New(specs, t.TempDir())
	defer acc.Close()

	require.NoError(t, acc.Reset(0, tuple.Tuple{int64(1)}))
	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, map[string]interface{}{"a": json.Number("1")}, true))
	require.NoError(t, acc.spill())
	require.NoError(t, acc.Add(0, tuple.Tuple{int64(1)}, map[string]interface{}{"a": json.Number("9")}, true))

	var drained = drainAll(t, acc)
	require.Len(t, drained, 1)
	require.Equal(t, map[string]interface{}{"a": json.Number("9")}, drained[0].Root)
	require.NotZero(t, drained[0].Meta.Flags&FlagReset)
}

func TestParseJSONStrRejectsInvalidJSON(t *testing.T) {
	var acc = New(nil, t.TempDir())
	defer acc.Close()

	var _, err = acc.ParseJSONStr(`not json`)
	require.Error(t, err)
}
