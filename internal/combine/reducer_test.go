package combine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplySum(t *testing.T) {
	var out, err = Apply(Sum, float64(2), float64(3))
	require.NoError(t, err)
	require.Equal(t, float64(5), out)
}

func TestApplyLastWriteWins(t *testing.T) {
	var out, err = Apply(LastWriteWins, "old", "new")
	require.NoError(t, err)
	require.Equal(t, "new", out)
}

func TestApplyFirstWriteWins(t *testing.T) {
	var out, err = Apply(FirstWriteWins, "old", "new")
	require.NoError(t, err)
	require.Equal(t, "old", out)
}

func TestApplyMergeDeepMergesObjects(t *testing.T) {
	var left = map[string]interface{}{"a": float64(1), "nested": map[string]interface{}{"x": float64(1)}}
	var right = map[string]interface{}{"b": float64(2), "nested": map[string]interface{}{"y": float64(2)}}

	var out, err = Apply(Merge, left, right)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{
		"a": float64(1),
		"b": float64(2),
		"nested": map[string]interface{}{
			"x": float64(1),
			"y": float64(2),
		},
	}, out)
}

func TestApplyMergeConcatenatesArrays(t *testing.T) {
	var out, err = Apply(Merge, []interface{}{float64(1)}, []interface{}{float64(2)})
	require.NoError(t, err)
	require.Equal(t, []interface{}{float64(1), float64(2)}, out)
}

func TestApplySetUnionsAndDeduplicates(t *testing.T) {
	var out, err = Apply(Set, []interface{}{"a", "b"}, []interface{}{"b", "c"})
	require.NoError(t, err)
	require.ElementsMatch(t, []interface{}{"a", "b", "c"}, out)
}

func TestApplyJsonMergePatchDeletesOnNull(t *testing.T) {
	var left = map[string]interface{}{"a": float64(1), "b": float64(2)}
	var right = map[string]interface{}{"b": nil}

	var out, err = Apply(JsonMergePatch, left, right)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"a": float64(1)}, out)
}

func TestApplySumRejectsNonNumeric(t *testing.T) {
	var _, err = Apply(Sum, "x", float64(1))
	require.Error(t, err)
}

func TestReduceDocumentsAppliesPerFieldReducers(t *testing.T) {
	var spec = Spec{FieldReducers: map[string]Reducer{
		"/count": Sum,
		"/name":  LastWriteWins,
	}}

	var left = map[string]interface{}{"count": float64(1), "name": "a"}
	var right = map[string]interface{}{"count": float64(2), "name": "b"}

	var out, err = ReduceDocuments(spec, left, right)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"count": float64(3), "name": "b"}, out)
}

func TestReduceDocumentsDefaultsUnconfiguredFieldsToLastWriteWins(t *testing.T) {
	var spec = Spec{}
	var left = map[string]interface{}{"x": "old"}
	var right = map[string]interface{}{"x": "new"}

	var out, err = ReduceDocuments(spec, left, right)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"x": "new"}, out)
}

func TestReduceDocumentsWholeDocumentAppliesRootReducerEvenForObjects(t *testing.T) {
	var spec = Spec{
		FieldReducers: map[string]Reducer{"": JsonMergePatch},
		WholeDocument: true,
	}
	var left = map[string]interface{}{"a": float64(1), "b": float64(2)}
	var right = map[string]interface{}{"b": nil, "c": float64(3)}

	var out, err = ReduceDocuments(spec, left, right)
	require.NoError(t, err)
	// A per-field fold would keep "b" at its prior value (Apply ignores a
	// nil right-hand side); whole-document merge-patch semantics delete it
	// instead.
	require.Equal(t, map[string]interface{}{"a": float64(1), "c": float64(3)}, out)
}
