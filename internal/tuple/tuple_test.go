package tuple_test

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/estuary/capture-core/internal/tuple"
	"github.com/stretchr/testify/require"
)

func TestPackedOrderingMatchesValueOrdering(t *testing.T) {
	var ints = []int64{-1 << 40, -500, -3, -1, 0, 1, 2, 500, 1 << 40}
	var packed [][]byte
	for _, v := range ints {
		packed = append(packed, tuple.Tuple{v}.Pack())
	}
	for i := 1; i < len(packed); i++ {
		require.True(t, bytes.Compare(packed[i-1], packed[i]) < 0,
			"expected %v < %v", ints[i-1], ints[i])
	}
}

func TestStringOrderingPreserved(t *testing.T) {
	var strs = []string{"", "a", "aa", "b", "ba", "\x00embedded"}
	sort.Strings(strs)

	var packed [][]byte
	for _, s := range strs {
		packed = append(packed, tuple.Tuple{s}.Pack())
	}
	for i := 1; i < len(packed); i++ {
		require.True(t, bytes.Compare(packed[i-1], packed[i]) <= 0)
	}
}

func TestMultiElementTuplesCompareFieldByField(t *testing.T) {
	var a = tuple.Tuple{int64(1), "x"}.Pack()
	var b = tuple.Tuple{int64(1), "y"}.Pack()
	var c = tuple.Tuple{int64(2), "a"}.Pack()

	require.True(t, bytes.Compare(a, b) < 0)
	require.True(t, bytes.Compare(b, c) < 0)
}

func TestShuffledIntsSortCorrectly(t *testing.T) {
	var rng = rand.New(rand.NewSource(42))
	var ints = make([]int64, 200)
	for i := range ints {
		ints[i] = rng.Int63() - (1 << 62)
	}

	var sorted = append([]int64(nil), ints...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	sort.Slice(ints, func(i, j int) bool {
		return bytes.Compare(tuple.Tuple{ints[i]}.Pack(), tuple.Tuple{ints[j]}.Pack()) < 0
	})

	require.Equal(t, sorted, ints)
}
