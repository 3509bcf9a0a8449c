// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ranking

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/ltr/internal/ltrtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidMask(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{ValidMask(p[0], 4), ValidPairMask(p[0], 3)}
	}, []int32{3, 1})
	assert.Equal(t, [][]bool{{true, true, true, false}, {true, false, false, false}}, got[0])
	assert.Equal(t, [][][]bool{
		{{true, true, true}, {true, true, true}, {true, true, true}},
		{{true, false, false}, {false, false, false}, {false, false, false}},
	}, got[1])
}

func TestMaskPadded(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{MaskPadded(p[0], p[1], -1), NegInfPadded(p[0], p[1])}
	}, [][]float64{{1, 2, 3}, {4, 5, 6}}, []int32{2, 3})
	assert.Equal(t, [][]float64{{1, 2, -1}, {4, 5, 6}}, got[0])
	assert.Equal(t, [][]float64{{1, 2, math.Inf(-1)}, {4, 5, 6}}, got[1])

	// Column inputs are accepted.
	got = ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{MaskPadded(p[0], p[1], 0)}
	}, [][][]int32{{{1}, {2}}, {{3}, {4}}}, []int32{0, 1})
	assert.Equal(t, [][]int32{{0, 0}, {3, 0}}, got[0])
}

func TestShapeChecks(t *testing.T) {
	ltrtest.BuildPanics(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{AsMatrix(p[0])}
	}, [][][]float32{{{1, 2}}})
	ltrtest.BuildPanics(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{MaskPadded(p[0], p[1], 0)}
	}, [][]float32{{1, 2}}, []int32{1, 2})
	ltrtest.BuildPanics(t, func(g *Graph, p []*Node) []*Node {
		CheckSameBatch(p[0], p[1], p[2])
		return nil
	}, [][]float32{{1, 2}}, [][]float32{{1, 2, 3}}, []int32{2})
}

func TestRankByScore(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		_, ranking := RankByScore(p[0], p[1], p[2])
		return []*Node{ranking}
	}, ltrtest.RNGState(t, 42), [][]float64{{0.5, 2.0, 1.0}, {0.9, -1.2, 0.0}}, []int32{3, 2})
	assert.Equal(t, [][]int32{{1, 2, 0}, {0, 1, 2}}, got[0])

	// Padded documents go last even when their scores are the highest.
	got = ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		_, ranking := RankByScore(p[0], p[1], p[2])
		return []*Node{ranking}
	}, ltrtest.RNGState(t, 7), [][][]float32{{{5}, {1}, {9}, {9}}}, []int32{2})
	ranking := got[0].([][]int32)[0]
	assert.Equal(t, []int32{0, 1}, ranking[:2])
	assert.ElementsMatch(t, []int32{2, 3}, ranking[2:])
}

// runTiebreakTrials executes TiebreakArgSort numTrials times on x, threading the RNG state through the runs, and
// returns the rankings of the first row.
func runTiebreakTrials(t *testing.T, x [][]float32, numTrials int) [][]int32 {
	g := NewGraph(ltrtest.Backend(), "tiebreak")
	state := ltrtest.RNGState(t, 2024)
	rngParam := Parameter(g, "rng", state.Shape())
	xTensor := tensors.FromValue(x)
	xParam := Parameter(g, "x", xTensor.Shape())
	newState, ranking := TiebreakArgSort(rngParam, xParam)
	g.Compile(newState, ranking)
	results := make([][]int32, numTrials)
	for trial := range numTrials {
		outputs := g.Run(state, xTensor)
		state = outputs[0]
		results[trial] = outputs[1].Value().([][]int32)[0]
	}
	return results
}

func TestTiebreakArgSortUniform(t *testing.T) {
	const numTrials = 1000
	results := runTiebreakTrials(t, [][]float32{{3, 3, 3}}, numTrials)
	counts := make(map[string]int)
	for _, ranking := range results {
		require.ElementsMatch(t, []int32{0, 1, 2}, ranking)
		counts[fmt.Sprint(ranking)]++
	}
	require.Len(t, counts, 6, "all permutations of 3 tied documents should show up")
	for perm, count := range counts {
		freq := float64(count) / numTrials
		assert.InDeltaf(t, 1.0/6.0, freq, 0.05, "permutation %s frequency %.3f", perm, freq)
	}
}

func TestTiebreakArgSortRespectsOrder(t *testing.T) {
	results := runTiebreakTrials(t, [][]float32{{2, 1, 2, 1}}, 200)
	firstIsZero := 0
	for _, ranking := range results {
		require.ElementsMatch(t, []int32{0, 2}, ranking[:2])
		require.ElementsMatch(t, []int32{1, 3}, ranking[2:])
		if ranking[0] == 0 {
			firstIsZero++
		}
	}
	assert.InDelta(t, 0.5, float64(firstIsZero)/200, 0.15)
}

func TestStableArgSortDescending(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{StableArgSortDescending(p[0])}
	}, [][]float64{{1, 3, 1, 2, 3}})
	assert.Equal(t, [][]int32{{1, 4, 3, 0, 2}}, got[0])
}

func TestGatherScatterInvert(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		gathered := GatherByRanking(p[0], p[1])
		return []*Node{gathered, ScatterByRanking(gathered, p[1]), InvertRanking(p[1])}
	}, [][]float64{{10, 20, 30}, {1, 2, 3}}, [][]int32{{2, 0, 1}, {0, 1, 2}})
	assert.Equal(t, [][]float64{{30, 10, 20}, {1, 2, 3}}, got[0])
	assert.Equal(t, [][]float64{{10, 20, 30}, {1, 2, 3}}, got[1])
	assert.Equal(t, [][]int32{{1, 2, 0}, {0, 1, 2}}, got[2])
}

func TestGatherByRankingGradient(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		gathered := GatherByRanking(p[0], p[1])
		weights := Const(g, [][]float64{{1, 10, 100}})
		loss := ReduceAllSum(Mul(gathered, weights))
		return Gradient(loss, p[0])
	}, [][]float64{{10, 20, 30}}, [][]int32{{2, 0, 1}})
	// x[2] is at rank 0, x[0] at rank 1 and x[1] at rank 2.
	assert.Equal(t, [][]float64{{10, 100, 1}}, got[0])
}

func TestPairwise(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		pairs := Pairs(p[0])
		first, second := SplitPairs(pairs)
		return []*Node{PairwiseDifference(p[0]), pairs, first, second}
	}, [][]float64{{1, 2, 4}})
	assert.Equal(t, [][][]float64{{{0, -1, -3}, {1, 0, -2}, {3, 2, 0}}}, got[0])
	assert.Equal(t, [][][][]float64{{
		{{1, 1}, {1, 2}, {1, 4}},
		{{2, 1}, {2, 2}, {2, 4}},
		{{4, 1}, {4, 2}, {4, 4}},
	}}, got[1])
	assert.Equal(t, [][][]float64{{{1, 1, 1}, {2, 2, 2}, {4, 4, 4}}}, got[2])
	assert.Equal(t, [][][]float64{{{1, 2, 4}, {1, 2, 4}, {1, 2, 4}}}, got[3])
}

func TestGainsAndDiscounts(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{
			Gain(p[0], true),
			Gain(p[0], false),
			Discounts(g, dtypes.Float64, 3),
			PrefixSum(p[0]),
		}
	}, [][]float64{{0, 1, 2}})
	assert.InDeltaSlice(t, []float64{0, 1, 3}, got[0].([][]float64)[0], 1e-9)
	assert.Equal(t, [][]float64{{0, 1, 2}}, got[1])
	assert.InDeltaSlice(t, []float64{1, math.Log2(3), 2}, got[2].([]float64), 1e-9)
	assert.Equal(t, [][]float64{{0, 1, 3}}, got[3])
}

func TestIdealDCG(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{IdealDCG(p[0], p[1], true), IdealDCG(p[0], p[1], false), IdealDCGCurve(p[0], p[1], true)}
	}, [][]int32{{2, 0, 1}, {0, 1, 0}, {0, 0, 0}, {1, 0, 5}}, []int32{3, 2, 3, 2})
	want := []float32{3 + 1/float32(math.Log2(3)), 1, 1, 1}
	assert.InDeltaSlice(t, want, got[0].([]float32), 1e-5)
	assert.InDeltaSlice(t, []float32{2 + 1/float32(math.Log2(3)), 1, 1, 1}, got[1].([]float32), 1e-5)
	curve := got[2].([][]float32)
	assert.InDeltaSlice(t, []float32{3, want[0], want[0]}, curve[0], 1e-5)
	assert.InDeltaSlice(t, []float32{0, 0, 0}, curve[2], 1e-5)
}

func TestShuffleKeysIsPermutation(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		_, keys := ShuffleKeys(p[0], 7)
		return []*Node{keys}
	}, ltrtest.RNGState(t, 3))
	assert.ElementsMatch(t, []int32{0, 1, 2, 3, 4, 5, 6}, got[0])
}

func TestMaskPaddedValues(t *testing.T) {
	values := [][]float32{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	masked := MaskPaddedValues(values, []int{1, 3}, -1, false)
	assert.Equal(t, [][]float32{{1, -1, -1}, {4, 5, 6}, {-1, -1, -1}}, masked)
	assert.Equal(t, float32(2), values[0][1], "copy must not modify the input")

	inPlace := MaskPaddedValues(values, []int{2, 0, 5}, 0, true)
	assert.Equal(t, [][]float32{{1, 2, 0}, {0, 0, 0}, {7, 8, 9}}, values)
	assert.Equal(t, values, inPlace)
}

func TestShapesHelpers(t *testing.T) {
	got := ltrtest.RunTensors(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{AsColumn(p[0]), AsMatrix(AsColumn(p[0]))}
	}, [][]float32{{1, 2}})
	assert.True(t, got[0].Shape().Equal(shapes.Make(dtypes.Float32, 1, 2, 1)))
	assert.True(t, got[1].Shape().Equal(shapes.Make(dtypes.Float32, 1, 2)))
}

func TestArgSortWithKeys(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{ArgSortWithKeys(p[0], p[1])}
	}, [][]float32{{1, 3, 1, 3}, {2, 2, 2, 0}}, [][]int32{{3, 1, 0, 2}, {2, 0, 1, 3}})
	assert.Equal(t, [][]int32{{1, 3, 2, 0}, {1, 2, 0, 3}}, got[0])

	ltrtest.BuildPanics(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{ArgSortWithKeys(p[0], p[1])}
	}, [][]float32{{1, 3}}, []float32{0, 1})
}

// runPlackettLuceTrials samples numTrials rankings of a single query, threading the RNG state through the runs.
func runPlackettLuceTrials(t *testing.T, scores [][]float32, n []int32, numTrials int) [][]int32 {
	g := NewGraph(ltrtest.Backend(), "plackett_luce")
	state := ltrtest.RNGState(t, 1977)
	rngParam := Parameter(g, "rng", state.Shape())
	scoresTensor, nTensor := tensors.FromValue(scores), tensors.FromValue(n)
	scoresParam := Parameter(g, "scores", scoresTensor.Shape())
	nParam := Parameter(g, "n", nTensor.Shape())
	newState, ranking := RankByPlackettLuce(rngParam, scoresParam, nParam)
	g.Compile(newState, ranking)
	results := make([][]int32, numTrials)
	for trial := range numTrials {
		outputs := g.Run(state, scoresTensor, nTensor)
		state = outputs[0]
		results[trial] = outputs[1].Value().([][]int32)[0]
	}
	return results
}

func TestRankByPlackettLuce(t *testing.T) {
	const numTrials = 2000
	// The padded document has by far the largest score.
	scores := [][]float32{{1, 0, -1, 50}}
	results := runPlackettLuceTrials(t, scores, []int32{3}, numTrials)
	firstCounts := make([]int, 3)
	for _, ranking := range results {
		require.Equal(t, int32(3), ranking[3], "padded document must be last")
		require.ElementsMatch(t, []int32{0, 1, 2}, ranking[:3])
		firstCounts[ranking[0]]++
	}
	normalizer := math.E + 1 + 1/math.E
	wantFirst := []float64{math.E / normalizer, 1 / normalizer, 1 / math.E / normalizer}
	for doc, count := range firstCounts {
		assert.InDeltaf(t, wantFirst[doc], float64(count)/numTrials, 0.04, "top-1 frequency of document %d", doc)
	}
}

func TestRankByPlackettLuceEmptyQuery(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		_, ranking := RankByPlackettLuce(p[0], p[1], p[2])
		return []*Node{ranking}
	}, ltrtest.RNGState(t, 5), [][]float64{{3, 2, 1}, {1, 2, 1000}}, []int32{0, 2})
	rankings := got[0].([][]int32)
	assert.Equal(t, []int32{0, 1, 2}, rankings[0])
	assert.ElementsMatch(t, []int32{0, 1}, rankings[1][:2])
	assert.Equal(t, int32(2), rankings[1][2])
}
