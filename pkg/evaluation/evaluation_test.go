// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"math"
	"sync"
	"testing"

	"github.com/gomlx/ltr/internal/ltrtest"
	"github.com/gomlx/ltr/pkg/clicks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) *Evaluator {
	e := New(ltrtest.Backend())
	t.Cleanup(e.Finalize)
	return e
}

func TestRank(t *testing.T) {
	e := newEvaluator(t)
	got, err := e.Rank([][]float32{{1, 3, 2}, {1, 3, 9}}, []int32{3, 2})
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{1, 2, 0}, {1, 0, 2}}, got.Value())

	_, err = e.Rank([][]float32{{1, 3, 2}}, []int32{3, 2})
	assert.Error(t, err, "batch sizes don't match")
}

func TestRankReproducible(t *testing.T) {
	ties := [][]float32{{0, 0, 0, 0, 0, 0, 0, 0}}
	n := []int32{8}
	rank := func(e *Evaluator) []int32 {
		got, err := e.Rank(ties, n)
		require.NoError(t, err)
		return got.Value().([][]int32)[0]
	}
	first := rank(newEvaluator(t).WithSeed(7))
	second := rank(newEvaluator(t).WithSeed(7))
	assert.Equal(t, first, second)
	assert.ElementsMatch(t, []int32{0, 1, 2, 3, 4, 5, 6, 7}, first)
}

func TestMetrics(t *testing.T) {
	e := newEvaluator(t)
	scores := [][]float32{{3, 2, 1}, {1, 2, 100}}
	relevance := [][]int32{{0, 1, 2}, {0, 0, 5}}
	n := []int32{3, 2}

	result, err := e.Metrics(scores, relevance, n, 3)
	require.NoError(t, err)
	dcg := 1/math.Log2(3) + 2/math.Log2(4)
	ideal := 2 + 1/math.Log2(3)
	assert.InDeltaSlice(t, []float64{dcg, 0}, result.DCG, 1e-5)
	assert.InDeltaSlice(t, []float64{dcg / ideal, 0}, result.NDCG, 1e-5)
	assert.InDeltaSlice(t, []float64{8.0 / 3, 0}, result.ARP, 1e-5)
	require.Len(t, result.NDCGCurve, 2)
	assert.InDeltaSlice(t, []float64{0, (1 / math.Log2(3)) / ideal, dcg / ideal}, result.NDCGCurve[0], 1e-5)

	result, err = e.Metrics(scores, relevance, n, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0}, result.NDCG, 1e-5)

	e.WithExponentialGain(true)
	result, err = e.Metrics(scores, relevance, n, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Log2(3)+3/math.Log2(4), result.DCG[0], 1e-5)
}

func TestMetricsRanking(t *testing.T) {
	e := newEvaluator(t).WithSeed(11)
	// All scores tie, so the metrics depend on the random tie-breaking.
	scores := [][]float32{{1, 1, 1, 1, 1, 1}, {2, 2, 2, 2, 0, 0}}
	relevance := [][]int32{{0, 1, 2, 3, 4, 5}, {5, 0, 3, 1, 9, 9}}
	n := []int32{6, 4}
	for range 5 {
		result, err := e.Metrics(scores, relevance, n, 0)
		require.NoError(t, err)
		require.NotNil(t, result.Ranking)
		rankings := result.Ranking.Value().([][]int32)
		for b, order := range rankings {
			require.ElementsMatch(t, []int32{0, 1, 2, 3, 4, 5}, order)
			var dcg, weighted, total float64
			for r := range int(n[b]) {
				rel := float64(relevance[b][order[r]])
				dcg += rel / math.Log2(float64(r+2))
				weighted += float64(r+1) * rel
				total += rel
			}
			assert.InDelta(t, dcg, result.DCG[b], 1e-5, "DCG of query %d must match its ranking", b)
			assert.InDelta(t, weighted/total, result.ARP[b], 1e-5, "ARP of query %d must match its ranking", b)
		}
	}
}

func TestLoss(t *testing.T) {
	e := newEvaluator(t)
	got, err := e.Loss("hinge",
		[][]float64{{0, 10, 1, 0.5, 1}, {1, 3.5, 6, 4.3, 10}},
		[][]int32{{0, 2, 1, 2, 1}, {1, 2, 2, 1, 0}},
		[]int32{5, 4})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3.5, 1.8}, got.Value(), 1e-6)

	for _, name := range LossNames {
		got, err := e.Loss(name, [][]float32{{0.5, 2, 1}, {0.9, -1.2, 0}}, [][]int32{{2, 0, 1}, {0, 1, 0}},
			[]int32{3, 2})
		require.NoErrorf(t, err, "loss %q", name)
		values, err := TensorToFloats(got)
		require.NoError(t, err)
		require.Len(t, values, 2)
		for _, v := range values {
			assert.Falsef(t, math.IsNaN(v), "loss %q", name)
		}
	}

	_, err = e.Loss("listnet", [][]float32{{1}}, [][]int32{{1}}, []int32{1})
	assert.Error(t, err)
	_, err = e.Loss("hinge", [][]int32{{1}}, [][]int32{{1}}, []int32{1})
	assert.Error(t, err, "integer scores")
}

func TestSimulateClicks(t *testing.T) {
	e := newEvaluator(t)
	c, p, err := e.SimulateClicks(clicks.Perfect, [][]int32{{2, 0, 1}}, [][]int32{{4, 0, 4}}, []int32{3}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{1, 0, 1}}, c.Value())
	assert.Equal(t, [][]float32{{1, 1, 1}}, p.Value())

	_, _, err = e.SimulateClicks("cascade", [][]int32{{0}}, [][]int32{{0}}, []int32{1}, 0, 1)
	assert.Error(t, err)
}

func TestConcurrentUse(t *testing.T) {
	e := newEvaluator(t)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for ii := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[ii] = e.Metrics([][]float32{{1, 0}}, [][]int32{{1, 0}}, []int32{2}, 2)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}
