// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/ltr/internal/ltrtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	lambdaScores    = [][]float64{{0.5, 2.0, 1.0}, {0.9, -1.2, 0.0}}
	lambdaRelevance = [][]int32{{2, 0, 1}, {0, 1, 0}}
	lambdaN         = []int32{3, 2}
)

func lambdaLoss(t *testing.T, policy LambdaPolicy, scores, relevance any, n []int32) []float64 {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		_, loss := Lambda(policy, p[0], p[1], p[2], p[3])
		return []*Node{loss}
	}, ltrtest.RNGState(t, 42), scores, relevance, n)
	return got[0].([]float64)
}

func TestLambdaLosses(t *testing.T) {
	testCases := []struct {
		name   string
		policy LambdaPolicy
		want   []float64
	}{
		{"ARP1", LambdaARP1{}, []float64{13.298417091369629, 4.196318626403809}},
		{"ARP2", LambdaARP2{}, []float64{8.209173202514648, 3.1963188648223877}},
		{"NDCG1", LambdaNDCG1{}, []float64{2.629549503326416, 2.647582530975342}},
		{"NDCG2", LambdaNDCG2{}, []float64{0.3102627396583557, 0.4184933304786682}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := lambdaLoss(t, tc.policy, lambdaScores, lambdaRelevance, lambdaN)
			assert.InDeltaSlice(t, tc.want, got, 1e-4)
		})
	}
}

func TestLambdaPaddingIgnored(t *testing.T) {
	got := lambdaLoss(t, LambdaARP1{Sigma: 1}, [][]float64{{0.9, -1.2, 100}}, [][]int32{{0, 1, 5}}, []int32{2})
	assert.InDeltaSlice(t, []float64{4.196318626403809}, got, 1e-4)
}

func TestLambdaGradient(t *testing.T) {
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		_, loss := Lambda(LambdaNDCG2{}, p[0], p[1], p[2], p[3])
		return Gradient(ReduceAllSum(loss), p[1])
	}, ltrtest.RNGState(t, 42), lambdaScores, lambdaRelevance, lambdaN)
	grad := got[0].([][]float64)
	// Raising the score of the most relevant document lowers the loss.
	assert.Less(t, grad[0][0], 0.0)
	// Padded documents get no gradient.
	assert.Equal(t, 0.0, grad[1][2])
}

func TestMakeLambdaLossFn(t *testing.T) {
	lossFn := MakeLambdaLossFn(LambdaARP1{}, 42)
	got := ltrtest.Run(t, func(g *Graph, p []*Node) []*Node {
		return []*Node{lossFn([]*Node{p[1], p[2]}, []*Node{p[0]})}
	}, lambdaScores, lambdaRelevance, lambdaN)
	require.Len(t, got, 1)
	assert.InDelta(t, (13.298417091369629+4.196318626403809)/2, got[0], 1e-4)
}

func TestLambdaShapeMismatch(t *testing.T) {
	ltrtest.BuildPanics(t, func(g *Graph, p []*Node) []*Node {
		_, loss := Lambda(LambdaARP1{}, Const(g, ltrtest.RNGState(t, 1)), p[0], p[1], p[2])
		return []*Node{loss}
	}, [][]float64{{1, 2}}, [][]int32{{1, 0, 1}}, []int32{2})
}
