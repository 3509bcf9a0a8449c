// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/ltr/pkg/ranking"
)

// LambdaPolicy defines a LambdaLoss by its per pair term.
//
// PerPair takes scorePairs and relPairs shaped `[batchSize, listSize, listSize, 2]` built from the scores and
// relevance sorted by the current ranking, so i and j are rank positions, and n shaped `[batchSize]`.
// It returns the loss of each pair shaped `[batchSize, listSize, listSize]`.
type LambdaPolicy interface {
	PerPair(scorePairs, relPairs, n *Node) *Node
}

// Lambda computes the LambdaLoss defined by policy for each query of the batch.
//
// The documents are ranked by their scores (ties broken at random using rngState, padded documents last), the
// scores and relevance are sorted into that ranking, and the per pair losses of all valid pairs of rank positions
// are summed.
//
// It returns the updated RNG state and the loss shaped `[batchSize]`.
func Lambda(policy LambdaPolicy, rngState, scores, relevance, n *Node) (newRngState, loss *Node) {
	s, rel, listSize := prepareBatch(scores, relevance, n)
	var order *Node
	newRngState, order = ranking.RankByScore(rngState, s, n)

	s = ranking.GatherByRanking(ranking.MaskPadded(s, n, 0), order)
	rel = ranking.GatherByRanking(ranking.MaskPadded(rel, n, 0), order)
	pairLosses := policy.PerPair(ranking.Pairs(s), ranking.Pairs(rel), n)
	loss = ReduceSum(maskPairs(pairLosses, n, listSize), 1, 2)
	return
}

// LambdaARP1 is the ARP loss 1: -Σ_i Σ_j log2(σ(s_πi - s_πj))^{y_πi}.
type LambdaARP1 struct {
	// Sigma is the steepness of the logistic curve. 0 means DefaultSigma.
	Sigma float64
}

// PerPair implements LambdaPolicy.
func (l LambdaARP1) PerPair(scorePairs, relPairs, n *Node) *Node {
	scoreDiffs, _ := pairDiffs(scorePairs, relPairs)
	relFirst, _ := ranking.SplitPairs(relPairs)
	return Mul(relFirst, logisticLoss(scoreDiffs, sigmaOrDefault(l.Sigma)))
}

// LambdaARP2 is the ARP loss 2: -Σ_{y_πi > y_πj} (y_πi - y_πj) log2(σ(s_πi - s_πj)).
type LambdaARP2 struct {
	// Sigma is the steepness of the logistic curve. 0 means DefaultSigma.
	Sigma float64
}

// PerPair implements LambdaPolicy.
func (l LambdaARP2) PerPair(scorePairs, relPairs, n *Node) *Node {
	scoreDiffs, relDiffs := pairDiffs(scorePairs, relPairs)
	return zeroUnless(positive(relDiffs), Mul(relDiffs, logisticLoss(scoreDiffs, sigmaOrDefault(l.Sigma))))
}

// LambdaNDCG1 is the NDCG loss 1: -Σ_i Σ_j log2(σ(s_πi - s_πj))^{G_πi / D_i}, where G is the exponential gain
// normalized by the ideal DCG of the query and D_i = log2(2+i).
type LambdaNDCG1 struct {
	// Sigma is the steepness of the logistic curve. 0 means DefaultSigma.
	Sigma float64
}

// PerPair implements LambdaPolicy.
func (l LambdaNDCG1) PerPair(scorePairs, relPairs, n *Node) *Node {
	scoreDiffs, _ := pairDiffs(scorePairs, relPairs)
	gainFirst, _ := normalizedGainPairs(relPairs, n)
	dims := gainFirst.Shape().Dimensions
	discounts := ranking.Discounts(gainFirst.Graph(), gainFirst.DType(), dims[1])
	discounts = BroadcastToDims(Reshape(discounts, 1, dims[1], 1), dims...)
	return Mul(Div(gainFirst, discounts), logisticLoss(scoreDiffs, sigmaOrDefault(l.Sigma)))
}

// LambdaNDCG2 is the NDCG loss 2: -Σ_{y_πi > y_πj} log2(σ(s_πi - s_πj))^{δ_ij |G_πi - G_πj|}, where
// δ_ij = |1/D_{|i-j|} - 1/D_{|i-j|+1}| and D_k = log2(2+k).
type LambdaNDCG2 struct {
	// Sigma is the steepness of the logistic curve. 0 means DefaultSigma.
	Sigma float64
}

// PerPair implements LambdaPolicy.
func (l LambdaNDCG2) PerPair(scorePairs, relPairs, n *Node) *Node {
	scoreDiffs, relDiffs := pairDiffs(scorePairs, relPairs)
	gainFirst, gainSecond := normalizedGainPairs(relPairs, n)
	dims := gainFirst.Shape().Dimensions
	g := gainFirst.Graph()

	// distance[i, j] = |i - j| as a float.
	gridShape := shapes.Make(gainFirst.DType(), dims[1], dims[1])
	distance := Abs(Sub(Iota(g, gridShape, 0), Iota(g, gridShape, 1)))
	inverseDiscount := func(offset float64) *Node {
		return Div(OnesLike(distance), ranking.Log2(AddScalar(distance, offset)))
	}
	delta := Abs(Sub(inverseDiscount(2), inverseDiscount(3)))
	delta = BroadcastToDims(Reshape(delta, 1, dims[1], dims[2]), dims...)

	exponent := Mul(delta, Abs(Sub(gainFirst, gainSecond)))
	return zeroUnless(positive(relDiffs), Mul(exponent, logisticLoss(scoreDiffs, sigmaOrDefault(l.Sigma))))
}

// normalizedGainPairs returns the pairs of exponential gains divided by the ideal DCG of each query.
func normalizedGainPairs(relPairs, n *Node) (first, second *Node) {
	relFirst, relSecond := ranking.SplitPairs(relPairs)
	dims := relFirst.Shape().Dimensions
	// Every column of relFirst holds the relevance of the row's rank position.
	relevance := ReduceMax(relFirst, 2)
	maxDCG := ranking.IdealDCG(relevance, n, true)
	maxDCG = BroadcastToDims(Reshape(maxDCG, dims[0], 1, 1), dims...)
	first = Div(ranking.Gain(relFirst, true), maxDCG)
	second = Div(ranking.Gain(relSecond, true), maxDCG)
	return
}

var (
	_ LambdaPolicy = LambdaARP1{}
	_ LambdaPolicy = LambdaARP2{}
	_ LambdaPolicy = LambdaNDCG1{}
	_ LambdaPolicy = LambdaNDCG2{}
)
