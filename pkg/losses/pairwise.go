// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/ltr/pkg/ranking"
)

// PairPolicy defines an additive pairwise loss by its per document pair term.
//
// PerPair takes scorePairs and relPairs shaped `[batchSize, listSize, listSize, 2]` (see ranking.Pairs), where
// entry (b, i, j, :) holds the values of documents i and j, and returns the loss of each pair shaped
// `[batchSize, listSize, listSize]`.
//
// A policy may also implement PairReducer and/or LossModifier to change the default reduction (sum over all
// pairs) and the default final modifier (identity).
type PairPolicy interface {
	PerPair(scorePairs, relPairs *Node) *Node
}

// PairReducer reduces the masked per pair losses `[batchSize, listSize, listSize]` to a loss per query.
type PairReducer interface {
	Reduce(pairLosses *Node) *Node
}

// LossModifier transforms the reduced loss per query.
type LossModifier interface {
	Modify(loss *Node) *Node
}

// AdditivePairwise computes the additive pairwise loss defined by policy for each query of the batch.
//
// Pairs involving padded documents (position >= n[b]) contribute 0. It returns a loss shaped `[batchSize]`.
func AdditivePairwise(policy PairPolicy, scores, relevance, n *Node) *Node {
	s, rel, listSize := prepareBatch(scores, relevance, n)
	s = ranking.MaskPadded(s, n, 0)
	rel = ranking.MaskPadded(rel, n, 0)

	pairLosses := policy.PerPair(ranking.Pairs(s), ranking.Pairs(rel))
	pairLosses = maskPairs(pairLosses, n, listSize)

	var loss *Node
	if reducer, ok := policy.(PairReducer); ok {
		loss = reducer.Reduce(pairLosses)
	} else {
		loss = ReduceSum(pairLosses, 1, 2)
	}
	if modifier, ok := policy.(LossModifier); ok {
		loss = modifier.Modify(loss)
	}
	return loss
}

// pairDiffs returns the differences (first - second) of score and relevance pairs.
func pairDiffs(scorePairs, relPairs *Node) (scoreDiffs, relDiffs *Node) {
	s1, s2 := ranking.SplitPairs(scorePairs)
	r1, r2 := ranking.SplitPairs(relPairs)
	return Sub(s1, s2), Sub(r1, r2)
}

// PairwiseHinge is the RankSVM hinge loss: Σ_{y_i > y_j} max(0, 1 - (s_i - s_j)).
type PairwiseHinge struct{}

// PerPair implements PairPolicy.
func (PairwiseHinge) PerPair(scorePairs, relPairs *Node) *Node {
	scoreDiffs, relDiffs := pairDiffs(scorePairs, relPairs)
	return zeroUnless(positive(relDiffs), MaxScalar(OneMinus(scoreDiffs), 0.0))
}

// PairwiseDCGHinge is the DCG-modified hinge loss: -1 / ln(2 + Σ_{y_i > y_j} max(0, 1 - (s_i - s_j))).
type PairwiseDCGHinge struct {
	PairwiseHinge
}

// Modify implements LossModifier.
func (PairwiseDCGHinge) Modify(loss *Node) *Node {
	return Neg(Div(OnesLike(loss), Log(AddScalar(loss, 2.0))))
}

// PairwiseLogistic is the RankNet logistic loss: Σ_{y_i > y_j} log2(1 + e^{-σ(s_i - s_j)}).
type PairwiseLogistic struct {
	// Sigma is the steepness of the logistic curve. 0 means DefaultSigma.
	Sigma float64
}

// NewPairwiseLogistic returns a PairwiseLogistic with the default steepness.
func NewPairwiseLogistic() PairwiseLogistic {
	return PairwiseLogistic{Sigma: DefaultSigma}
}

// PerPair implements PairPolicy.
func (p PairwiseLogistic) PerPair(scorePairs, relPairs *Node) *Node {
	scoreDiffs, relDiffs := pairDiffs(scorePairs, relPairs)
	return zeroUnless(positive(relDiffs), logisticLoss(scoreDiffs, sigmaOrDefault(p.Sigma)))
}

var (
	_ PairPolicy   = PairwiseHinge{}
	_ LossModifier = PairwiseDCGHinge{}
	_ PairPolicy   = PairwiseLogistic{}
)
