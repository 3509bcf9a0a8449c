// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics implements batched ranking metrics (DCG, NDCG and ARP) as graph building functions, and the
// export of ranked lists to the TREC evaluation interchange format.
//
// Metrics rank the documents by score with ties broken at random, so they take and return an RNG state.
package metrics

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/ltr/pkg/ranking"
)

// FullCurve can be given as k to DCG and NDCG to get the metric at every rank cutoff.
const FullCurve = 0

// metricDType returns the float dtype used to compute metrics over scores.
func metricDType(scores *Node) dtypes.DType {
	if scores.DType().IsFloat() {
		return scores.DType()
	}
	return dtypes.Float32
}

// Rank returns the ranking the metrics of this package evaluate for the same rngState: documents by descending
// score (converted to the metric dtype), ties broken at random and padded documents last.
func Rank(rngState, scores, n *Node) (newRngState, order *Node) {
	dtype := metricDType(scores)
	scores = ranking.AsMatrix(scores)
	if scores.DType() != dtype {
		scores = ConvertDType(scores, dtype)
	}
	return ranking.RankByScore(rngState, scores, n)
}

// rankedRelevance ranks the documents by score and returns the relevance in rank order (padded entries set to 0),
// converted to the metric dtype.
func rankedRelevance(rngState, scores, relevance, n *Node) (newRngState, ranked *Node) {
	ranking.CheckSameBatch(scores, relevance, n)
	dtype := metricDType(scores)
	rel := ranking.AsMatrix(relevance)
	if rel.DType() != dtype {
		rel = ConvertDType(rel, dtype)
	}
	var order *Node
	newRngState, order = Rank(rngState, scores, n)
	ranked = ranking.GatherByRanking(ranking.MaskPadded(rel, n, 0), order)
	return
}

// DCGCurve returns the DCG of the ranking induced by scores at every rank cutoff, shaped `[batchSize, listSize]`:
// entry (b, k) is the DCG of the top k+1 documents of query b.
//
// If exp is true the gain is 2^rel - 1, otherwise rel. Padded documents contribute 0.
func DCGCurve(rngState, scores, relevance, n *Node, exp bool) (newRngState, curve *Node) {
	var ranked *Node
	newRngState, ranked = rankedRelevance(rngState, scores, relevance, n)
	curve = ranking.DCGCurve(ranking.Gain(ranked, exp), n)
	return
}

// DCG returns the discounted cumulative gain at cutoff k of the ranking induced by scores, shaped `[batchSize]`.
// Cutoffs larger than the list size are clamped to it.
//
// If k <= 0 (see FullCurve) it returns the full curve instead, shaped `[batchSize, listSize]` (see DCGCurve).
func DCG(rngState, scores, relevance, n *Node, k int, exp bool) (newRngState, dcg *Node) {
	var curve *Node
	newRngState, curve = DCGCurve(rngState, scores, relevance, n, exp)
	dcg = AtCutoff(curve, k)
	return
}

// NDCG returns the DCG at cutoff k normalized by the DCG of the ideal ranking (documents sorted by their own
// relevance) at the same cutoff. Queries without relevant documents get 0.
//
// If k <= 0 (see FullCurve) it returns the full curve, shaped `[batchSize, listSize]`.
func NDCG(rngState, scores, relevance, n *Node, k int, exp bool) (newRngState, ndcg *Node) {
	var curve *Node
	newRngState, curve = DCGCurve(rngState, scores, relevance, n, exp)
	ideal := ranking.IdealDCGCurve(relevance, n, exp)
	if ideal.DType() != curve.DType() {
		ideal = ConvertDType(ideal, curve.DType())
	}
	ndcg = Div(AtCutoff(curve, k), ranking.NonZeroDivisor(AtCutoff(ideal, k)))
	return
}

// AtCutoff selects the value of a metric curve shaped `[batchSize, listSize]` at cutoff k (clamped to listSize),
// returning a `[batchSize]` tensor. If k <= 0 the curve is returned unchanged.
func AtCutoff(curve *Node, k int) *Node {
	if k <= 0 {
		return curve
	}
	if curve.Rank() != 2 {
		Panicf("metrics: expected a curve shaped [batchSize, listSize], got %s", curve.Shape())
	}
	dims := curve.Shape().Dimensions
	k = min(k, dims[1])
	return Reshape(Slice(curve, AxisRange(), AxisRange(k-1, k)), dims[0])
}

// ARP returns the average relevant position of the ranking induced by scores, shaped `[batchSize]`:
// Σ_r (r+1)·rel_r / Σ_r rel_r, with r the 0-based rank. Queries without relevant documents get 0.
func ARP(rngState, scores, relevance, n *Node) (newRngState, arp *Node) {
	var ranked *Node
	newRngState, ranked = rankedRelevance(rngState, scores, relevance, n)
	g := ranked.Graph()
	positions := AddScalar(Iota(g, ranked.Shape(), 1), 1)
	numerator := ReduceSum(Mul(positions, ranked), 1)
	denominator := ranking.NonZeroDivisor(ReduceSum(ranked, 1))
	arp = Div(numerator, denominator)
	return
}
