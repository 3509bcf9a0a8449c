// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses implements differentiable learning-to-rank losses as graph building functions.
//
// Two families are provided:
//
//   - AdditivePairwise: losses that sum a per document pair term over all valid pairs of a query, in the
//     original document order (hinge, DCG-hinge and logistic/RankNet losses);
//   - Lambda: LambdaLoss style bounds on ARP and NDCG, where the per pair term depends on the rank positions
//     the current scores give to the documents.
//
// Every loss takes scores shaped `[batchSize, listSize]` (or `[batchSize, listSize, 1]`), relevance with the same
// dimensions (any numeric dtype) and n shaped `[batchSize]` with the number of valid documents per query, and
// returns one loss value per query, shaped `[batchSize]`. Gradients flow back to the scores.
//
// MakeAdditiveLossFn and MakeLambdaLossFn adapt them to the LossFn signature used by GoMLX trainers.
package losses

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/ltr/pkg/ranking"
	"github.com/janpfeifer/must"
)

// LossFn is the signature used by GoMLX trainers: it takes the labels from the dataset and the predictions of the
// model, and returns the loss to be minimized.
//
// For the ranking losses, labels are `[relevance, n]` and predictions are `[scores]`.
type LossFn func(labels, predictions []*Node) (loss *Node)

// DefaultSigma is the steepness of the logistic curve used when a loss is configured with Sigma == 0.
const DefaultSigma = 1.0

// MakeAdditiveLossFn returns a LossFn that computes AdditivePairwise with the given policy and averages it over
// the batch.
func MakeAdditiveLossFn(policy PairPolicy) LossFn {
	return func(labels, predictions []*Node) *Node {
		relevance, n := splitLabels(labels, predictions)
		return ReduceAllMean(AdditivePairwise(policy, predictions[0], relevance, n))
	}
}

// MakeLambdaLossFn returns a LossFn that computes Lambda with the given policy and averages it over the batch.
//
// Ties in the scores are broken with an RNG state created from seed, stored as a constant in each graph, so a
// compiled graph breaks ties the same way at every step.
func MakeLambdaLossFn(policy LambdaPolicy, seed int64) LossFn {
	return func(labels, predictions []*Node) *Node {
		relevance, n := splitLabels(labels, predictions)
		g := predictions[0].Graph()
		rngState := Const(g, must.M1(RNGStateFromSeed(seed)))
		_, loss := Lambda(policy, rngState, predictions[0], relevance, n)
		return ReduceAllMean(loss)
	}
}

func splitLabels(labels, predictions []*Node) (relevance, n *Node) {
	if len(predictions) != 1 {
		Panicf("ranking losses take one prediction (the scores), got %d", len(predictions))
	}
	if len(labels) != 2 {
		Panicf("ranking losses take two labels (relevance and n), got %d", len(labels))
	}
	return labels[0], labels[1]
}

// prepareBatch validates the inputs and returns scores and relevance as matrices of the same float dtype, with
// padded entries zeroed so they can't overflow any per pair computation.
func prepareBatch(scores, relevance, n *Node) (s, rel *Node, listSize int) {
	_, listSize = ranking.CheckSameBatch(scores, relevance, n)
	s = ranking.AsMatrix(scores)
	if !s.DType().IsFloat() {
		Panicf("losses: scores must be a float tensor, got %s", scores.Shape())
	}
	rel = ranking.AsMatrix(relevance)
	if rel.DType() != s.DType() {
		rel = ConvertDType(rel, s.DType())
	}
	rel = StopGradient(rel)
	return s, rel, listSize
}

// maskPairs zeroes the per pair losses of any pair involving a padded document.
func maskPairs(pairLosses, n *Node, listSize int) *Node {
	return Where(ranking.ValidPairMask(n, listSize), pairLosses, ZerosLike(pairLosses))
}

// softplus returns log(1+e^x) without overflowing for large x.
func softplus(x *Node) *Node {
	return Add(MaxScalar(x, 0.0), Log1p(Exp(Neg(Abs(x)))))
}

// logisticLoss returns -log2(σ(sigma * diff)) = log2(1 + e^{-sigma*diff}).
func logisticLoss(diff *Node, sigma float64) *Node {
	return DivScalar(softplus(MulScalar(diff, -sigma)), math.Ln2)
}

func sigmaOrDefault(sigma float64) float64 {
	if sigma == 0 {
		return DefaultSigma
	}
	return sigma
}

func positive(x *Node) *Node {
	return GreaterThan(x, ZerosLike(x))
}

func zeroUnless(cond, x *Node) *Node {
	return Where(cond, x, ZerosLike(x))
}
