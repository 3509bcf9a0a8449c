// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package clicks simulates user clicks on ranked lists with the position-based model (PBM): a document at a given
// rank is observed with a probability that decays with the rank, and an observed document is clicked with a
// probability that depends on its relevance grade.
//
// The simulators are graph building functions, so a whole batch of queries is simulated at once. They take and
// return an RNG state, used for the Bernoulli click draws.
package clicks

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/ltr/pkg/ranking"
)

// Click probabilities, given the document was observed, indexed by relevance grade (0 to 4).
var (
	// PerfectClickProbs models a user that clicks in proportion to relevance and never on irrelevant documents.
	PerfectClickProbs = []float32{0.0, 0.2, 0.4, 0.8, 1.0}

	// PositionClickProbs models a user that mostly clicks on highly relevant documents, with some noise.
	PositionClickProbs = []float32{0.1, 0.1, 0.1, 1.0, 1.0}

	// NearRandomClickProbs models a user whose clicks depend only weakly on relevance.
	NearRandomClickProbs = []float32{0.4, 0.45, 0.5, 0.55, 0.6}
)

// DefaultEta is the default severity of the position bias.
const DefaultEta = 1.0

// NoCutoff can be given as cutoff to observe the whole (valid part of the) list.
const NoCutoff = 0

// ObservationProbabilities returns the probability of observing each rank of a list of listSize, shaped
// `[listSize]`: 1/(2+r)^eta for the 0-based rank r, that is 1/(1+rank)^eta for the 1-based rank.
//
// Note the top rank is observed with probability 1/2^eta, not 1: the curve is 1/(1+r)^eta shifted by one rank.
// eta == 0 means no position bias.
func ObservationProbabilities(g *Graph, dtype dtypes.DType, listSize int, eta float64) *Node {
	ranks := AddScalar(Iota(g, shapes.Make(dtype, listSize), 0), 1)
	return Exp(MulScalar(Log(AddScalar(ranks, 1)), -eta))
}

// SimulatePBM samples clicks for documents displayed in the order given by rankings.
//
//   - rankings: integer `[batchSize, listSize]`, a full permutation per query: rankings[b, r] is the document
//     displayed at rank r.
//   - relevance: integer relevance grades `[batchSize, listSize]` in document order. Grades beyond the end of
//     relevanceProbs use its last entry.
//   - n: number of valid documents per query `[batchSize]`.
//   - relevanceProbs: float `[numGrades]`, the probability of clicking an observed document of each grade.
//   - cutoff: if > 0, only the top cutoff ranks can be observed (n is cut to min(n, cutoff)).
//   - eta: severity of the position bias, see ObservationProbabilities.
//
// It returns the updated RNG state, the clicks (Int32, 0 or 1) and the observation propensities (with the dtype of
// relevanceProbs), both shaped `[batchSize, listSize]` and in document order.
func SimulatePBM(rngState, rankings, relevance, n, relevanceProbs *Node, cutoff int, eta float64) (
	newRngState, clicks, propensities *Node) {
	batchSize, listSize := ranking.CheckSameBatch(rankings, relevance, n)
	rankings = ranking.AsMatrix(rankings)
	relevance = ranking.AsMatrix(relevance)
	if !rankings.DType().IsInt() || !relevance.DType().IsInt() {
		Panicf("clicks: rankings (%s) and relevance (%s) must be integer tensors", rankings.Shape(), relevance.Shape())
	}
	if relevanceProbs.Rank() != 1 || !relevanceProbs.DType().IsFloat() {
		Panicf("clicks: relevanceProbs must be a float vector, got %s", relevanceProbs.Shape())
	}
	if rankings.DType() != ranking.RankingDType {
		rankings = ConvertDType(rankings, ranking.RankingDType)
	}
	g := rankings.Graph()
	dtype := relevanceProbs.DType()

	limits := n
	if cutoff > 0 {
		limits = MinScalar(n, cutoff)
	}
	observe := ObservationProbabilities(g, dtype, listSize, eta)
	observe = BroadcastToDims(Reshape(observe, 1, listSize), batchSize, listSize)
	observe = Where(ranking.ValidMask(limits, listSize), observe, ZerosLike(observe))

	grades := ranking.GatherByRanking(ConvertDType(relevance, ranking.RankingDType), rankings)
	clickProbs := lookupGrades(grades, relevanceProbs)

	var u *Node
	newRngState, u = RandomUniform(rngState, shapes.Make(dtype, batchSize, listSize))
	rankedClicks := ConvertDType(LessThan(u, Mul(clickProbs, observe)), dtypes.Int32)

	clicks = ranking.ScatterByRanking(rankedClicks, rankings)
	propensities = ranking.ScatterByRanking(observe, rankings)
	return
}

// lookupGrades returns table[grade] for each entry of grades, with grades clamped to the table range.
func lookupGrades(grades, table *Node) *Node {
	g := grades.Graph()
	numGrades := table.Shape().Dimensions[0]
	dims := grades.Shape().Dimensions
	batchSize, listSize := dims[0], dims[1]
	grades = MinScalar(MaxScalar(grades, 0), numGrades-1)

	gridDims := []int{batchSize, listSize, numGrades}
	selected := Equal(
		BroadcastToDims(Reshape(grades, batchSize, listSize, 1), gridDims...),
		Iota(g, shapes.Make(grades.DType(), gridDims...), 2))
	values := BroadcastToDims(Reshape(table, 1, 1, numGrades), gridDims...)
	return ReduceSum(Where(selected, values, ZerosLike(values)), 2)
}

// SimulatePerfect simulates a user without position bias (eta = 0) that clicks following PerfectClickProbs.
func SimulatePerfect(rngState, rankings, relevance, n *Node, cutoff int) (newRngState, clicks, propensities *Node) {
	probs := Const(rankings.Graph(), PerfectClickProbs)
	return SimulatePBM(rngState, rankings, relevance, n, probs, cutoff, 0)
}

// SimulatePosition simulates a position biased user that clicks following PositionClickProbs.
func SimulatePosition(rngState, rankings, relevance, n *Node, cutoff int, eta float64) (
	newRngState, clicks, propensities *Node) {
	probs := Const(rankings.Graph(), PositionClickProbs)
	return SimulatePBM(rngState, rankings, relevance, n, probs, cutoff, eta)
}

// SimulateNearRandom simulates a position biased user that clicks almost at random, following
// NearRandomClickProbs.
func SimulateNearRandom(rngState, rankings, relevance, n *Node, cutoff int, eta float64) (
	newRngState, clicks, propensities *Node) {
	probs := Const(rankings.Graph(), NearRandomClickProbs)
	return SimulatePBM(rngState, rankings, relevance, n, probs, cutoff, eta)
}

// Model names a click model, for command line flags and configuration.
type Model string

const (
	Perfect    Model = "perfect"
	Position   Model = "position"
	NearRandom Model = "nearrandom"
)

// Models lists the known click models.
var Models = []Model{Perfect, Position, NearRandom}

// Simulate dispatches to the simulator of the given model. The perfect model ignores eta.
func Simulate(model Model, rngState, rankings, relevance, n *Node, cutoff int, eta float64) (
	newRngState, clicks, propensities *Node) {
	switch model {
	case Perfect:
		return SimulatePerfect(rngState, rankings, relevance, n, cutoff)
	case Position:
		return SimulatePosition(rngState, rankings, relevance, n, cutoff, eta)
	case NearRandom:
		return SimulateNearRandom(rngState, rankings, relevance, n, cutoff, eta)
	}
	Panicf("clicks: unknown click model %q, valid models are %v", model, Models)
	return
}
