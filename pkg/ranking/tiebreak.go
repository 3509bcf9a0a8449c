// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ranking

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/nn"
)

// RankingDType is the dtype of the rankings (and of the permutation keys) built by this package.
const RankingDType = dtypes.Int32

var negInf = math.Inf(-1)

// ShuffleKeys draws a uniformly random permutation of the column positions `[0, listSize)`.
//
// keys is Int32 shaped `[listSize]`: keys[i] is the shuffled position of column i. The same permutation is
// shared by every row of a batch.
//
// It returns the updated RNG state, which should be used for any further random operation.
func ShuffleKeys(rngState *Node, listSize int) (newRngState, keys *Node) {
	g := rngState.Graph()
	var u *Node
	newRngState, u = RandomUniform(rngState, shapes.Make(dtypes.Float32, listSize))

	// Sorting u ascending gives the column at each shuffled position, scattering the positions back gives
	// the position of each column.
	positions := Iota(g, shapes.Make(RankingDType, listSize), 0)
	ascending := NewClosure(g, func(g *Graph) []*Node {
		lhs := Parameter(g, "lhs_u", shapes.Make(dtypes.Float32))
		rhs := Parameter(g, "rhs_u", shapes.Make(dtypes.Float32))
		_ = Parameter(g, "lhs_column", shapes.Make(RankingDType))
		_ = Parameter(g, "rhs_column", shapes.Make(RankingDType))
		return []*Node{LessThan(lhs, rhs)}
	})
	columns := SortFunc(ascending, 0, true, u, positions)[1]
	keys = Scatter(Reshape(columns, listSize, 1), positions, positions.Shape(), false, true)
	return
}

// ArgSortWithKeys returns the stable descending ordering of each row of x, with ties broken by the smallest key.
//
// x is shaped `[batchSize, listSize]` (or `[batchSize, listSize, 1]`), keys are integers shaped `[listSize]`
// (shared by all rows) or `[batchSize, listSize]`, and they must be distinct within a row.
// The returned ranking is Int32 shaped `[batchSize, listSize]`, where ranking[b, r] is the column of x
// at rank r.
func ArgSortWithKeys(x, keys *Node) *Node {
	x = StopGradient(AsMatrix(x))
	dims := x.Shape().Dimensions
	batchSize, listSize := dims[0], dims[1]
	switch {
	case keys.Rank() == 1 && keys.Shape().Dimensions[0] == listSize:
		keys = BroadcastToDims(Reshape(keys, 1, listSize), batchSize, listSize)
	case keys.Rank() == 2 && keys.Shape().Dimensions[0] == batchSize && keys.Shape().Dimensions[1] == listSize:
	default:
		Panicf("ranking: keys shape %s incompatible with values shape %s", keys.Shape(), x.Shape())
	}
	if !keys.DType().IsInt() {
		Panicf("ranking: keys must be integers, got %s", keys.Shape())
	}

	g := x.Graph()
	valueDType, keyDType := x.DType(), keys.DType()
	descending := NewClosure(g, func(g *Graph) []*Node {
		lhsValue := Parameter(g, "lhs_value", shapes.Make(valueDType))
		rhsValue := Parameter(g, "rhs_value", shapes.Make(valueDType))
		lhsKey := Parameter(g, "lhs_key", shapes.Make(keyDType))
		rhsKey := Parameter(g, "rhs_key", shapes.Make(keyDType))
		_ = Parameter(g, "lhs_column", shapes.Make(RankingDType))
		_ = Parameter(g, "rhs_column", shapes.Make(RankingDType))
		return []*Node{Or(
			GreaterThan(lhsValue, rhsValue),
			And(Equal(lhsValue, rhsValue), LessThan(lhsKey, rhsKey)))}
	})
	columns := Iota(g, shapes.Make(RankingDType, batchSize, listSize), 1)
	return SortFunc(descending, 1, true, x, keys, columns)[2]
}

// StableArgSortDescending returns the stable descending ordering of each row of x: ties keep their original
// column order. Used for ideal orderings, where the order among ties doesn't change the result.
func StableArgSortDescending(x *Node) *Node {
	x = AsMatrix(x)
	listSize := x.Shape().Dimensions[1]
	return ArgSortWithKeys(x, Iota(x.Graph(), shapes.Make(RankingDType, listSize), 0))
}

// TiebreakArgSort returns the descending ordering of each row of x with ties broken uniformly at random.
//
// The columns are first shuffled by a random permutation (shared by the whole batch), stably sorted in
// descending order, and the result is mapped back to the original column indices. Every ordering of a group
// of tied values is equally likely.
//
// It returns the updated RNG state and the Int32 ranking shaped `[batchSize, listSize]`.
func TiebreakArgSort(rngState, x *Node) (newRngState, ranking *Node) {
	x = AsMatrix(x)
	var keys *Node
	newRngState, keys = ShuffleKeys(rngState, x.Shape().Dimensions[1])
	ranking = ArgSortWithKeys(x, keys)
	return
}

// RankByScore ranks the documents of each query by descending score, with ties broken at random and padded
// documents (positions >= n[b]) always placed after the valid ones.
//
// It returns the updated RNG state and the Int32 ranking shaped `[batchSize, listSize]`.
func RankByScore(rngState, scores, n *Node) (newRngState, ranking *Node) {
	return TiebreakArgSort(rngState, NegInfPadded(StopGradient(scores), n))
}

// RankByPlackettLuce samples a ranking of each query from the Plackett-Luce distribution defined by the scores:
// the document at each rank is drawn among the remaining valid ones with probability proportional to e^score.
//
// It sorts the valid documents by ascending log(-log u) - log_softmax(scores), with u uniform in [0, 1), which
// is the Gumbel-max trick applied to the whole list. Padded documents (positions >= n[b]) are always placed
// last, in their column order.
//
// It returns the updated RNG state and the Int32 ranking shaped `[batchSize, listSize]`.
func RankByPlackettLuce(rngState, scores, n *Node) (newRngState, ranking *Node) {
	_, listSize := CheckBatch(scores, n)
	s := StopGradient(AsMatrix(scores))
	if !s.DType().IsFloat() {
		Panicf("ranking: scores must be a float tensor, got %s", scores.Shape())
	}
	g := s.Graph()
	dims := s.Shape().Dimensions
	batchSize := dims[0]

	var u *Node
	newRngState, u = RandomUniform(rngState, s.Shape())
	valid := ValidMask(n, listSize)
	// Padded documents get +inf keys, so they sort last.
	keys := Sub(Log(Neg(Log(u))), nn.MaskedLogSoftmax(s, valid, -1))
	keys = Where(valid, keys, Infinity(g, s.DType(), 1))

	ascending := NewClosure(g, func(g *Graph) []*Node {
		lhs := Parameter(g, "lhs_key", shapes.Make(s.DType()))
		rhs := Parameter(g, "rhs_key", shapes.Make(s.DType()))
		_ = Parameter(g, "lhs_column", shapes.Make(RankingDType))
		_ = Parameter(g, "rhs_column", shapes.Make(RankingDType))
		return []*Node{LessThan(lhs, rhs)}
	})
	columns := Iota(g, shapes.Make(RankingDType, batchSize, listSize), 1)
	ranking = SortFunc(ascending, 1, true, keys, columns)[1]
	return
}

// rankingIndices returns the `[batchSize, listSize, 2]` indices (b, ranking[b, r]) used to gather from and
// scatter to a `[batchSize, listSize]` tensor in rank order.
func rankingIndices(ranking *Node) *Node {
	g := ranking.Graph()
	dims := ranking.Shape().Dimensions
	batchSize, listSize := dims[0], dims[1]
	rows := Iota(g, shapes.Make(ranking.DType(), batchSize, listSize, 1), 0)
	return Concatenate([]*Node{rows, Reshape(ranking, batchSize, listSize, 1)}, 2)
}

// GatherByRanking returns x in rank order: out[b, r] = x[b, ranking[b, r]].
//
// x is shaped `[batchSize, listSize]` or `[batchSize, listSize, 1]`, the output is always a matrix.
// Gradients flow back to x.
func GatherByRanking(x, ranking *Node) *Node {
	x = AsMatrix(x)
	checkRankingFor(x, ranking)
	return Gather(x, rankingIndices(ranking))
}

// ScatterByRanking is the inverse of GatherByRanking: it takes values in rank order and returns them in
// document order, out[b, ranking[b, r]] = x[b, r].
func ScatterByRanking(x, ranking *Node) *Node {
	x = AsMatrix(x)
	checkRankingFor(x, ranking)
	return Scatter(rankingIndices(ranking), x, x.Shape(), false, true)
}

// InvertRanking returns the rank of each document: out[b, ranking[b, r]] = r.
func InvertRanking(ranking *Node) *Node {
	ranks := Iota(ranking.Graph(), ranking.Shape(), 1)
	return ScatterByRanking(ranks, ranking)
}

func checkRankingFor(x, ranking *Node) {
	if ranking.Rank() != 2 || x.Shape().Dimensions[0] != ranking.Shape().Dimensions[0] ||
		x.Shape().Dimensions[1] != ranking.Shape().Dimensions[1] {
		Panicf("ranking: ranking %s doesn't match values %s", ranking.Shape(), x.Shape())
	}
}
