// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ranking

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// Gain returns the DCG gain of the relevance labels: 2^rel - 1 if exp is true, rel otherwise.
// rel must be a float tensor.
func Gain(rel *Node, exp bool) *Node {
	if !rel.DType().IsFloat() {
		Panicf("ranking: Gain requires float relevance, got %s", rel.Shape())
	}
	if !exp {
		return rel
	}
	return AddScalar(Exp(MulScalar(rel, math.Ln2)), -1)
}

// Log2 returns the base 2 logarithm of x.
func Log2(x *Node) *Node {
	return DivScalar(Log(x), math.Ln2)
}

// Discounts returns the DCG discount of each rank, log2(2+r) for r in [0, listSize), shaped `[listSize]`.
func Discounts(g *Graph, dtype dtypes.DType, listSize int) *Node {
	ranks := Iota(g, shapes.Make(dtype, listSize), 0)
	return Log2(AddScalar(ranks, 2))
}

// DCGCurve returns the cumulative DCG at every rank cutoff, shaped `[batchSize, listSize]`:
// out[b, k] = Σ_{r <= k, r < n[b]} gains[b, r] / log2(2+r).
//
// gains must already be in rank order.
func DCGCurve(gains, n *Node) *Node {
	_, listSize := CheckBatch(gains, n)
	gains = AsMatrix(gains)
	g := gains.Graph()
	dims := gains.Shape().Dimensions
	batchSize := dims[0]

	discounts := BroadcastToDims(Reshape(Discounts(g, gains.DType(), listSize), 1, listSize), batchSize, listSize)
	contributions := Div(gains, discounts)
	contributions = Where(ValidMask(n, listSize), contributions, ZerosLike(contributions))
	return PrefixSum(contributions)
}

// PrefixSum returns the inclusive cumulative sum of x along its last axis: out[b, k] = Σ_{c <= k} x[b, c].
func PrefixSum(x *Node) *Node {
	return CumSum(AsMatrix(x), 1)
}

// IdealDCGCurve returns the DCG curve (see DCGCurve) of the ideal ranking, where documents are sorted by
// their own relevance. Padded relevance is ignored. The output has the float dtype of relevance, or Float32
// if relevance is an integer tensor.
func IdealDCGCurve(relevance, n *Node, exp bool) *Node {
	CheckBatch(relevance, n)
	relevance = AsMatrix(relevance)
	dtype := relevance.DType()
	if !dtype.IsFloat() {
		dtype = dtypes.Float32
	}
	rel := MaskPadded(asFloat(relevance, dtype), n, 0)
	ranking := StableArgSortDescending(NegInfPadded(rel, n))
	return DCGCurve(Gain(GatherByRanking(rel, ranking), exp), n)
}

// IdealDCG returns the DCG of the ideal ranking over the full list of each query, shaped `[batchSize]`.
// Queries with an ideal DCG of 0 (no relevant documents) get 1, so it can always be used as a divisor.
func IdealDCG(relevance, n *Node, exp bool) *Node {
	curve := IdealDCGCurve(relevance, n, exp)
	dims := curve.Shape().Dimensions
	return NonZeroDivisor(Reshape(Slice(curve, AxisRange(), AxisRange(dims[1]-1, dims[1])), dims[0]))
}

// NonZeroDivisor replaces the zeros of x by 1.
func NonZeroDivisor(x *Node) *Node {
	return Where(Equal(x, ZerosLike(x)), OnesLike(x), x)
}
