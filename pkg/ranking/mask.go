// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ranking

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// AsMatrix returns x with shape `[batchSize, listSize]`.
//
// It accepts x shaped `[batchSize, listSize]` or `[batchSize, listSize, 1]`, and panics for any other shape.
func AsMatrix(x *Node) *Node {
	dims := x.Shape().Dimensions
	switch {
	case len(dims) == 2:
		return x
	case len(dims) == 3 && dims[2] == 1:
		return Reshape(x, dims[0], dims[1])
	}
	Panicf("ranking: expected a tensor shaped [batchSize, listSize] or [batchSize, listSize, 1], got %s", x.Shape())
	return nil
}

// AsColumn returns x with shape `[batchSize, listSize, 1]`. See AsMatrix for accepted shapes.
func AsColumn(x *Node) *Node {
	x = AsMatrix(x)
	dims := x.Shape().Dimensions
	return Reshape(x, dims[0], dims[1], 1)
}

// CheckBatch validates that x (as a matrix, see AsMatrix) and n agree on the batch size and returns
// batchSize and listSize.
func CheckBatch(x, n *Node) (batchSize, listSize int) {
	xm := AsMatrix(x)
	if n.Rank() != 1 {
		Panicf("ranking: n must be shaped [batchSize], got %s", n.Shape())
	}
	if !n.DType().IsInt() {
		Panicf("ranking: n must be an integer tensor, got %s", n.Shape())
	}
	batchSize, listSize = xm.Shape().Dimensions[0], xm.Shape().Dimensions[1]
	if n.Shape().Dimensions[0] != batchSize {
		Panicf("ranking: batch size of n (%s) doesn't match the batch size of %s", n.Shape(), x.Shape())
	}
	return
}

// CheckSameBatch validates that scores and relevance have the same `[batchSize, listSize]` dimensions and that
// n matches the batch size.
func CheckSameBatch(scores, relevance, n *Node) (batchSize, listSize int) {
	batchSize, listSize = CheckBatch(scores, n)
	relDims := AsMatrix(relevance).Shape().Dimensions
	if relDims[0] != batchSize || relDims[1] != listSize {
		Panicf("ranking: scores %s and relevance %s must have the same batch and list sizes",
			scores.Shape(), relevance.Shape())
	}
	return
}

// ValidMask returns a Bool tensor shaped `[batchSize, listSize]` that is true for the positions smaller than n[b].
func ValidMask(n *Node, listSize int) *Node {
	if n.Rank() != 1 {
		Panicf("ranking: n must be shaped [batchSize], got %s", n.Shape())
	}
	g := n.Graph()
	batchSize := n.Shape().Dimensions[0]
	positions := Iota(g, shapes.Make(n.DType(), batchSize, listSize), 1)
	limits := BroadcastToDims(Reshape(n, batchSize, 1), batchSize, listSize)
	return LessThan(positions, limits)
}

// ValidPairMask returns a Bool tensor shaped `[batchSize, listSize, listSize]` that is true for the pairs (i, j)
// where max(i, j) < n[b], that is, pairs where both documents are valid.
func ValidPairMask(n *Node, listSize int) *Node {
	mask := ValidMask(n, listSize)
	batchSize := n.Shape().Dimensions[0]
	rows := BroadcastToDims(Reshape(mask, batchSize, listSize, 1), batchSize, listSize, listSize)
	cols := BroadcastToDims(Reshape(mask, batchSize, 1, listSize), batchSize, listSize, listSize)
	return LogicalAnd(rows, cols)
}

// MaskPadded returns x (shaped as a matrix, see AsMatrix) with every padded entry (position >= n[b])
// replaced by maskValue. Valid entries are left untouched, and so are their gradients.
//
// maskValue may be ±Inf for float tensors.
func MaskPadded(x, n *Node, maskValue float64) *Node {
	_, listSize := CheckBatch(x, n)
	x = AsMatrix(x)
	g := x.Graph()
	var fill *Node
	if x.DType().IsFloat() {
		fill = Scalar(g, x.DType(), maskValue)
	} else {
		fill = Scalar(g, x.DType(), int64(maskValue))
	}
	return Where(ValidMask(n, listSize), x, fill)
}

// NegInfPadded masks the padded entries of scores to -Inf, so they sort after every valid document.
func NegInfPadded(scores, n *Node) *Node {
	if !scores.DType().IsFloat() {
		Panicf("ranking: scores must be float to be masked with -Inf, got %s", scores.Shape())
	}
	return MaskPadded(scores, n, negInf)
}

// asFloat converts x to dtype if needed.
func asFloat(x *Node, dtype dtypes.DType) *Node {
	if x.DType() == dtype {
		return x
	}
	return ConvertDType(x, dtype)
}
