// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ranking

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// PairwiseDifference returns out[b, i, j] = x[b, i] - x[b, j], shaped `[batchSize, listSize, listSize]`.
//
// x is shaped `[batchSize, listSize]` or `[batchSize, listSize, 1]`.
func PairwiseDifference(x *Node) *Node {
	first, second := pairGrids(x)
	return Sub(first, second)
}

// Pairs returns the batch of all ordered pairs of x, shaped `[batchSize, listSize, listSize, 2]`:
// out[b, i, j, 0] = x[b, i] and out[b, i, j, 1] = x[b, j].
func Pairs(x *Node) *Node {
	first, second := pairGrids(x)
	return Stack([]*Node{first, second}, 3)
}

// SplitPairs splits the output of Pairs back into its two `[batchSize, listSize, listSize]` halves.
func SplitPairs(pairs *Node) (first, second *Node) {
	dims := pairs.Shape().Dimensions
	if len(dims) != 4 || dims[3] != 2 {
		Panicf("ranking: expected pairs shaped [batchSize, listSize, listSize, 2], got %s", pairs.Shape())
	}
	first = pairElement(pairs, 0)
	second = pairElement(pairs, 1)
	return
}

func pairGrids(x *Node) (first, second *Node) {
	x = AsMatrix(x)
	dims := x.Shape().Dimensions
	batchSize, listSize := dims[0], dims[1]
	first = BroadcastToDims(Reshape(x, batchSize, listSize, 1), batchSize, listSize, listSize)
	second = BroadcastToDims(Reshape(x, batchSize, 1, listSize), batchSize, listSize, listSize)
	return
}

// pairElement returns pairs[:, :, :, index]. It uses a masked sum instead of Slice, whose gradient needs Pad.
func pairElement(pairs *Node, index int) *Node {
	selected := Equal(Iota(pairs.Graph(), shapes.Make(dtypes.Int32, pairs.Shape().Dimensions...), 3),
		Const(pairs.Graph(), int32(index)))
	return ReduceSum(Where(selected, pairs, ZerosLike(pairs)), 3)
}
