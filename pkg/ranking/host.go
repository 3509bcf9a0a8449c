// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ranking

import (
	"slices"

	"golang.org/x/exp/constraints"
)

// Number is the set of Go types accepted by the host-side helpers.
type Number interface {
	constraints.Integer | constraints.Float
}

// MaskPaddedValues sets values[b][i] = maskValue for every i >= n[b].
//
// If mutate is false (the usual case), values is left untouched and a masked copy is returned.
// If mutate is true, values is modified in place and returned, which saves the allocation when the caller owns
// the buffer.
//
// Rows of values beyond len(n) are treated as fully padded.
func MaskPaddedValues[T Number](values [][]T, n []int, maskValue T, mutate bool) [][]T {
	out := values
	if !mutate {
		out = make([][]T, len(values))
		for b, row := range values {
			out[b] = slices.Clone(row)
		}
	}
	for b, row := range out {
		start := 0
		if b < len(n) {
			start = max(0, min(n[b], len(row)))
		}
		for i := start; i < len(row); i++ {
			row[i] = maskValue
		}
	}
	return out
}
