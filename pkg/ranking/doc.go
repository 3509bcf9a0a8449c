// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ranking implements the graph building blocks shared by the ranking losses, metrics and click
// simulators: padding masks, tie-breaking rankings, rank-order gathers and scatters, pairwise tensors and
// DCG gains and discounts.
//
// Batches follow the same convention everywhere:
//
//   - scores and relevance have shape `[batchSize, listSize]` (a trailing axis of dimension 1 is also accepted);
//   - n has shape `[batchSize]` and holds the number of valid (non-padded) documents of each query;
//     entries at positions >= n[b] are padding.
//
// Rankings are Int32 tensors of shape `[batchSize, listSize]`: ranking[b, r] is the index of the document
// placed at rank r.
//
// Functions in this package are graph building functions: they panic (with exceptions.Panicf) on invalid
// inputs, like the rest of the graph package.
package ranking
