// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package svmrank

import (
	"math/rand/v2"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Batch is a set of queries padded to the same list size.
type Batch struct {
	// Features shaped [batchSize][listSize][numFeatures]; padded documents have zero features.
	Features [][][]float32

	// Relevance shaped [batchSize][listSize]; padded documents have relevance 0.
	Relevance [][]int32

	// N holds the number of valid documents of each query.
	N []int32

	// QIDs of the queries in the batch.
	QIDs []int
}

// Size returns the number of queries in the batch.
func (b *Batch) Size() int { return len(b.N) }

// ListSize returns the padded number of documents per query.
func (b *Batch) ListSize() int {
	if len(b.Relevance) == 0 {
		return 0
	}
	return len(b.Relevance[0])
}

// Lengths returns N as []int.
func (b *Batch) Lengths() []int {
	lengths := make([]int, len(b.N))
	for ii, n := range b.N {
		lengths[ii] = int(n)
	}
	return lengths
}

// Tensors returns the features (Float32 `[batchSize, listSize, numFeatures]`), relevance (Int32
// `[batchSize, listSize]`) and n (Int32 `[batchSize]`) tensors of the batch.
func (b *Batch) Tensors(numFeatures int) (features, relevance, n *tensors.Tensor) {
	batchSize, listSize := b.Size(), b.ListSize()
	flatFeatures := make([]float32, 0, batchSize*listSize*numFeatures)
	for _, docs := range b.Features {
		for _, row := range docs {
			flatFeatures = append(flatFeatures, row...)
		}
	}
	flatRelevance := slices.Concat(b.Relevance...)
	features = tensors.FromFlatDataAndDimensions(flatFeatures, batchSize, listSize, numFeatures)
	relevance = tensors.FromFlatDataAndDimensions(flatRelevance, batchSize, listSize)
	n = tensors.FromFlatDataAndDimensions(slices.Clone(b.N), batchSize)
	return
}

// Collate pads the items to the largest list size among them, capped at maxListSize if maxListSize > 0.
//
// Queries with more documents than the list size are truncated to a random subset of their documents (kept in
// their original order), drawn with rng. rng is only required if truncation happens.
func Collate(items []Item, numFeatures, maxListSize int, rng *rand.Rand) (*Batch, error) {
	if len(items) == 0 {
		return nil, errors.New("collate: empty batch")
	}
	listSize := 0
	for _, item := range items {
		listSize = max(listSize, item.N)
	}
	if maxListSize > 0 {
		listSize = min(listSize, maxListSize)
	}

	batch := &Batch{
		Features:  make([][][]float32, len(items)),
		Relevance: make([][]int32, len(items)),
		N:         make([]int32, len(items)),
		QIDs:      make([]int, len(items)),
	}
	for b, item := range items {
		if item.N > listSize {
			if rng == nil {
				return nil, errors.Errorf("collate: query %d has %d documents, a random generator is required to "+
					"sample %d of them", item.QID, item.N, listSize)
			}
			indices := rng.Perm(item.N)[:listSize]
			slices.Sort(indices)
			item = item.Select(indices)
		}
		batch.QIDs[b] = item.QID
		batch.N[b] = int32(min(item.N, listSize))
		batch.Relevance[b] = make([]int32, listSize)
		copy(batch.Relevance[b], item.Relevance)
		batch.Features[b] = make([][]float32, listSize)
		for d := range listSize {
			if d < item.N {
				batch.Features[b][d] = slices.Clone(item.Dense(d, numFeatures))
			} else {
				batch.Features[b][d] = make([]float32, numFeatures)
			}
		}
	}
	return batch, nil
}
