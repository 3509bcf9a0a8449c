// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package svmrank

import (
	"math/rand/v2"
	"slices"
)

// Sampler selects which documents of a query are used, and in which order, given their relevance labels.
// It returns indices into relevance.
type Sampler interface {
	Sample(relevance []int32, rng *rand.Rand) []int
}

func sampleSize(maxListSize, size int) int {
	if maxListSize > 0 {
		return min(maxListSize, size)
	}
	return size
}

// IdentitySampler keeps the first MaxListSize documents (all if MaxListSize <= 0) in their original order.
type IdentitySampler struct {
	MaxListSize int
}

// Sample implements Sampler.
func (s IdentitySampler) Sample(relevance []int32, _ *rand.Rand) []int {
	indices := make([]int, sampleSize(s.MaxListSize, len(relevance)))
	for ii := range indices {
		indices[ii] = ii
	}
	return indices
}

// UniformSampler selects MaxListSize documents (all if MaxListSize <= 0) uniformly at random, in random order.
type UniformSampler struct {
	MaxListSize int
}

// Sample implements Sampler.
func (s UniformSampler) Sample(relevance []int32, rng *rand.Rand) []int {
	return rng.Perm(len(relevance))[:sampleSize(s.MaxListSize, len(relevance))]
}

// BalancedRelevanceSampler selects documents round-robin over the relevance grades present in the query (in random
// grade order), picking documents of each grade at random. This balances the grades in truncated lists.
type BalancedRelevanceSampler struct {
	MaxListSize int
}

// Sample implements Sampler.
func (s BalancedRelevanceSampler) Sample(relevance []int32, rng *rand.Rand) []int {
	size := sampleSize(s.MaxListSize, len(relevance))
	byGrade := make(map[int32][]int)
	var grades []int32
	for _, doc := range rng.Perm(len(relevance)) {
		grade := relevance[doc]
		if _, found := byGrade[grade]; !found {
			grades = append(grades, grade)
		}
		byGrade[grade] = append(byGrade[grade], doc)
	}
	slices.Sort(grades)
	rng.Shuffle(len(grades), func(i, j int) { grades[i], grades[j] = grades[j], grades[i] })

	indices := make([]int, 0, size)
	for round := 0; len(indices) < size; round++ {
		for _, grade := range grades {
			if docs := byGrade[grade]; round < len(docs) && len(indices) < size {
				indices = append(indices, docs[round])
			}
		}
	}
	return indices
}

// Apply returns the item restricted to the documents chosen by the sampler.
func Apply(sampler Sampler, item Item, rng *rand.Rand) Item {
	return item.Select(sampler.Sample(item.Relevance, rng))
}
