// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package svmrank

import (
	"io"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// DefaultSeed seeds the random generator of a Loader created without WithRand.
const DefaultSeed = 42

// Loader iterates over the queries of a Dataset in batches.
//
// It implements the GoMLX train.Dataset interface: Yield returns inputs = [features] and labels = [relevance, n],
// with a nil spec. Use NextBatch to also get the query ids.
//
// Loader is safe for concurrent use.
type Loader struct {
	ds   *Dataset
	name string

	// muSampling serializes the sampling information, all the member variables below.
	muSampling sync.Mutex

	// batchSize to yield, at least 1.
	batchSize int

	// dropIncompleteBatch, when there are not enough remaining queries in the epoch.
	dropIncompleteBatch bool

	// next query to yield, as an index in order. -1 if the epoch is exhausted.
	next int

	// order holds the yield order of the queries, shuffled if shuffle is set.
	order   []int
	shuffle bool

	infinite bool

	// rng is used for shuffling, list sampling and truncation.
	rng *rand.Rand

	sampler     Sampler
	maxListSize int
}

// NewLoader creates a Loader over ds that yields one query at a time, in order.
func NewLoader(ds *Dataset) *Loader {
	l := &Loader{
		ds:        ds,
		name:      ds.Name(),
		batchSize: 1,
		order:     make([]int, ds.Len()),
		rng:       rand.New(rand.NewPCG(DefaultSeed, DefaultSeed)),
	}
	for ii := range l.order {
		l.order[ii] = ii
	}
	return l
}

// Name implements train.Dataset.
func (l *Loader) Name() string { return l.name }

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *Dataset { return l.ds }

// Reset implements train.Dataset: it restarts the epoch, reshuffling if configured to.
func (l *Loader) Reset() {
	l.muSampling.Lock()
	defer l.muSampling.Unlock()
	l.resetLocked()
}

func (l *Loader) resetLocked() {
	l.next = 0
	if l.shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) { l.order[i], l.order[j] = l.order[j], l.order[i] })
	}
}

// BatchSize configures the number of queries per batch. If dropIncompleteBatch is true, the last batch of an epoch
// is dropped if it has fewer queries.
//
// It returns the modified Loader, so calls can be cascaded.
func (l *Loader) BatchSize(n int, dropIncompleteBatch bool) *Loader {
	l.muSampling.Lock()
	defer l.muSampling.Unlock()
	l.batchSize = max(n, 1)
	l.dropIncompleteBatch = dropIncompleteBatch
	return l
}

// Shuffle configures the Loader to yield queries in random order, reshuffled at every Reset.
//
// It returns the modified Loader, so calls can be cascaded.
func (l *Loader) Shuffle() *Loader {
	l.muSampling.Lock()
	defer l.muSampling.Unlock()
	l.shuffle = true
	l.resetLocked()
	return l
}

// WithRand sets the random number generator used for shuffling, list sampling and truncation. The default is
// seeded with DefaultSeed.
//
// It returns the modified Loader, so calls can be cascaded.
func (l *Loader) WithRand(rng *rand.Rand) *Loader {
	l.muSampling.Lock()
	defer l.muSampling.Unlock()
	l.rng = rng
	if l.shuffle {
		l.resetLocked()
	}
	return l
}

// WithSampler selects the documents of each query with sampler before batching.
//
// It returns the modified Loader, so calls can be cascaded.
func (l *Loader) WithSampler(sampler Sampler) *Loader {
	l.muSampling.Lock()
	defer l.muSampling.Unlock()
	l.sampler = sampler
	return l
}

// MaxListSize caps the list size of the batches: larger queries are truncated to a random subset of their
// documents. 0 means no cap.
//
// It returns the modified Loader, so calls can be cascaded.
func (l *Loader) MaxListSize(n int) *Loader {
	l.muSampling.Lock()
	defer l.muSampling.Unlock()
	l.maxListSize = n
	return l
}

// Infinite configures the Loader to loop over the dataset indefinitely, instead of returning io.EOF at the end of
// an epoch.
//
// It returns the modified Loader, so calls can be cascaded.
func (l *Loader) Infinite(infinite bool) *Loader {
	l.muSampling.Lock()
	defer l.muSampling.Unlock()
	l.infinite = infinite
	return l
}

// NextBatch returns the next batch of queries, or io.EOF at the end of the epoch.
func (l *Loader) NextBatch() (*Batch, error) {
	l.muSampling.Lock()
	defer l.muSampling.Unlock()
	if len(l.order) == 0 {
		return nil, io.EOF
	}

	indices := make([]int, 0, l.batchSize)
	for len(indices) < l.batchSize {
		if l.next < 0 || l.next >= len(l.order) {
			if !l.infinite {
				l.next = -1
				break
			}
			l.resetLocked()
		}
		indices = append(indices, l.order[l.next])
		l.next++
	}
	if len(indices) == 0 || (len(indices) < l.batchSize && l.dropIncompleteBatch) {
		l.next = -1
		return nil, io.EOF
	}

	items := make([]Item, len(indices))
	for ii, idx := range indices {
		items[ii] = l.ds.Item(idx)
		if l.sampler != nil {
			items[ii] = Apply(l.sampler, items[ii], l.rng)
		}
	}
	batch, err := Collate(items, l.ds.NumFeatures(), l.maxListSize, l.rng)
	if err != nil {
		return nil, errors.WithMessagef(err, "loader %q", l.name)
	}
	return batch, nil
}

// Yield implements train.Dataset.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batch, err := l.NextBatch()
	if err != nil {
		return nil, nil, nil, err
	}
	features, relevance, n := batch.Tensors(l.ds.NumFeatures())
	return nil, []*tensors.Tensor{features}, []*tensors.Tensor{relevance, n}, nil
}
