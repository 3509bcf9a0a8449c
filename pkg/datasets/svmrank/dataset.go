// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package svmrank loads learning-to-rank datasets in the SVM-rank (svmlight with query ids) text format, and
// batches their queries into padded tensors for the ranking losses and metrics.
//
// Each line of the format holds one document:
//
//	<relevance> qid:<query id> <feature index>:<value> ... # optional comment
//
// Documents of the same query are expected on consecutive lines.
package svmrank

import (
	"bufio"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNotSupported is returned for option combinations that are not supported.
var ErrNotSupported = errors.New("not supported")

// IndexBase selects how feature indices in the file are interpreted.
type IndexBase int

const (
	// AutoIndexBase treats indices as 0-based if any feature has index 0, 1-based otherwise.
	AutoIndexBase IndexBase = iota
	ZeroBased
	OneBased
)

// Options configure how a dataset is loaded. The zero value loads dense features as they are in the file.
type Options struct {
	// Sparse keeps features in sparse form in memory. They are still densified when batched.
	Sparse bool

	// Normalize applies query-level min-max normalization to every feature. Not supported with Sparse.
	Normalize bool

	// FilterQueries drops queries without any relevant (relevance > 0) document.
	FilterQueries bool

	// IndexBase of the feature indices in the file.
	IndexBase IndexBase

	// NumFeatures, if larger than the number of features found in the file, pads every document with zeros up to
	// this number of features.
	NumFeatures int
}

// SparseFeature is one non-zero feature of a document.
type SparseFeature struct {
	Index int
	Value float32
}

type query struct {
	qid       int
	dense     [][]float32
	sparse    [][]SparseFeature
	relevance []int32
}

func (q *query) size() int { return len(q.relevance) }

// Dataset holds a parsed SVM-rank dataset in memory.
type Dataset struct {
	name        string
	numFeatures int
	sparse      bool

	queries []*query
	// indices of the visible queries (after filtering) in queries.
	indices  []int
	qidIndex map[int]int
}

// Item is one query of the dataset: its documents' features and relevance labels.
type Item struct {
	QID int

	// Features holds one row of NumFeatures values per document, if the dataset is dense.
	Features [][]float32

	// SparseFeatures holds the non-zero features of each document, if the dataset is sparse.
	SparseFeatures [][]SparseFeature

	Relevance []int32

	// N is the number of documents.
	N int
}

// Load parses the SVM-rank file at path. See Parse.
func Load(path string, opts Options) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening svmrank dataset %q", path)
	}
	defer func() { _ = f.Close() }()
	ds, err := Parse(f, opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading svmrank dataset %q", path)
	}
	ds.name = path
	return ds, nil
}

// Parse reads an SVM-rank dataset from r.
func Parse(r io.Reader, opts Options) (*Dataset, error) {
	if opts.Sparse && opts.Normalize {
		return nil, errors.Wrap(ErrNotSupported, "query-level normalization of sparse features")
	}
	ds := &Dataset{name: "svmrank", sparse: opts.Sparse}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<26)
	var current *query
	minIndex, maxIndex := math.MaxInt, -1
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if pos := strings.IndexByte(line, '#'); pos >= 0 {
			line = line[:pos]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		rel, qid, features, err := parseLine(fields)
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d", lineNum)
		}
		for _, feature := range features {
			minIndex = min(minIndex, feature.Index)
			maxIndex = max(maxIndex, feature.Index)
		}
		if current == nil || current.qid != qid {
			current = &query{qid: qid}
			ds.queries = append(ds.queries, current)
		}
		current.relevance = append(current.relevance, rel)
		current.sparse = append(current.sparse, features)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading svmrank data")
	}

	offset := 0
	if opts.IndexBase == OneBased || (opts.IndexBase == AutoIndexBase && minIndex > 0) {
		offset = 1
	}
	if maxIndex >= 0 {
		ds.numFeatures = maxIndex - offset + 1
	}
	ds.numFeatures = max(ds.numFeatures, opts.NumFeatures)
	for _, q := range ds.queries {
		for _, doc := range q.sparse {
			for ii := range doc {
				doc[ii].Index -= offset
				if doc[ii].Index < 0 {
					return nil, errors.Errorf("query %d: feature index %d invalid for 1-based indices", q.qid,
						doc[ii].Index+offset)
				}
			}
		}
		if !opts.Sparse {
			q.dense = make([][]float32, len(q.sparse))
			for ii, doc := range q.sparse {
				q.dense[ii] = make([]float32, ds.numFeatures)
				for _, feature := range doc {
					q.dense[ii][feature.Index] = feature.Value
				}
			}
			q.sparse = nil
		}
	}

	if opts.Normalize {
		ds.normalize()
	}
	ds.indices = make([]int, 0, len(ds.queries))
	for ii, q := range ds.queries {
		if opts.FilterQueries && !slices.ContainsFunc(q.relevance, func(r int32) bool { return r > 0 }) {
			continue
		}
		ds.indices = append(ds.indices, ii)
	}
	ds.qidIndex = make(map[int]int, len(ds.indices))
	for index, queryIdx := range ds.indices {
		ds.qidIndex[ds.queries[queryIdx].qid] = index
	}
	klog.V(1).Infof("svmrank: parsed %d queries (%d kept), %d features, index offset %d",
		len(ds.queries), len(ds.indices), ds.numFeatures, offset)
	return ds, nil
}

func parseLine(fields []string) (rel int32, qid int, features []SparseFeature, err error) {
	relValue, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, nil, errors.Wrapf(err, "invalid relevance %q", fields[0])
	}
	rel = int32(relValue)
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "qid:") {
		return 0, 0, nil, errors.New("missing qid")
	}
	qid, err = strconv.Atoi(strings.TrimPrefix(fields[1], "qid:"))
	if err != nil {
		return 0, 0, nil, errors.Wrapf(err, "invalid qid %q", fields[1])
	}
	features = make([]SparseFeature, 0, len(fields)-2)
	for _, field := range fields[2:] {
		indexStr, valueStr, found := strings.Cut(field, ":")
		if !found {
			return 0, 0, nil, errors.Errorf("invalid feature %q", field)
		}
		index, err := strconv.Atoi(indexStr)
		if err != nil || index < 0 {
			return 0, 0, nil, errors.Errorf("invalid feature index in %q", field)
		}
		value, err := strconv.ParseFloat(valueStr, 32)
		if err != nil {
			return 0, 0, nil, errors.Wrapf(err, "invalid feature value in %q", field)
		}
		features = append(features, SparseFeature{Index: index, Value: float32(value)})
	}
	return
}

// normalize scales every feature of each query to [0, 1]: (x - min) / (max - min), with constant features set to 0.
func (ds *Dataset) normalize() {
	for _, q := range ds.queries {
		for f := range ds.numFeatures {
			low, high := float32(math.Inf(1)), float32(math.Inf(-1))
			for _, doc := range q.dense {
				low = min(low, doc[f])
				high = max(high, doc[f])
			}
			scale := high - low
			if scale == 0 {
				scale = 1
			}
			for _, doc := range q.dense {
				doc[f] = (doc[f] - low) / scale
			}
		}
	}
}

// Name of the dataset: the file path if loaded with Load.
func (ds *Dataset) Name() string { return ds.name }

// Len returns the number of queries in the dataset (after filtering).
func (ds *Dataset) Len() int { return len(ds.indices) }

// NumFeatures returns the number of features of every document.
func (ds *Dataset) NumFeatures() int { return ds.numFeatures }

// IsSparse returns whether features are kept in sparse form.
func (ds *Dataset) IsSparse() bool { return ds.sparse }

// NumDocuments returns the total number of documents of the queries in the dataset.
func (ds *Dataset) NumDocuments() int {
	total := 0
	for _, idx := range ds.indices {
		total += ds.queries[idx].size()
	}
	return total
}

// MaxListSize returns the largest number of documents of a query.
func (ds *Dataset) MaxListSize() int {
	largest := 0
	for _, idx := range ds.indices {
		largest = max(largest, ds.queries[idx].size())
	}
	return largest
}

// Item returns the query at index i, in [0, Len()). The returned slices are shared with the dataset and must not
// be modified.
func (ds *Dataset) Item(i int) Item {
	q := ds.queries[ds.indices[i]]
	return Item{
		QID:            q.qid,
		Features:       q.dense,
		SparseFeatures: q.sparse,
		Relevance:      q.relevance,
		N:              q.size(),
	}
}

// IndexOf returns the index of the query with the given qid, or false if there is no such query (or it was
// filtered out).
func (ds *Dataset) IndexOf(qid int) (int, bool) {
	index, found := ds.qidIndex[qid]
	return index, found
}

// Select returns a copy of the item restricted to the documents at the given indices, in that order.
func (item Item) Select(indices []int) Item {
	out := Item{QID: item.QID, N: len(indices), Relevance: make([]int32, len(indices))}
	if item.Features != nil {
		out.Features = make([][]float32, len(indices))
	}
	if item.SparseFeatures != nil {
		out.SparseFeatures = make([][]SparseFeature, len(indices))
	}
	for ii, idx := range indices {
		out.Relevance[ii] = item.Relevance[idx]
		if item.Features != nil {
			out.Features[ii] = item.Features[idx]
		}
		if item.SparseFeatures != nil {
			out.SparseFeatures[ii] = item.SparseFeatures[idx]
		}
	}
	return out
}

// Dense returns the features of document doc as a dense row of numFeatures values.
func (item Item) Dense(doc, numFeatures int) []float32 {
	if item.Features != nil {
		return item.Features[doc]
	}
	row := make([]float32, numFeatures)
	for _, feature := range item.SparseFeatures[doc] {
		if feature.Index < numFeatures {
			row[feature.Index] = feature.Value
		}
	}
	return row
}
