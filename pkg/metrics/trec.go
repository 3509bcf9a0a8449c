// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/ltr/pkg/ranking"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Qrel holds TREC relevance judgements: qrel[queryID][docID] = relevance.
type Qrel map[string]map[string]int

// Run holds a TREC run: run[queryID][docID] = score.
type Run map[string]map[string]float64

// TrecOptions configures how a batch is converted to TREC query and document identifiers.
//
// Use DefaultTrecOptions for the usual "q" and "d" prefixes: the zero value has empty prefixes.
type TrecOptions struct {
	// QIDs optionally holds the query id of each example in the batch.
	// If nil, query ids are the example index plus QIDOffset.
	QIDs []int

	// QIDOffset is added to the example index when QIDs is nil. Useful to give unique ids across batches.
	QIDOffset int

	// QueryPrefix and DocPrefix are prepended to the query and document numbers. They may be empty.
	QueryPrefix, DocPrefix string
}

// DefaultTrecOptions returns the options with query ids prefixed by "q" and document ids prefixed by "d".
func DefaultTrecOptions() TrecOptions {
	return TrecOptions{QueryPrefix: "q", DocPrefix: "d"}
}

// WithQIDs returns a copy of opts using the given query id for each example of the batch.
func (opts TrecOptions) WithQIDs(qids []int) TrecOptions {
	opts.QIDs = qids
	return opts
}

// WithQIDOffset returns a copy of opts with the given QIDOffset.
func (opts TrecOptions) WithQIDOffset(offset int) TrecOptions {
	opts.QIDOffset = offset
	return opts
}

// WithPrefixes returns a copy of opts with the given query and document prefixes. Empty prefixes are kept empty.
func (opts TrecOptions) WithPrefixes(queryPrefix, docPrefix string) TrecOptions {
	opts.QueryPrefix, opts.DocPrefix = queryPrefix, docPrefix
	return opts
}

// GenerateTrecEval converts a batch of scores and relevance labels to TREC qrels and run, with one entry per valid
// (query, document) pair: documents at positions >= n[b] are skipped.
//
// Document ids are DocPrefix followed by the document position in the list.
func GenerateTrecEval[S, R ranking.Number](scores [][]S, relevance [][]R, n []int, opts TrecOptions) (Qrel, Run, error) {
	if len(scores) != len(relevance) || len(scores) != len(n) {
		return nil, nil, errors.Errorf("batch sizes of scores (%d), relevance (%d) and n (%d) differ",
			len(scores), len(relevance), len(n))
	}
	if opts.QIDs != nil && len(opts.QIDs) != len(n) {
		return nil, nil, errors.Errorf("got %d query ids for a batch of %d", len(opts.QIDs), len(n))
	}
	qrel := make(Qrel, len(n))
	run := make(Run, len(n))
	for b := range n {
		if n[b] < 0 || n[b] > len(scores[b]) || n[b] > len(relevance[b]) {
			return nil, nil, errors.Errorf("example %d: n=%d out of range for %d scores and %d relevance labels",
				b, n[b], len(scores[b]), len(relevance[b]))
		}
		qidNum := b + opts.QIDOffset
		if opts.QIDs != nil {
			qidNum = opts.QIDs[b]
		}
		qid := fmt.Sprintf("%s%d", opts.QueryPrefix, qidNum)
		qrel[qid] = make(map[string]int, n[b])
		run[qid] = make(map[string]float64, n[b])
		for d := range n[b] {
			docID := fmt.Sprintf("%s%d", opts.DocPrefix, d)
			qrel[qid][docID] = int(relevance[b][d])
			run[qid][docID] = float64(scores[b][d])
		}
	}
	return qrel, run, nil
}

// TrecFromTensors is like GenerateTrecEval, but takes the batch as tensors: scores and relevance shaped
// `[batchSize, listSize]` (or `[batchSize, listSize, 1]`) and n shaped `[batchSize]`.
func TrecFromTensors(scores, relevance, n *tensors.Tensor, opts TrecOptions) (Qrel, Run, error) {
	scoresM, err := TensorToMatrix(scores)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "scores")
	}
	relevanceM, err := TensorToMatrix(relevance)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "relevance")
	}
	lengths, err := TensorToInts(n)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "n")
	}
	return GenerateTrecEval(scoresM, relevanceM, lengths, opts)
}

// TensorToMatrix converts a numeric tensor shaped `[batchSize, listSize]` or `[batchSize, listSize, 1]` to a
// [][]float64.
func TensorToMatrix(t *tensors.Tensor) ([][]float64, error) {
	dims := t.Shape().Dimensions
	if len(dims) != 2 && (len(dims) != 3 || dims[2] != 1) {
		return nil, errors.Errorf("expected a tensor shaped [batchSize, listSize], got %s", t.Shape())
	}
	flat, err := flatFloat64(t)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, dims[0])
	for b := range out {
		out[b] = flat[b*dims[1] : (b+1)*dims[1]]
	}
	return out, nil
}

// TensorToInts converts an integer tensor shaped `[batchSize]` to an []int.
func TensorToInts(t *tensors.Tensor) ([]int, error) {
	if t.Shape().Rank() != 1 {
		return nil, errors.Errorf("expected a tensor shaped [batchSize], got %s", t.Shape())
	}
	flat, err := flatFloat64(t)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(flat))
	for ii, v := range flat {
		out[ii] = int(v)
	}
	return out, nil
}

func flatFloat64(t *tensors.Tensor) (out []float64, err error) {
	switch flat := t.Value().(type) {
	case []float32:
		out = convertSlice(flat)
	case []float64:
		out = flat
	case []int32:
		out = convertSlice(flat)
	case []int64:
		out = convertSlice(flat)
	case [][]float32:
		out = convertSlice(slices.Concat(flat...))
	case [][]float64:
		out = slices.Concat(flat...)
	case [][]int32:
		out = convertSlice(slices.Concat(flat...))
	case [][]int64:
		out = convertSlice(slices.Concat(flat...))
	case [][][]float32:
		out = convertSlice(flattenColumns(flat))
	case [][][]float64:
		out = flattenColumns(flat)
	case [][][]int32:
		out = convertSlice(flattenColumns(flat))
	case [][][]int64:
		out = convertSlice(flattenColumns(flat))
	default:
		err = errors.Errorf("unsupported tensor %s", t.Shape())
	}
	return
}

func convertSlice[T ranking.Number](values []T) []float64 {
	out := make([]float64, len(values))
	for ii, v := range values {
		out[ii] = float64(v)
	}
	return out
}

func flattenColumns[T ranking.Number](values [][][]T) []T {
	var out []T
	for _, row := range values {
		for _, col := range row {
			out = append(out, col...)
		}
	}
	return out
}

// sortedKeys returns the keys of m sorted by their numeric suffix (after prefix) when present, lexicographically
// otherwise, so "q2" comes before "q10".
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		na, errA := strconv.Atoi(strings.TrimLeft(a, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-"))
		nb, errB := strconv.Atoi(strings.TrimLeft(b, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-"))
		if errA == nil && errB == nil && na != nb {
			return cmp.Compare(na, nb)
		}
		return cmp.Compare(a, b)
	})
	return keys
}

// WriteQrels writes qrel in the standard TREC qrels format, one "qid 0 docid relevance" line per judgement.
func WriteQrels(w io.Writer, qrel Qrel) error {
	bw := bufio.NewWriter(w)
	for _, qid := range sortedKeys(qrel) {
		docs := qrel[qid]
		for _, docID := range sortedKeys(docs) {
			if _, err := fmt.Fprintf(bw, "%s 0 %s %d\n", qid, docID, docs[docID]); err != nil {
				return errors.Wrap(err, "writing qrels")
			}
		}
	}
	return errors.Wrap(bw.Flush(), "writing qrels")
}

// WriteRun writes run in the standard TREC run format, one "qid Q0 docid rank score tag" line per document,
// documents of each query ordered by decreasing score (ranks start at 1).
//
// If tag is empty a random one is generated.
func WriteRun(w io.Writer, run Run, tag string) error {
	if tag == "" {
		tag = "ltr-" + uuid.NewString()[:8]
	}
	bw := bufio.NewWriter(w)
	for _, qid := range sortedKeys(run) {
		docs := run[qid]
		docIDs := sortedKeys(docs)
		slices.SortStableFunc(docIDs, func(a, b string) int {
			return cmp.Compare(docs[b], docs[a])
		})
		for rank, docID := range docIDs {
			if _, err := fmt.Fprintf(bw, "%s Q0 %s %d %g %s\n", qid, docID, rank+1, docs[docID], tag); err != nil {
				return errors.Wrap(err, "writing run")
			}
		}
	}
	return errors.Wrap(bw.Flush(), "writing run")
}
