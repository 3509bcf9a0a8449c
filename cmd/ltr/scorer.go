// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/ltr/pkg/datasets/svmrank"
	"github.com/pkg/errors"
)

// Scorer assigns a score to every document of a batch, shaped like its relevance.
type Scorer interface {
	Score(batch *svmrank.Batch) ([][]float32, error)
}

// FeatureScorer uses the value of one feature column as the score.
type FeatureScorer struct {
	Index int
}

// Score implements Scorer. Padded documents get a score of 0.
func (s FeatureScorer) Score(batch *svmrank.Batch) ([][]float32, error) {
	scores := make([][]float32, batch.Size())
	for b, docs := range batch.Features {
		scores[b] = make([]float32, len(docs))
		for d, row := range docs {
			if s.Index < 0 || s.Index >= len(row) {
				return nil, errors.Errorf("feature %d out of range for %d features", s.Index, len(row))
			}
			scores[b][d] = row[s.Index]
		}
	}
	return scores, nil
}

// FileScorer holds externally computed scores, one per document, for each query id.
type FileScorer struct {
	byQID map[int][]float32
}

// NewFileScorer reads scores, one per line in the document order of ds (the format of most ranking toolkits'
// prediction files), and assigns them to the queries of ds.
func NewFileScorer(r io.Reader, ds *svmrank.Dataset) (*FileScorer, error) {
	scanner := bufio.NewScanner(r)
	var values []float32
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Some tools write "qid docIdx score": the score is always the last field.
		fields := strings.Fields(line)
		v, err := strconv.ParseFloat(fields[len(fields)-1], 32)
		if err != nil {
			return nil, errors.Wrapf(err, "scores line %d", lineNum)
		}
		values = append(values, float32(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading scores")
	}
	if len(values) != ds.NumDocuments() {
		return nil, errors.Errorf("got %d scores for %d documents in %q", len(values), ds.NumDocuments(), ds.Name())
	}

	s := &FileScorer{byQID: make(map[int][]float32, ds.Len())}
	offset := 0
	for ii := range ds.Len() {
		item := ds.Item(ii)
		s.byQID[item.QID] = values[offset : offset+item.N]
		offset += item.N
	}
	return s, nil
}

// LoadFileScorer opens path and calls NewFileScorer.
func LoadFileScorer(path string, ds *svmrank.Dataset) (*FileScorer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening scores file %q", path)
	}
	defer func() { _ = f.Close() }()
	return NewFileScorer(f, ds)
}

// Score implements Scorer. Queries must not be truncated or resampled, so documents keep their position.
func (s *FileScorer) Score(batch *svmrank.Batch) ([][]float32, error) {
	scores := make([][]float32, batch.Size())
	for b, qid := range batch.QIDs {
		values, found := s.byQID[qid]
		if !found {
			return nil, errors.Errorf("no scores for query %d", qid)
		}
		if int(batch.N[b]) != len(values) {
			return nil, errors.Errorf("query %d has %d documents in the batch but %d scores, lists can't be truncated "+
				"when scoring from a file", qid, batch.N[b], len(values))
		}
		scores[b] = make([]float32, batch.ListSize())
		copy(scores[b], values)
	}
	return scores, nil
}
