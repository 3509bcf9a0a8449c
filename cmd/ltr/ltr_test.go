// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/ltr/pkg/datasets/svmrank"
	"github.com/gomlx/ltr/pkg/evaluation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testData = `3 qid:1 1:0.1 2:5
0 qid:1 1:0.9 2:1
1 qid:1 1:0.5 2:2
2 qid:7 1:0.3 2:4
0 qid:7 1:0.2 2:3
`

func testBatch(t *testing.T) (*svmrank.Dataset, *svmrank.Batch) {
	ds, err := svmrank.Parse(strings.NewReader(testData), svmrank.Options{})
	require.NoError(t, err)
	batch, err := svmrank.Collate([]svmrank.Item{ds.Item(0), ds.Item(1)}, ds.NumFeatures(), 0, nil)
	require.NoError(t, err)
	return ds, batch
}

func TestFeatureScorer(t *testing.T) {
	_, batch := testBatch(t)
	scores, err := FeatureScorer{Index: 1}.Score(batch)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5, 1, 2}, {4, 3, 0}}, scores)

	_, err = FeatureScorer{Index: 2}.Score(batch)
	assert.Error(t, err)
}

func TestFileScorer(t *testing.T) {
	ds, batch := testBatch(t)
	scorer, err := NewFileScorer(strings.NewReader("0.5\n1 1 -2\n\n3\n4\n5\n"), ds)
	require.NoError(t, err)
	scores, err := scorer.Score(batch)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, -2, 3}, {4, 5, 0}}, scores)

	_, err = NewFileScorer(strings.NewReader("1\n2\n"), ds)
	assert.Error(t, err, "wrong number of scores")
	_, err = NewFileScorer(strings.NewReader("1\n2\nx\n4\n5\n"), ds)
	assert.Error(t, err)

	// Truncated lists don't match the scores.
	batch.N[0] = 2
	_, err = scorer.Score(batch)
	assert.Error(t, err)
}

func testAccumulator(t *testing.T) *evaluation.Accumulator {
	acc := evaluation.NewAccumulator()
	require.NoError(t, acc.AddMetrics([]int{1, 7}, []int{3, 2}, &evaluation.Result{
		K:         2,
		DCG:       []float64{3, 2},
		NDCG:      []float64{1, 1},
		ARP:       []float64{1.25, 1},
		NDCGCurve: [][]float64{{1, 1, 1}, {1, 1, 1}},
	}))
	acc.AddLoss("hinge", []float64{0, 0.5})
	return acc
}

func TestPerQueryFrame(t *testing.T) {
	acc := testAccumulator(t)
	df, err := PerQueryFrame(acc, 2, []float64{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"qid", "n", "DCG@2", "NDCG@2", "ARP", "hinge", ClicksColumn}, df.Names())
	assert.Equal(t, 2, df.Nrow())
	assert.Equal(t, []float64{0, 0.5}, df.Col("hinge").Float())

	_, err = PerQueryFrame(acc, 2, []float64{1})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, WriteReport(path, df))
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "qid,n,DCG@2,NDCG@2,ARP,hinge,clicks", lines[0])
}

func TestPlotNDCGCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndcg.png")
	require.NoError(t, PlotNDCGCurve(path, "test", []float64{0.5, 0.7, 0.8}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Error(t, PlotNDCGCurve(path, "test", nil))
}

func TestSummaryTable(t *testing.T) {
	table := SummaryTable(testAccumulator(t).Summaries(2))
	for _, name := range []string{"DCG@2", "NDCG@2", "ARP", "hinge", "2.5000", "mean"} {
		assert.Contains(t, table, name)
	}
}
