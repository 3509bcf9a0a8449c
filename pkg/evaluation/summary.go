// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary of a per-query value over a set of queries.
type Summary struct {
	Name         string
	Count        int
	Mean, StdDev float64
	Min, Max     float64
}

// Summarize computes the summary statistics of values. The standard deviation of fewer than 2 values is 0, and
// all statistics of an empty set are NaN.
func Summarize(name string, values []float64) Summary {
	s := Summary{Name: name, Count: len(values)}
	if len(values) == 0 {
		s.Mean, s.StdDev, s.Min, s.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		s.StdDev = 0
	}
	s.Min, s.Max = floats.Min(values), floats.Max(values)
	return s
}

// Accumulator collects per-query metrics and losses over many batches.
type Accumulator struct {
	QIDs []int

	// Lengths holds the number of documents of each query.
	Lengths []int

	DCG, NDCG, ARP []float64

	// Losses per query, by loss name.
	Losses map[string][]float64

	ndcgCurves [][]float64
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{Losses: make(map[string][]float64)}
}

// NumQueries returns the number of queries accumulated.
func (a *Accumulator) NumQueries() int { return len(a.QIDs) }

// AddMetrics appends the metrics of a batch of queries.
func (a *Accumulator) AddMetrics(qids, lengths []int, result *Result) error {
	if len(qids) != len(result.DCG) || len(lengths) != len(result.DCG) {
		return errors.Errorf("batch of %d queries given %d qids and %d lengths", len(result.DCG), len(qids),
			len(lengths))
	}
	a.QIDs = append(a.QIDs, qids...)
	a.Lengths = append(a.Lengths, lengths...)
	a.DCG = append(a.DCG, result.DCG...)
	a.NDCG = append(a.NDCG, result.NDCG...)
	a.ARP = append(a.ARP, result.ARP...)
	for b, curve := range result.NDCGCurve {
		// Only the valid part of the curve: it is constant beyond the number of documents.
		a.ndcgCurves = append(a.ndcgCurves, slices.Clone(curve[:min(lengths[b], len(curve))]))
	}
	return nil
}

// AddLoss appends the per-query values of the named loss.
func (a *Accumulator) AddLoss(name string, values []float64) {
	a.Losses[name] = append(a.Losses[name], values...)
}

// MeanNDCGCurve returns the NDCG@k averaged over the queries, for k = 1..maxK. Queries with fewer than k
// documents contribute their NDCG over all their documents.
func (a *Accumulator) MeanNDCGCurve(maxK int) []float64 {
	mean := make([]float64, maxK)
	if len(a.ndcgCurves) == 0 {
		return mean
	}
	for _, curve := range a.ndcgCurves {
		if len(curve) == 0 {
			continue
		}
		for k := range maxK {
			mean[k] += curve[min(k, len(curve)-1)]
		}
	}
	floats.Scale(1/float64(len(a.ndcgCurves)), mean)
	return mean
}

// Summaries returns the summary of every accumulated metric and loss, metrics first, then losses sorted by name.
func (a *Accumulator) Summaries(k int) []Summary {
	summaries := []Summary{
		Summarize(metricName("DCG", k), a.DCG),
		Summarize(metricName("NDCG", k), a.NDCG),
		Summarize("ARP", a.ARP),
	}
	names := make([]string, 0, len(a.Losses))
	for name := range a.Losses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		summaries = append(summaries, Summarize(name, a.Losses[name]))
	}
	return summaries
}

func metricName(metric string, k int) string {
	if k <= 0 {
		return metric
	}
	return fmt.Sprintf("%s@%d", metric, k)
}

// TensorToFloats converts a float tensor shaped `[batchSize]` to a []float64.
func TensorToFloats(t *tensors.Tensor) ([]float64, error) {
	switch values := t.Value().(type) {
	case []float64:
		return values, nil
	case []float32:
		out := make([]float64, len(values))
		for ii, v := range values {
			out[ii] = float64(v)
		}
		return out, nil
	}
	return nil, errors.Errorf("expected a float tensor shaped [batchSize], got %s", t.Shape())
}
