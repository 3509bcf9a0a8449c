// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluation executes the ranking graphs (rankings, metrics, losses and click simulation) on a backend for
// host data, and summarizes the results.
//
// An Evaluator owns the RNG state used to break ties and to sample clicks, and threads it through every call, so
// a sequence of calls with the same seed is reproducible.
package evaluation

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/ltr/pkg/clicks"
	"github.com/gomlx/ltr/pkg/losses"
	"github.com/gomlx/ltr/pkg/metrics"
	"github.com/gomlx/ltr/pkg/ranking"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultSeed seeds the RNG state of a new Evaluator.
const DefaultSeed = 42

// Evaluator runs ranking computations for host data. It compiles one graph per operation and configuration, each
// caching one compilation per input shape.
//
// Evaluator is safe for concurrent use, calls are serialized.
type Evaluator struct {
	backend backends.Backend

	// mu protects everything below.
	mu       sync.Mutex
	rngState *tensors.Tensor
	execs    map[string]*graph.Exec
	exp      bool
}

// New creates an Evaluator on the given backend, with its RNG seeded with DefaultSeed.
func New(backend backends.Backend) *Evaluator {
	return &Evaluator{
		backend:  backend,
		rngState: must.M1(graph.RNGStateFromSeed(DefaultSeed)),
		execs:    make(map[string]*graph.Exec),
	}
}

// WithSeed resets the RNG state from seed.
//
// It returns the modified Evaluator, so calls can be cascaded.
func (e *Evaluator) WithSeed(seed int64) *Evaluator {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rngState = must.M1(graph.RNGStateFromSeed(seed))
	return e
}

// WithExponentialGain configures DCG and NDCG to use the gain 2^rel - 1 instead of rel.
//
// It returns the modified Evaluator, so calls can be cascaded.
func (e *Evaluator) WithExponentialGain(exp bool) *Evaluator {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exp = exp
	return e
}

// Finalize releases the compiled graphs. The Evaluator can still be used afterward, graphs are compiled again.
func (e *Evaluator) Finalize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, exec := range e.execs {
		exec.Finalize()
	}
	clear(e.execs)
}

// rngGraphFn builds outputs from the RNG state and the other inputs, returning the updated RNG state first.
type rngGraphFn func(rngState *graph.Node, inputs []*graph.Node) (newRngState *graph.Node, outputs []*graph.Node)

// run executes the graph registered under key (building it with fn the first time) with the current RNG state
// and the given inputs, stores the updated RNG state and returns the remaining outputs.
func (e *Evaluator) run(key string, fn rngGraphFn, inputs ...any) ([]*tensors.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, found := e.execs[key]
	if !found {
		var err error
		exec, err = graph.NewExec(e.backend, func(params []*graph.Node) []*graph.Node {
			newRngState, outputs := fn(params[0], params[1:])
			return append([]*graph.Node{newRngState}, outputs...)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "creating executor for %s", key)
		}
		e.execs[key] = exec
		klog.V(1).Infof("evaluation: created executor %q", key)
	}

	var outputs []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		var execErr error
		outputs, execErr = exec.Exec(append([]any{e.rngState}, inputs...)...)
		if execErr != nil {
			panic(execErr)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "executing %s", key)
	}
	e.rngState = outputs[0]
	return outputs[1:], nil
}

// Rank returns the ranking induced by scores (`[batchSize, listSize]`), with ties broken at random and padded
// documents (positions >= n) ranked last. Entry (b, r) of the result is the document at rank r of query b.
func (e *Evaluator) Rank(scores, n any) (*tensors.Tensor, error) {
	outputs, err := e.run("rank", func(rngState *graph.Node, inputs []*graph.Node) (*graph.Node, []*graph.Node) {
		newRngState, order := ranking.RankByScore(rngState, inputs[0], inputs[1])
		return newRngState, []*graph.Node{order}
	}, scores, n)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// Result holds the metrics of a batch of queries.
type Result struct {
	// K is the rank cutoff of DCG and NDCG.
	K int

	// DCG, NDCG and ARP per query.
	DCG, NDCG, ARP []float64

	// NDCGCurve holds the NDCG of each query at every cutoff 1..listSize.
	NDCGCurve [][]float64

	// Ranking is the Int32 `[batchSize, listSize]` ranking the metrics were computed on: entry (b, r) is the
	// document at rank r of query b.
	Ranking *tensors.Tensor
}

// Metrics computes DCG@k, NDCG@k, ARP and the full NDCG curve of the ranking induced by scores. k <= 0 evaluates
// the metrics at the full list size.
//
// The ranking used for all the metrics is the same, with the same tie-breaking, and is returned in
// Result.Ranking.
func (e *Evaluator) Metrics(scores, relevance, n any, k int) (*Result, error) {
	e.mu.Lock()
	exp := e.exp
	e.mu.Unlock()
	key := fmt.Sprintf("metrics(exp=%v)", exp)
	outputs, err := e.run(key, func(rngState *graph.Node, inputs []*graph.Node) (*graph.Node, []*graph.Node) {
		s, rel, lengths := inputs[0], inputs[1], inputs[2]
		// Metrics are computed from one tie-breaking of the scores, with the same RNG state.
		newRngState, dcgCurve := metrics.DCGCurve(rngState, s, rel, lengths, exp)
		_, ndcgCurve := metrics.NDCG(rngState, s, rel, lengths, metrics.FullCurve, exp)
		_, arp := metrics.ARP(rngState, s, rel, lengths)
		_, order := metrics.Rank(rngState, s, lengths)
		return newRngState, []*graph.Node{
			graph.ConvertDType(dcgCurve, dtypes.Float64),
			graph.ConvertDType(ndcgCurve, dtypes.Float64),
			graph.ConvertDType(arp, dtypes.Float64),
			order,
		}
	}, scores, relevance, n)
	if err != nil {
		return nil, err
	}
	dcgCurve := outputs[0].Value().([][]float64)
	ndcgCurve := outputs[1].Value().([][]float64)
	result := &Result{
		K:         k,
		DCG:       make([]float64, len(dcgCurve)),
		NDCG:      make([]float64, len(ndcgCurve)),
		ARP:       outputs[2].Value().([]float64),
		NDCGCurve: ndcgCurve,
		Ranking:   outputs[3],
	}
	for b := range dcgCurve {
		result.DCG[b] = atCutoff(dcgCurve[b], k)
		result.NDCG[b] = atCutoff(ndcgCurve[b], k)
	}
	return result, nil
}

// atCutoff mirrors metrics.AtCutoff for one row of a curve, with k <= 0 meaning the full list.
func atCutoff(curve []float64, k int) float64 {
	if len(curve) == 0 {
		return 0
	}
	if k <= 0 || k > len(curve) {
		k = len(curve)
	}
	return curve[k-1]
}

// LossNames lists the losses accepted by Evaluator.Loss.
var LossNames = []string{
	"hinge", "dcg_hinge", "logistic",
	"lambda_arp1", "lambda_arp2", "lambda_ndcg1", "lambda_ndcg2",
}

// lossGraphFn returns the graph function of the named loss.
func lossGraphFn(name string) (rngGraphFn, error) {
	var additive losses.PairPolicy
	var lambda losses.LambdaPolicy
	switch name {
	case "hinge":
		additive = losses.PairwiseHinge{}
	case "dcg_hinge":
		additive = losses.PairwiseDCGHinge{}
	case "logistic":
		additive = losses.NewPairwiseLogistic()
	case "lambda_arp1":
		lambda = losses.LambdaARP1{}
	case "lambda_arp2":
		lambda = losses.LambdaARP2{}
	case "lambda_ndcg1":
		lambda = losses.LambdaNDCG1{}
	case "lambda_ndcg2":
		lambda = losses.LambdaNDCG2{}
	default:
		return nil, errors.Errorf("unknown loss %q, valid losses are %v", name, LossNames)
	}
	return func(rngState *graph.Node, inputs []*graph.Node) (*graph.Node, []*graph.Node) {
		scores, relevance, n := inputs[0], inputs[1], inputs[2]
		if additive != nil {
			return graph.Identity(rngState), []*graph.Node{losses.AdditivePairwise(additive, scores, relevance, n)}
		}
		newRngState, loss := losses.Lambda(lambda, rngState, scores, relevance, n)
		return newRngState, []*graph.Node{loss}
	}, nil
}

// Loss computes the named loss (see LossNames) of each query, returned as a tensor shaped `[batchSize]` with the
// dtype of the scores. Scores must be a float type.
func (e *Evaluator) Loss(name string, scores, relevance, n any) (*tensors.Tensor, error) {
	fn, err := lossGraphFn(name)
	if err != nil {
		return nil, err
	}
	outputs, err := e.run("loss:"+name, fn, scores, relevance, n)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// SimulateClicks samples clicks on the given rankings with the position-based click model, and returns the
// clicks (Int32, 1 for a click) and the observation propensities of each document, both shaped
// `[batchSize, listSize]` and indexed by document.
func (e *Evaluator) SimulateClicks(model clicks.Model, rankings, relevance, n any, cutoff int, eta float64) (
	clicked, propensities *tensors.Tensor, err error) {
	if !slices.Contains(clicks.Models, model) {
		return nil, nil, errors.Errorf("unknown click model %q, valid models are %v", model, clicks.Models)
	}
	key := fmt.Sprintf("clicks:%s(cutoff=%d,eta=%g)", model, cutoff, eta)
	outputs, err := e.run(key, func(rngState *graph.Node, inputs []*graph.Node) (*graph.Node, []*graph.Node) {
		newRngState, c, p := clicks.Simulate(model, rngState, inputs[0], inputs[1], inputs[2], cutoff, eta)
		return newRngState, []*graph.Node{c, p}
	}, rankings, relevance, n)
	if err != nil {
		return nil, nil, err
	}
	return outputs[0], outputs[1], nil
}
