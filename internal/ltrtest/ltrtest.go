// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ltrtest holds test utilities for packages that build ranking graphs.
package ltrtest

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

// DefaultBackend is used when the GOMLX_BACKEND environment variable is not set: the pure Go backend, which needs
// no C libraries.
const DefaultBackend = "go"

// GraphFn builds the outputs of a test graph from its parameters, one per input given to Run.
type GraphFn func(g *graph.Graph, params []*graph.Node) []*graph.Node

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// Backend returns the backend shared by all tests of the process.
func Backend() backends.Backend {
	backendOnce.Do(func() {
		config := os.Getenv(backends.ConfigEnvVar)
		if config == "" {
			config = DefaultBackend
		}
		var err error
		cachedBackend, err = backends.NewWithConfig(config)
		if err != nil {
			klog.Fatalf("Failed to create backend %q: %+v", config, err)
		}
	})
	return cachedBackend
}

// RunTensors compiles graphFn with one parameter per input, executes it once and returns its outputs.
//
// Inputs can be *tensors.Tensor or any Go value accepted by tensors.FromAnyValue (scalars, slices, multi-dimensional
// slices).
func RunTensors(t testing.TB, graphFn GraphFn, inputs ...any) []*tensors.Tensor {
	t.Helper()
	g := graph.NewGraph(Backend(), "ltrtest")
	inputTensors := make([]any, len(inputs))
	params := make([]*graph.Node, len(inputs))
	for ii, input := range inputs {
		tensor, ok := input.(*tensors.Tensor)
		if !ok {
			tensor = tensors.FromAnyValue(input)
		}
		inputTensors[ii] = tensor
		params[ii] = graph.Parameter(g, fmt.Sprintf("input_%d", ii), tensor.Shape())
	}
	var outputs []*tensors.Tensor
	require.NotPanics(t, func() {
		g.Compile(graphFn(g, params)...)
		outputs = g.Run(inputTensors...)
	}, "failed to build or execute test graph")
	return outputs
}

// Run is like RunTensors, but returns the outputs converted to Go values (see tensors.Tensor.Value).
func Run(t testing.TB, graphFn GraphFn, inputs ...any) []any {
	t.Helper()
	outputs := RunTensors(t, graphFn, inputs...)
	values := make([]any, len(outputs))
	for ii, output := range outputs {
		values[ii] = output.Value()
	}
	return values
}

// BuildPanics asserts that building the graph with graphFn panics.
func BuildPanics(t testing.TB, graphFn GraphFn, inputs ...any) {
	t.Helper()
	g := graph.NewGraph(Backend(), "ltrtest")
	params := make([]*graph.Node, len(inputs))
	for ii, input := range inputs {
		params[ii] = graph.Parameter(g, fmt.Sprintf("input_%d", ii), tensors.FromAnyValue(input).Shape())
	}
	require.Panics(t, func() { graphFn(g, params) })
}

// RNGState returns an RNG state tensor seeded with seed, to be given as an input to Run.
func RNGState(t testing.TB, seed int64) *tensors.Tensor {
	t.Helper()
	state, err := graph.RNGStateFromSeed(seed)
	require.NoError(t, err)
	return state
}
