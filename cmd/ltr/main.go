// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// ltr evaluates the ranking of an SVM-rank dataset given by a scoring function: a feature column or a file of
// externally computed scores.
//
// It reports DCG@k, NDCG@k and ARP, the ranking losses of the scores, and optionally simulates clicks with a
// position-based click model. It can export the data as TREC qrels and run files, a per-query CSV report and a
// plot of the NDCG@k curve.
//
// Usage:
//
//	ltr -data=test.txt -feature=3 -k=10
//	ltr -data=test.txt -scores=predictions.txt -loss=hinge,lambda_ndcg2 -simulate=position -report=report.csv
//	ltr -data=test.txt -feature=0 -qrels=test.qrels -run=test.run -plot=ndcg.png
package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/ltr/pkg/clicks"
	"github.com/gomlx/ltr/pkg/datasets/svmrank"
	"github.com/gomlx/ltr/pkg/evaluation"
	"github.com/gomlx/ltr/pkg/metrics"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagData      = flag.String("data", "", "SVM-rank dataset file to evaluate.")
	flagScores    = flag.String("scores", "", "File with one score per document, in the order of the dataset. Takes precedence over -feature.")
	flagFeature   = flag.Int("feature", 0, "Feature column (0-based, after index base adjustment) used as score if -scores is not given.")
	flagNormalize = flag.Bool("normalize", false, "Query-level min-max normalization of the features.")
	flagFilter    = flag.Bool("filter", false, "Skip queries without relevant documents.")
	flagK         = flag.Int("k", 10, "Rank cutoff of DCG and NDCG. 0 for the full list.")
	flagExpGain   = flag.Bool("exp_gain", false, "Use the gain 2^rel-1 for DCG and NDCG, instead of rel.")
	flagBatch     = flag.Int("batch", 32, "Number of queries evaluated at once.")
	flagMaxList   = flag.Int("max_list", 0, "If > 0, queries with more documents are truncated to a random subset of this size.")
	flagSeed      = flag.Int64("seed", 42, "Seed for tie-breaking, truncation and click simulation.")
	flagLosses    = flag.String("loss", "hinge,logistic,lambda_ndcg2", fmt.Sprintf("Comma separated losses to report, from %v.", evaluation.LossNames))
	flagSimulate  = flag.String("simulate", "", fmt.Sprintf("Click model to simulate on the ranking, one of %v.", clicks.Models))
	flagCutoff    = flag.Int("cutoff", clicks.NoCutoff, "Rank beyond which simulated users never click. 0 for no cutoff.")
	flagEta       = flag.Float64("eta", clicks.DefaultEta, "Severity of the position bias of simulated clicks.")
	flagQrels     = flag.String("qrels", "", "Write the relevance judgements in TREC qrels format to this file.")
	flagRun       = flag.String("run", "", "Write the ranking in TREC run format to this file.")
	flagRunTag    = flag.String("run_tag", "", "Tag of the TREC run. Random if empty.")
	flagReport    = flag.String("report", "", "Write a per-query CSV report to this file.")
	flagDescribe  = flag.Bool("describe", false, "Print the statistics of every column of the per-query report.")
	flagPlot      = flag.String("plot", "", "Save a plot of the mean NDCG@k curve to this file (e.g. ndcg.png).")
	flagNoColor   = flag.Bool("no_color", false, "Disable colors in the output.")
	flagBackend   = flag.String("backend", "", "Backend to use (default: auto-detect).")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagBackend != "" {
		if err := os.Setenv(backends.ConfigEnvVar, *flagBackend); err != nil {
			klog.Warningf("Failed to set backend: %v", err)
		}
	}
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	} else {
		lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
	}
	if err := run(); err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

// config holds the validated command line configuration.
type config struct {
	lossNames []string
	model     clicks.Model
}

func parseConfig() (*config, error) {
	if *flagData == "" {
		return nil, errors.New("-data is required")
	}
	if *flagBatch < 1 {
		return nil, errors.Errorf("-batch=%d must be at least 1", *flagBatch)
	}
	c := &config{}
	for _, name := range strings.Split(*flagLosses, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !slices.Contains(evaluation.LossNames, name) {
			return nil, errors.Errorf("unknown loss %q in -loss, valid losses are %v", name, evaluation.LossNames)
		}
		c.lossNames = append(c.lossNames, name)
	}
	if *flagSimulate != "" {
		c.model = clicks.Model(*flagSimulate)
		if !slices.Contains(clicks.Models, c.model) {
			return nil, errors.Errorf("unknown click model %q in -simulate, valid models are %v", c.model, clicks.Models)
		}
	}
	if *flagScores != "" && *flagMaxList > 0 {
		return nil, errors.New("-max_list can't be used with -scores: truncated lists lose the document positions")
	}
	return c, nil
}

func run() error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}
	ds, err := svmrank.Load(*flagData, svmrank.Options{Normalize: *flagNormalize, FilterQueries: *flagFilter})
	if err != nil {
		return err
	}
	fmt.Printf("Dataset %q: %s queries, %s documents, %d features\n", ds.Name(), humanize.Comma(int64(ds.Len())),
		humanize.Comma(int64(ds.NumDocuments())), ds.NumFeatures())
	if ds.Len() == 0 {
		return errors.Errorf("no queries in %q", ds.Name())
	}

	var scorer Scorer = FeatureScorer{Index: *flagFeature}
	if *flagScores != "" {
		scorer, err = LoadFileScorer(*flagScores, ds)
		if err != nil {
			return err
		}
	} else if *flagFeature < 0 || *flagFeature >= ds.NumFeatures() {
		return errors.Errorf("-feature=%d out of range, the dataset has %d features", *flagFeature, ds.NumFeatures())
	}
	if *flagMaxList > 0 && ds.MaxListSize() > *flagMaxList {
		klog.Warningf("Queries with more than %d documents (up to %d) will be truncated", *flagMaxList, ds.MaxListSize())
	}

	backend, err := backends.New()
	if err != nil {
		return errors.WithMessage(err, "creating backend")
	}
	defer backend.Finalize()
	klog.V(1).Infof("Backend: %s", backend.Description())
	evaluator := evaluation.New(backend).WithSeed(*flagSeed).WithExponentialGain(*flagExpGain)
	defer evaluator.Finalize()

	loader := svmrank.NewLoader(ds).
		BatchSize(*flagBatch, false).
		MaxListSize(*flagMaxList).
		WithRand(rand.New(rand.NewPCG(uint64(*flagSeed), uint64(*flagSeed))))

	acc := evaluation.NewAccumulator()
	var clickCounts []float64
	if cfg.model != "" {
		clickCounts = make([]float64, 0, ds.Len())
	}
	qrel, trecRun := make(metrics.Qrel), make(metrics.Run)

	numBatches := (ds.Len() + *flagBatch - 1) / *flagBatch
	bar := progressbar.NewOptions(numBatches,
		progressbar.OptionSetDescription("Evaluating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(os.Stderr) }),
	)
	for {
		batch, err := loader.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		batchClicks, err := evaluateBatch(evaluator, cfg, scorer, batch, acc, qrel, trecRun)
		if err != nil {
			return errors.WithMessagef(err, "evaluating batch of queries %v", batch.QIDs)
		}
		clickCounts = append(clickCounts, batchClicks...)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	summaries := acc.Summaries(*flagK)
	if clickCounts != nil {
		summaries = append(summaries, evaluation.Summarize("clicks ("+string(cfg.model)+")", clickCounts))
	}
	fmt.Println(SummaryTable(summaries))
	return writeOutputs(acc, clickCounts, qrel, trecRun)
}

// evaluateBatch accumulates the metrics and losses of the batch, merges its TREC judgements and ranking into qrel
// and trecRun, and returns the number of simulated clicks per query (nil if not simulating).
func evaluateBatch(evaluator *evaluation.Evaluator, cfg *config, scorer Scorer, batch *svmrank.Batch,
	acc *evaluation.Accumulator, qrel metrics.Qrel, trecRun metrics.Run) ([]float64, error) {
	scores, err := scorer.Score(batch)
	if err != nil {
		return nil, err
	}
	scoresT := tensors.FromValue(scores)
	relevance := tensors.FromValue(batch.Relevance)
	n := tensors.FromValue(batch.N)

	result, err := evaluator.Metrics(scoresT, relevance, n, *flagK)
	if err != nil {
		return nil, err
	}
	if err := acc.AddMetrics(batch.QIDs, batch.Lengths(), result); err != nil {
		return nil, err
	}
	for _, name := range cfg.lossNames {
		loss, err := evaluator.Loss(name, scoresT, relevance, n)
		if err != nil {
			return nil, err
		}
		values, err := evaluation.TensorToFloats(loss)
		if err != nil {
			return nil, err
		}
		acc.AddLoss(name, values)
	}

	if *flagQrels != "" || *flagRun != "" {
		batchQrel, batchRun, err := metrics.GenerateTrecEval(scores, batch.Relevance, batch.Lengths(),
			metrics.DefaultTrecOptions().WithQIDs(batch.QIDs))
		if err != nil {
			return nil, err
		}
		for qid, docs := range batchQrel {
			qrel[qid] = docs
		}
		for qid, docs := range batchRun {
			trecRun[qid] = docs
		}
	}

	if cfg.model == "" {
		return nil, nil
	}
	// Clicks are simulated on the same ranking the metrics were computed on.
	clicked, _, err := evaluator.SimulateClicks(cfg.model, result.Ranking, relevance, n, *flagCutoff, *flagEta)
	if err != nil {
		return nil, err
	}
	counts := make([]float64, batch.Size())
	for b, row := range clicked.Value().([][]int32) {
		for _, c := range row {
			counts[b] += float64(c)
		}
	}
	return counts, nil
}

func writeOutputs(acc *evaluation.Accumulator, clickCounts []float64, qrel metrics.Qrel, trecRun metrics.Run) error {
	if *flagQrels != "" {
		if err := writeFile(*flagQrels, func(w io.Writer) error { return metrics.WriteQrels(w, qrel) }); err != nil {
			return err
		}
	}
	if *flagRun != "" {
		if err := writeFile(*flagRun, func(w io.Writer) error { return metrics.WriteRun(w, trecRun, *flagRunTag) }); err != nil {
			return err
		}
	}
	if *flagReport != "" || *flagDescribe {
		df, err := PerQueryFrame(acc, *flagK, clickCounts)
		if err != nil {
			return err
		}
		if *flagDescribe {
			PrintDescription(os.Stdout, df)
		}
		if *flagReport != "" {
			if err := WriteReport(*flagReport, df); err != nil {
				return err
			}
		}
	}
	if *flagPlot != "" {
		maxK := *flagK
		if maxK <= 0 {
			maxK = slices.Max(acc.Lengths)
		}
		if err := PlotNDCGCurve(*flagPlot, *flagData, acc.MeanNDCGCurve(maxK)); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "file %q", path)
	}
	klog.V(1).Infof("Wrote %q", path)
	return errors.Wrapf(f.Close(), "closing %q", path)
}
