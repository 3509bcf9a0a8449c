// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/ltr/pkg/evaluation"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ClicksColumn is the report column with the number of simulated clicks per query.
const ClicksColumn = "clicks"

// PerQueryFrame builds a dataframe with one row per query: its id, number of documents, metrics, losses and
// (if clicks is not nil) number of simulated clicks.
func PerQueryFrame(acc *evaluation.Accumulator, k int, clicks []float64) (dataframe.DataFrame, error) {
	numQueries := acc.NumQueries()
	columns := []series.Series{
		series.New(acc.QIDs, series.Int, "qid"),
		series.New(acc.Lengths, series.Int, "n"),
		series.New(acc.DCG, series.Float, metricColumn("DCG", k)),
		series.New(acc.NDCG, series.Float, metricColumn("NDCG", k)),
		series.New(acc.ARP, series.Float, "ARP"),
	}
	names := make([]string, 0, len(acc.Losses))
	for name := range acc.Losses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if len(acc.Losses[name]) != numQueries {
			return dataframe.DataFrame{}, errors.Errorf("loss %q has %d values for %d queries", name,
				len(acc.Losses[name]), numQueries)
		}
		columns = append(columns, series.New(acc.Losses[name], series.Float, name))
	}
	if clicks != nil {
		if len(clicks) != numQueries {
			return dataframe.DataFrame{}, errors.Errorf("got click counts for %d of %d queries", len(clicks), numQueries)
		}
		columns = append(columns, series.New(clicks, series.Float, ClicksColumn))
	}
	df := dataframe.New(columns...)
	return df, errors.Wrap(df.Err, "building per-query report")
}

func metricColumn(metric string, k int) string {
	if k <= 0 {
		return metric
	}
	return fmt.Sprintf("%s@%d", metric, k)
}

// WriteReport writes the per-query dataframe as CSV to path.
func WriteReport(path string, df dataframe.DataFrame) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating report %q", path)
	}
	if err := df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing report %q", path)
	}
	return errors.Wrapf(f.Close(), "closing report %q", path)
}

// PlotNDCGCurve saves a PNG (or any format supported by gonum/plot, chosen by the file extension) with the mean
// NDCG@k for k = 1..len(curve).
func PlotNDCGCurve(path, title string, curve []float64) error {
	if len(curve) == 0 {
		return errors.New("empty NDCG curve")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "k"
	p.X.Min = 1
	p.X.Max = float64(max(len(curve), 2))
	p.Y.Label.Text = "NDCG@k"
	p.Y.Min = 0
	p.Y.Max = 1.05
	p.Add(plotter.NewGrid())

	points := make(plotter.XYs, len(curve))
	for ii, v := range curve {
		points[ii].X = float64(ii + 1)
		points[ii].Y = v
	}
	line, err := plotter.NewLine(points)
	if err != nil {
		return errors.Wrap(err, "plotting NDCG curve")
	}
	p.Add(line)
	p.Legend.Add("mean NDCG@k", line)
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving plot to %q", path)
	}
	return nil
}

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// SummaryTable renders the summaries as a table for the terminal.
func SummaryTable(summaries []evaluation.Summary) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0:
				return normalStyle
			}
			return rightAlignedStyle
		}).
		Headers("", "queries", "mean", "std", "min", "max")
	for _, s := range summaries {
		table.Row(s.Name, fmt.Sprintf("%d", s.Count), formatValue(s.Mean), formatValue(s.StdDev),
			formatValue(s.Min), formatValue(s.Max))
	}
	return table.String()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

// PrintDescription prints the summary statistics gota computes for every column of the report.
func PrintDescription(w io.Writer, df dataframe.DataFrame) {
	_, _ = fmt.Fprintln(w, df.Describe())
}
