package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// runEDA reads the dataset metadata CSV, computes per-tile road coverage
// from the training masks and saves a coverage histogram.
func runEDA() {
	fname := filepath.Join(DataPath, "metadata.csv")
	f, err := os.Open(fname)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	df := dataframe.ReadCSV(f, dataframe.HasHeader(true))
	splits := df.Col("split").Records()
	maskPaths := df.Col("mask_path").Records()

	var coverage []float64
	for i, split := range splits {
		if split != "train" {
			continue
		}
		mask, err := imaging.Open(filepath.Join(DataPath, maskPaths[i]))
		if err != nil {
			panic(err)
		}
		coverage = append(coverage, roadCoverage(mask))
	}

	p, err := plot.New()
	if err != nil {
		panic(err)
	}

	v := make(plotter.Values, len(coverage))
	for i := range coverage {
		v[i] = coverage[i]
	}

	h, err := plotter.NewHist(v, 20)
	if err != nil {
		panic(err)
	}
	p.Title.Text = "Road Coverage Histogram"
	p.Add(h)

	out := filepath.Join(ResultsPath, "road-coverage-histo.png")
	if err := p.Save(4*vg.Inch, 4*vg.Inch, out); err != nil {
		panic(err)
	}
	fmt.Printf("Saved %v (%v train tiles)\n", out, len(coverage))
}

// plotLossCurve saves the per-epoch training loss as a line plot.
func plotLossCurve(history []float64, out string) error {
	p, err := plot.New()
	if err != nil {
		return err
	}

	pts := make(plotter.XYs, len(history))
	for i, loss := range history {
		pts[i].X = float64(i)
		pts[i].Y = loss
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Title.Text = "Training Loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "BCE + Dice"
	p.Add(line)

	return p.Save(6*vg.Inch, 4*vg.Inch, out)
}
