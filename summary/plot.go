package summary

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Tags which are plotted for each run.
var PlotTags = []string{"loss", "accuracy"}

// Series is a named sequence of scalar values for a line plot.
type Series struct {
	Name   string
	Points []Scalar
}

// NewPlot creates a plot with a grid and legend at the top.
func NewPlot(title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "step"
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(12)
	p.Add(plotter.NewGrid())
	return p
}

// AddLines adds a line for each non-empty series.
func AddLines(p *plot.Plot, series ...Series) error {
	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(s.Points))
		for j, pt := range s.Points {
			pts[j].X, pts[j].Y = float64(pt.Step), pt.Value
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plot %s: %w", s.Name, err)
		}
		line.Width = vg.Points(2)
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(s.Name, line)
	}
	return nil
}

// WriteSVG renders the plot to w, width and height are in pixels.
func WriteSVG(p *plot.Plot, w io.Writer, width, height int) error {
	writer, err := p.WriterTo(pixels(width), pixels(height), "svg")
	if err != nil {
		return err
	}
	_, err = writer.WriteTo(w)
	return err
}

func pixels(n int) vg.Length {
	return vg.Inch * vg.Length(n) / 96
}

// RunSeries reads tag from the train and dev summaries under runDir. A missing directory gives an empty series.
func RunSeries(runDir, tag string) ([]Series, error) {
	var series []Series
	for _, name := range []string{"train", "dev"} {
		s := Series{Name: name}
		r, err := OpenReader(filepath.Join(runDir, "summaries", name))
		if err == nil {
			s.Points, err = r.Scalars(tag)
			r.Close()
		}
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		series = append(series, s)
	}
	return series, nil
}

// Plot renders the train and dev loss and accuracy for a run to SVG files in outDir.
// Returns the list of files written.
func Plot(runDir, outDir string, width, height int) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}
	var files []string
	for _, tag := range PlotTags {
		series, err := RunSeries(runDir, tag)
		if err != nil {
			return files, err
		}
		p := NewPlot(tag)
		if err = AddLines(p, series...); err != nil {
			return files, err
		}
		file := filepath.Join(outDir, tag+".svg")
		if err = p.Save(pixels(width), pixels(height), file); err != nil {
			return files, err
		}
		files = append(files, file)
	}
	return files, nil
}
