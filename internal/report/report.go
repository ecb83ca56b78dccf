// Package report renders readings as CSV tables and PNG charts.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"goldwatch/internal/storage"
)

// ErrNotEnoughData is returned when a chart would have fewer than two points.
var ErrNotEnoughData = errors.New("report: at least two readings are required for a chart")

// Downsample keeps at most max readings, evenly spaced, always including the first and last.
func Downsample(readings []storage.Reading, max int) []storage.Reading {
	if max <= 0 || len(readings) <= max {
		return readings
	}
	if max == 1 {
		return readings[len(readings)-1:]
	}

	result := make([]storage.Reading, 0, max)
	step := float64(len(readings)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(readings) {
			idx = len(readings) - 1
		}
		result = append(result, readings[idx])
	}
	return result
}

// WriteCSV writes a header row followed by one row per reading.
func WriteCSV(w io.Writer, readings []storage.Reading) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"id", "timestamp", "price"}); err != nil {
		return err
	}
	for _, r := range readings {
		record := []string{
			fmt.Sprintf("%d", r.ID),
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Price.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// ChartOptions tune the rendered PNG.
type ChartOptions struct {
	Title    string
	YLabel   string
	Width    int
	Height   int
	Location *time.Location
}

// RenderPNG draws the price series as a PNG chart.
func RenderPNG(w io.Writer, readings []storage.Reading, opts ChartOptions) error {
	if len(readings) < 2 {
		return ErrNotEnoughData
	}
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	x := make([]time.Time, len(readings))
	y := make([]float64, len(readings))
	for i, r := range readings {
		x[i] = r.Timestamp.In(loc)
		y[i] = r.Price.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           opts.YLabel,
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

// WriteCSVFile writes readings to path, creating parent directories.
func WriteCSVFile(path string, readings []storage.Reading) error {
	return withFile(path, func(f io.Writer) error { return WriteCSV(f, readings) })
}

// WritePNGFile renders the chart to path, creating parent directories.
func WritePNGFile(path string, readings []storage.Reading, opts ChartOptions) error {
	if len(readings) < 2 {
		return ErrNotEnoughData
	}
	return withFile(path, func(f io.Writer) error { return RenderPNG(f, readings, opts) })
}

func withFile(path string, fn func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
