package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"production-test/internal/stats"
	"production-test/internal/telemetry"
)

// Chart size in the exported file.
const (
	chartWidth  = 8 * vg.Inch
	chartHeight = 4 * vg.Inch
)

var (
	voltageColor = color.RGBA{B: 255, A: 255}
	currentColor = color.RGBA{R: 255, A: 255}
)

// Writer renders export requests to disk.
type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

// Export writes the request and returns the file path.
func (w *Writer) Export(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Readings.Len() == 0 {
		return "", stats.ErrNoData
	}
	if err := os.MkdirAll(req.Directory, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", req.Directory, err)
	}
	path := req.Path()
	var err error
	switch {
	case req.Format.IsChart():
		err = writeChart(path, req)
	case req.Format == CSV:
		err = writeCSV(path, req.Readings)
	case req.Format == JSON:
		err = writeJSON(path, req)
	default:
		err = fmt.Errorf("invalid output format %q", req.Format)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func writeChart(path string, req Request) error {
	p := plot.New()
	p.Title.Text = req.Title + "\n" + req.Summary.Title()
	p.X.Label.Text = "Time (seconds)"
	p.Y.Label.Text = "Level (mV/mA)"
	p.Add(plotter.NewGrid())

	mv, err := plotter.NewLine(columnXY(req.Readings.Times, req.Readings.MilliVolts))
	if err != nil {
		return fmt.Errorf("voltage line: %w", err)
	}
	mv.LineStyle.Color = voltageColor
	mv.LineStyle.Width = vg.Points(1)

	ma, err := plotter.NewLine(columnXY(req.Readings.Times, req.Readings.MilliAmps))
	if err != nil {
		return fmt.Errorf("current line: %w", err)
	}
	ma.LineStyle.Color = currentColor
	ma.LineStyle.Width = vg.Points(1)

	p.Add(mv, ma)
	p.Legend.Add("Voltage", mv)
	p.Legend.Add("Current", ma)
	p.Legend.Top = true

	last := req.Readings.Times[req.Readings.Len()-1]
	if last > 0 {
		p.X.Min, p.X.Max = 0, last
	}
	top := req.Summary.Voltage.Max
	if req.Summary.Current.Max > top {
		top = req.Summary.Current.Max
	}
	if top > 0 {
		p.Y.Min, p.Y.Max = 0, float64(top)
	}

	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return fmt.Errorf("save chart: %w", err)
	}
	return nil
}

func columnXY(times []float64, vals []int) plotter.XYs {
	xys := make(plotter.XYs, len(times))
	for i := range times {
		xys[i].X = times[i]
		xys[i].Y = float64(vals[i])
	}
	return xys
}

// writeCSV writes one row per reading.
// Columns: time_s,mv,ma
func writeCSV(path string, s telemetry.Series) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time_s", "mv", "ma"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < s.Len(); i++ {
		rec := []string{
			strconv.FormatFloat(s.Times[i], 'f', -1, 64),
			strconv.Itoa(s.MilliVolts[i]),
			strconv.Itoa(s.MilliAmps[i]),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Title    string              `json:"title"`
	Device   telemetry.Device    `json:"device"`
	Summary  stats.Summary       `json:"summary"`
	Readings []telemetry.Reading `json:"readings"`
}

func writeJSON(path string, req Request) error {
	b, err := json.MarshalIndent(jsonExport{
		Title:    req.Title,
		Device:   req.Device,
		Summary:  req.Summary,
		Readings: req.Readings.Readings(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}
