package chart

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/decompose"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
)

// PNGOptions configures WritePNG.
type PNGOptions struct {
	Title     string
	Phases    []experiment.Phase
	MaxPoints int
	// Width and Height of the whole image. Zero means 14x12 inches.
	Width, Height vg.Length
}

var pngColors = [experiment.NumDataTypes]color.RGBA{
	{R: 0x54, G: 0x70, B: 0xc6, A: 0xff},
	{R: 0xee, G: 0x66, B: 0x66, A: 0xff},
	{R: 0x91, G: 0xcc, B: 0x75, A: 0xff},
	{R: 0x9a, G: 0x60, B: 0xb4, A: 0xff},
}

// WritePNG draws the series of d stacked on top of each other and encodes
// the image as PNG.
func WritePNG(w io.Writer, d *decompose.Decomposition, o PNGOptions) error {
	if d.Len() == 0 {
		return ErrNoData
	}
	if o.Width == 0 {
		o.Width = 14 * vg.Inch
	}
	if o.Height == 0 {
		o.Height = 12 * vg.Inch
	}

	types := d.Types()
	rows := make([][]*plot.Plot, len(types))
	for i, t := range types {
		p, err := seriesPlot(t, d, o)
		if err != nil {
			return fmt.Errorf("plot %s: %w", t, err)
		}
		rows[i] = []*plot.Plot{p}
	}

	img := vgimg.New(o.Width, o.Height)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: len(rows), Cols: 1, PadX: vg.Millimeter, PadY: 2 * vg.Millimeter}
	canvases := plot.Align(rows, tiles, dc)
	for i := range rows {
		rows[i][0].Draw(canvases[i][0])
	}

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// SavePNG writes the PNG rendering of d to path.
func SavePNG(path string, d *decompose.Decomposition, o PNGOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return WritePNG(f, d, o)
}

func seriesPlot(t experiment.DataType, d *decompose.Decomposition, o PNGOptions) (*plot.Plot, error) {
	p := plot.New()
	if t == experiment.Raw {
		p.Title.Text = o.Title
	}
	p.Y.Label.Text = t.String()
	p.X.Label.Text = "Time (s)"

	points := downsample(d.Points(t), o.MaxPoints)
	xys := make(plotter.XYs, 0, len(points))
	for _, pt := range points {
		// plotter rejects NaN and infinite values.
		if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: pt.Timestamp, Y: pt.Value})
	}
	if len(xys) == 0 {
		return p, nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, xy := range xys {
		lo = math.Min(lo, xy.Y)
		hi = math.Max(hi, xy.Y)
	}
	for i, ph := range visiblePhases(o.Phases) {
		band, err := plotter.NewPolygon(plotter.XYs{
			{X: ph.Range.Min, Y: lo}, {X: ph.Range.Max, Y: lo},
			{X: ph.Range.Max, Y: hi}, {X: ph.Range.Min, Y: hi},
		})
		if err != nil {
			return nil, err
		}
		band.Color = color.RGBA{R: 0xfa, G: 0xc8, B: 0x58, A: uint8(0x20 + 0x10*(i%2))}
		band.LineStyle.Width = 0
		p.Add(band)
	}

	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, err
	}
	line.Color = pngColors[t]
	line.Width = vg.Points(1)
	p.Add(line)
	return p, nil
}
