package chart

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/decompose"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
)

// HTMLOptions configures RenderHTML.
type HTMLOptions struct {
	Title   string
	Measure experiment.Measure
	Phases  []experiment.Phase
	// MaxPoints caps the points drawn per series. Zero means MaxPoints.
	MaxPoints int
	// AssetsHost overrides where the echarts scripts are loaded from.
	AssetsHost string
}

var seriesColors = [experiment.NumDataTypes]string{"#5470c6", "#ee6666", "#91cc75", "#9a60b4"}

var phaseColors = []string{"rgba(250,200,88,0.15)", "rgba(115,192,222,0.15)", "rgba(59,162,114,0.15)", "rgba(252,132,82,0.15)"}

// RenderHTML writes a page with one line chart per series of d. Every chart
// shares the time axis and shades the phases.
func RenderHTML(w io.Writer, d *decompose.Decomposition, o HTMLOptions) error {
	if d.Len() == 0 {
		return ErrNoData
	}

	page := components.NewPage()
	page.SetPageTitle(o.Title)
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}

	phases := visiblePhases(o.Phases)
	for _, t := range d.Types() {
		page.AddCharts(lineChart(t, d, phases, o))
	}
	return page.Render(w)
}

func lineChart(t experiment.DataType, d *decompose.Decomposition, phases []experiment.Phase, o HTMLOptions) *charts.Line {
	points := downsample(d.Points(t), o.MaxPoints)

	line := charts.NewLine()
	initOpts := opts.Initialization{PageTitle: o.Title, Width: "100%", Height: "320px"}
	if o.AssetsHost != "" {
		initOpts.AssetsHost = o.AssetsHost
	}
	lo, hi := axisBounds(d.ValueRange(t))
	subtitle := fmt.Sprintf("%s period=%d points=%d", t, d.Period, d.Len())
	title := string(o.Measure)
	if t != experiment.Raw {
		title = fmt.Sprintf("%s (%s)", o.Measure, t)
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25, Min: "dataMin", Max: "dataMax"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: lo, Max: hi}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
	)

	data := make([]opts.LineData, len(points))
	for i, p := range points {
		var v interface{} = p.Value
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			// echarts leaves a gap for "-".
			v = "-"
		}
		data[i] = opts.LineData{Value: []interface{}{p.Timestamp, v}}
	}

	series := []charts.SeriesOpts{
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: seriesColors[t]}),
	}
	for i, p := range phases {
		series = append(series, charts.WithMarkAreaData([]opts.MarkAreaData{
			{
				Name:  string(p.Tag),
				XAxis: p.Range.Min,
				MarkAreaStyle: opts.MarkAreaStyle{
					ItemStyle: &opts.ItemStyle{Color: phaseColors[i%len(phaseColors)]},
				},
			},
			{XAxis: p.Range.Max},
		}))
	}
	line.AddSeries(t.String(), data, series...)
	return line
}
