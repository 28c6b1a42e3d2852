package api

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/chart"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/httputil"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/manager"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/security"
)

type loadResponse struct {
	Path          string               `json:"path"`
	HeaderComment string               `json:"header_comment"`
	Measures      []experiment.Measure `json:"measures"`
	Tags          []experiment.Tag     `json:"tags"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	path := r.FormValue("path")
	if path == "" {
		httputil.BadRequest(w, "missing 'path' parameter")
		return
	}
	if dir := s.cfg.GetDataDir(); dir != "" {
		resolved, err := security.ResolveWithin(dir, path)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusForbidden, err.Error())
			return
		}
		path = resolved
	}

	res, ok := receive(r, s.m.Load(path))
	if !ok {
		dropped(w, r)
		return
	}
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}
	httputil.WriteJSONOK(w, loadResponse{
		Path:          res.Path,
		HeaderComment: s.m.HeaderComment(),
		Measures:      res.Measures,
		Tags:          res.Tags,
	})
}

type channelInfo struct {
	Measure experiment.Measure `json:"measure"`
	Cleaned bool               `json:"cleaned"`
	Phases  []experiment.Phase `json:"phases"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	measures, err := s.m.Measures()
	if err != nil {
		writeError(w, err)
		return
	}
	channels := make([]channelInfo, 0, len(measures))
	for _, measure := range measures {
		phases, err := s.m.Phases(measure)
		if err != nil {
			writeError(w, err)
			return
		}
		channels = append(channels, channelInfo{
			Measure: measure,
			Cleaned: s.m.Cleaned(measure),
			Phases:  phases,
		})
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"file":           s.m.CurrentFile(),
		"header_comment": s.m.HeaderComment(),
		"channels":       channels,
	})
}

// clean runs a clean bound to the request and writes the error response
// when it fails.
func (s *Server) clean(w http.ResponseWriter, r *http.Request, measure experiment.Measure) (manager.CleanResult, bool) {
	res, ok := receive(r, s.m.Clean(r.Context(), measure))
	if !ok {
		dropped(w, r)
		return res, false
	}
	if res.Err != nil {
		writeError(w, res.Err)
		return res, false
	}
	return res, true
}

type omittedSummary struct {
	Runs   int     `json:"runs"`
	Points int     `json:"points"`
	Span   float64 `json:"span"`
}

type cleanResponse struct {
	Measure experiment.Measure `json:"measure"`
	Tag     *experiment.Tag    `json:"tag,omitempty"`
	Phases  []experiment.Phase `json:"phases"`
	Points  []point            `json:"points"`
	Omitted omittedSummary     `json:"omitted"`
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	measure, ok := requiredMeasure(w, r)
	if !ok {
		return
	}
	var tag *experiment.Tag
	if t := r.URL.Query().Get("tag"); t != "" {
		tt := experiment.Tag(t)
		tag = &tt
	}

	res, ok := s.clean(w, r, measure)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, cleanResponse{
		Measure: measure,
		Tag:     tag,
		Phases:  res.Store.Phases.Phases(),
		Points:  toPoints(res.Store.PointsFor(tag)),
		Omitted: omittedSummary{
			Runs:   res.Omissions.Len(),
			Points: res.Omissions.Count(),
			Span:   res.Omissions.Span(),
		},
	})
}

type omittedRange struct {
	Range  experiment.TimeRange `json:"range"`
	Points int                  `json:"points"`
}

// handleOmitted lists the omitted ranges of a channel, or the samples of one
// range when 'start' and 'end' are given.
func (s *Server) handleOmitted(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	measure, ok := requiredMeasure(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var rng *experiment.TimeRange
	if q.Has("start") || q.Has("end") {
		start, err1 := strconv.ParseFloat(q.Get("start"), 64)
		end, err2 := strconv.ParseFloat(q.Get("end"), 64)
		if err1 != nil || err2 != nil {
			httputil.BadRequest(w, "'start' and 'end' must both be numbers")
			return
		}
		tr := experiment.NewRange(start, end)
		rng = &tr
	}

	res, ok := s.clean(w, r, measure)
	if !ok {
		return
	}

	if rng != nil {
		httputil.WriteJSONOK(w, map[string]interface{}{
			"measure": measure,
			"range":   rng,
			"points":  toPoints(res.Omissions.Points(*rng)),
		})
		return
	}

	ranges := res.Omissions.Ranges()
	out := make([]omittedRange, len(ranges))
	for i, tr := range ranges {
		out[i] = omittedRange{Range: tr, Points: len(res.Omissions.Points(tr))}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"measure": measure,
		"ranges":  out,
	})
}

type decomposeResponse struct {
	Measure     experiment.Measure                   `json:"measure"`
	Tag         *experiment.Tag                      `json:"tag,omitempty"`
	Period      int                                  `json:"period"`
	Decomposed  bool                                 `json:"decomposed"`
	Series      map[string][]point                   `json:"series"`
	ValueRanges map[string]experiment.Range[float64] `json:"value_ranges"`
}

type sampleResponse struct {
	Measure   experiment.Measure  `json:"measure"`
	Period    int                 `json:"period"`
	Timestamp float64             `json:"timestamp"`
	Values    map[string]*float64 `json:"values"`
}

func (s *Server) decompose(w http.ResponseWriter, r *http.Request) (manager.DecomposeResult, bool) {
	var res manager.DecomposeResult
	measure, ok := requiredMeasure(w, r)
	if !ok {
		return res, false
	}
	period, ok := s.period(w, r)
	if !ok {
		return res, false
	}
	res, ok = receive(r, s.m.Decompose(r.Context(), measure, period))
	if !ok {
		dropped(w, r)
		return res, false
	}
	if res.Err != nil {
		writeError(w, res.Err)
		return res, false
	}
	return res, true
}

// handleDecompose returns every series of a decomposition, or one series
// when 'type' names it. 'tag' restricts the series to one phase of the
// cleaned channel and 'at' reads the values at one timestamp.
func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	types := experiment.DataTypes[:]
	if name := q.Get("type"); name != "" {
		t, err := experiment.ParseDataType(name)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		types = []experiment.DataType{t}
	}
	var tag *experiment.Tag
	if t := q.Get("tag"); t != "" {
		tt := experiment.Tag(t)
		tag = &tt
	}
	var at *float64
	if q.Has("at") {
		v, err := strconv.ParseFloat(q.Get("at"), 64)
		if err != nil {
			httputil.BadRequest(w, "'at' must be a number")
			return
		}
		at = &v
	}

	res, ok := s.decompose(w, r)
	if !ok {
		return
	}
	d := res.Decomposition

	if at != nil {
		s.writeSample(w, res, types, *at)
		return
	}

	var phases *experiment.PhaseMap
	if tag != nil {
		cleaned, ok := s.clean(w, r, res.Measure)
		if !ok {
			return
		}
		phases = cleaned.Store.Phases
	}
	series := make(map[string][]point)
	ranges := make(map[string]experiment.Range[float64])
	for _, t := range types {
		points := d.PointsFor(t, phases, tag)
		if points == nil {
			continue
		}
		series[t.String()] = toPoints(points)
		ranges[t.String()] = experiment.ValueRange(points)
	}
	httputil.WriteJSONOK(w, decomposeResponse{
		Measure:     res.Measure,
		Tag:         tag,
		Period:      res.Period,
		Decomposed:  d.Decomposed(),
		Series:      series,
		ValueRanges: ranges,
	})
}

func (s *Server) writeSample(w http.ResponseWriter, res manager.DecomposeResult, types []experiment.DataType, ts float64) {
	d := res.Decomposition
	if _, ok := d.At(experiment.Raw, ts); !ok {
		httputil.NotFound(w, fmt.Sprintf("no sample at %g", ts))
		return
	}
	values := make(map[string]*float64)
	for _, t := range types {
		if p, ok := d.At(t, ts); ok {
			values[t.String()] = toPoints([]experiment.DataPoint{p})[0].V
		}
	}
	httputil.WriteJSONOK(w, sampleResponse{
		Measure:   res.Measure,
		Period:    res.Period,
		Timestamp: ts,
		Values:    values,
	})
}

// handleChart renders a decomposition as an HTML page, or as PNG when
// format=png.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "html" && format != "png" {
		httputil.BadRequest(w, "invalid 'format' parameter")
		return
	}

	res, ok := s.decompose(w, r)
	if !ok {
		return
	}
	phases, err := s.m.Phases(res.Measure)
	if err != nil {
		writeError(w, err)
		return
	}
	title := fmt.Sprintf("%s: %s", filepath.Base(s.m.CurrentFile()), res.Measure)

	var buf bytes.Buffer
	contentType := "text/html; charset=utf-8"
	if format == "png" {
		contentType = "image/png"
		err = chart.WritePNG(&buf, res.Decomposition, chart.PNGOptions{Title: title, Phases: phases})
	} else {
		err = chart.RenderHTML(&buf, res.Decomposition, chart.HTMLOptions{Title: title, Measure: res.Measure, Phases: phases})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := buf.WriteTo(w); err != nil {
		logf("write chart: %v", err)
	}
}

// handleInvalidate drops the cached results of a recording, the current one
// when 'path' is empty.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	path := r.FormValue("path")
	if path == "" {
		path = s.m.CurrentFile()
	}
	if path == "" {
		httputil.BadRequest(w, "no recording to invalidate")
		return
	}
	s.m.InvalidateFile(path)
	httputil.WriteJSONOK(w, map[string]string{"invalidated": path})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"tasks": s.m.Tasks()})
}
