// Package api serves the pipeline over HTTP: loading recordings, cleaned
// channels, omissions, decompositions and their charts.
package api

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/chart"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/config"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/db"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/decompose"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/httputil"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/loader"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/manager"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/monitoring"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

var logf = monitoring.Component("api")

// Server exposes a Manager over HTTP. The result database is optional.
type Server struct {
	m       *manager.Manager
	cfg     *config.PipelineConfig
	metrics *monitoring.Metrics
	db      *db.DB
}

// NewServer returns a Server. A nil cfg means the default configuration and
// nil metrics or db disable their routes.
func NewServer(m *manager.Manager, cfg *config.PipelineConfig, metrics *monitoring.Metrics, results *db.DB) *Server {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	return &Server{m: m, cfg: cfg, metrics: metrics, db: results}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the routes of the server.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/load", s.handleLoad)
	mux.HandleFunc("/api/channels", s.handleChannels)
	mux.HandleFunc("/api/clean", s.handleClean)
	mux.HandleFunc("/api/omitted", s.handleOmitted)
	mux.HandleFunc("/api/decompose", s.handleDecompose)
	mux.HandleFunc("/api/invalidate", s.handleInvalidate)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/chart", s.handleChart)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// writeError maps pipeline errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var parseErr *loader.ParseError
	switch {
	case errors.Is(err, manager.ErrNoFile),
		errors.Is(err, manager.ErrNotFound),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, db.ErrRunNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, decompose.ErrInvalidPeriod):
		httputil.BadRequest(w, err.Error())
	case errors.As(err, &parseErr), errors.Is(err, loader.ErrNoData), errors.Is(err, chart.ErrNoData):
		httputil.UnprocessableEntity(w, err.Error())
	case errors.Is(err, manager.ErrShutdown):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteJSONError(w, http.StatusGatewayTimeout, err.Error())
	default:
		logf("request failed: %v", err)
		httputil.InternalServerError(w, err.Error())
	}
}

// dropped answers a request whose result channel closed without a value.
// Nothing is written when the client went away.
func dropped(w http.ResponseWriter, r *http.Request) {
	if r.Context().Err() != nil {
		return
	}
	httputil.Conflict(w, "request superseded by a newer one")
}

// receive waits for the single result of a manager request. It returns false
// when the request was dropped or the client went away.
func receive[T any](r *http.Request, ch <-chan T) (T, bool) {
	select {
	case v, ok := <-ch:
		return v, ok
	case <-r.Context().Done():
		var zero T
		return zero, false
	}
}

// point is a DataPoint whose invalid value encodes as null.
type point struct {
	T float64  `json:"t"`
	V *float64 `json:"v"`
}

func toPoints(points []experiment.DataPoint) []point {
	out := make([]point, len(points))
	for i, p := range points {
		out[i].T = p.Timestamp
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			v := p.Value
			out[i].V = &v
		}
	}
	return out
}

func requiredMeasure(w http.ResponseWriter, r *http.Request) (experiment.Measure, bool) {
	measure := r.URL.Query().Get("measure")
	if measure == "" {
		httputil.BadRequest(w, "missing 'measure' parameter")
		return "", false
	}
	return experiment.Measure(measure), true
}

// period reads the 'period' parameter, defaulting to the configured one.
func (s *Server) period(w http.ResponseWriter, r *http.Request) (int, bool) {
	p := r.URL.Query().Get("period")
	if p == "" {
		return s.cfg.GetPeriod(), true
	}
	period, err := strconv.Atoi(p)
	if err != nil || period < 1 {
		httputil.BadRequest(w, "invalid 'period' parameter")
		return 0, false
	}
	return period, true
}
