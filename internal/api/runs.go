package api

import (
	"net/http"
	"strconv"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/db"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/httputil"
)

const defaultRunsLimit = 50

type runDetail struct {
	db.Run
	Cleanings []db.Cleaning `json:"cleanings"`
}

type runChannel struct {
	Measure experiment.Measure `json:"measure"`
	Omitted []db.OmittedRange  `json:"omitted"`
	Phases  []experiment.Phase `json:"phases"`
}

// handleRuns lists recorded runs. With 'id' it returns one run and its
// cleanings, and with 'id' and 'measure' the stored ranges and phases of one
// channel.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no result database configured")
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	id := q.Get("id")
	if id == "" {
		limit := defaultRunsLimit
		if l := q.Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				httputil.BadRequest(w, "invalid 'limit' parameter")
				return
			}
			limit = n
		}
		runs, err := s.db.Runs(ctx, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{"runs": runs})
		return
	}

	run, err := s.db.Run(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	if measure := q.Get("measure"); measure != "" {
		m := experiment.Measure(measure)
		omitted, err := s.db.OmittedRanges(ctx, run.ID, m)
		if err != nil {
			writeError(w, err)
			return
		}
		phases, err := s.db.Phases(ctx, run.ID, m)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, runChannel{Measure: m, Omitted: omitted, Phases: phases})
		return
	}

	cleanings, err := s.db.Cleanings(ctx, run.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, runDetail{Run: run, Cleanings: cleanings})
}
