package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/shape.search/internal/httputil"
	"github.com/banshee-data/shape.search/internal/monitoring"
	"github.com/banshee-data/shape.search/internal/retrieval"
)

// handleEvaluations lists stored evaluation runs (GET, optional limit) or
// runs a new leave-one-out evaluation and stores it (POST, optional k).
func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEvaluations(w, r)
	case http.MethodPost:
		s.runEvaluation(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleEvaluationByID returns one stored run from /api/evaluations/{run_id}.
func (s *Server) handleEvaluationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/evaluations/"), "/")
	if runID == "" || strings.Contains(runID, "/") {
		httputil.BadRequest(w, "expected /api/evaluations/{run_id}")
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}
	run, err := s.db.GetEvaluationRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, run)
}

func (s *Server) listEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 || v > 1000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = v
	}

	runs := []*retrieval.EvaluationRun{}
	if s.db != nil {
		stored, err := s.db.ListEvaluationRuns(r.Context(), limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if stored != nil {
			runs = stored
		}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) runEvaluation(w http.ResponseWriter, r *http.Request) {
	k, err := parseK(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	run, err := retrieval.Evaluate(r.Context(), s.engine, k)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.db != nil {
		if err := s.db.InsertEvaluationRun(r.Context(), run); err != nil {
			monitoring.Logf("failed to store evaluation run %s: %v", run.RunID, err)
		}
	}
	httputil.WriteJSON(w, http.StatusCreated, run)
}
