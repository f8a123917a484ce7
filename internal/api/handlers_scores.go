package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/pkg/httputil"
)

// ==========================================
// ACTIVITY SCORES
// ==========================================

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := s.scores.ScoreDistribution(r.Context(), tenantFrom(r))
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, dist)
}

func (s *Server) handleScoreRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	min, err := strconv.ParseFloat(q.Get("min"), 64)
	if err != nil {
		httputil.BadRequest(w, "min must be a number")
		return
	}
	max, err := strconv.ParseFloat(q.Get("max"), 64)
	if err != nil {
		httputil.BadRequest(w, "max must be a number")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	contacts, err := s.scores.ContactsInScoreRange(r.Context(), tenantFrom(r), min, max, limit)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"contacts": contacts, "count": len(contacts)})
}

// handleRecomputeAll reruns scoring for every active contact in the tenant.
// The batch runs inline; callers should treat this as a long request.
func (s *Server) handleRecomputeAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.scores.UpdateAllScores(r.Context(), tenantFrom(r))
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, result)
}

func (s *Server) handleRecomputeOne(w http.ResponseWriter, r *http.Request) {
	contactID, err := uuid.Parse(chi.URLParam(r, "contactID"))
	if err != nil {
		httputil.BadRequest(w, "invalid contact id")
		return
	}
	if err := s.scores.UpdateScore(r.Context(), tenantFrom(r), contactID); err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "recomputed"})
}
