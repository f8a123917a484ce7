package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/pkg/httputil"
	"github.com/ignite/audience-engine/internal/segment"
)

// ==========================================
// SEGMENT CRUD
// ==========================================

type segmentInput struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Rules       segment.RuleNode `json:"rules"`
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var in segmentInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	if in.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}

	seg := &segment.Segment{
		TenantID:    tenantFrom(r),
		Name:        in.Name,
		Description: in.Description,
		Rules:       in.Rules,
		CreatedBy:   userFrom(r),
	}
	if err := s.segments.CreateSegment(r.Context(), seg); err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.Created(w, seg)
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	segments, err := s.segments.ListSegments(r.Context(), tenantFrom(r), includeInactive)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"segments": segments})
}

func segmentIDFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "segmentID"))
	if err != nil {
		httputil.BadRequest(w, "invalid segment id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentIDFrom(w, r)
	if !ok {
		return
	}
	seg, err := s.segments.GetSegment(r.Context(), tenantFrom(r), id)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, seg)
}

func (s *Server) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentIDFrom(w, r)
	if !ok {
		return
	}
	var in segmentInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	seg := &segment.Segment{
		ID:          id,
		TenantID:    tenantFrom(r),
		Name:        in.Name,
		Description: in.Description,
		Rules:       in.Rules,
	}
	if err := s.segments.UpdateSegment(r.Context(), seg); err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, seg)
}

func (s *Server) handleDeactivateSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentIDFrom(w, r)
	if !ok {
		return
	}
	if err := s.segments.DeactivateSegment(r.Context(), tenantFrom(r), id); err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) handleCloneSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentIDFrom(w, r)
	if !ok {
		return
	}
	var in struct {
		Name string `json:"name,omitempty"`
	}
	if !httputil.Decode(w, r, &in) {
		return
	}
	clone, err := s.segments.CloneSegment(r.Context(), tenantFrom(r), id, in.Name, userFrom(r))
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.Created(w, clone)
}

func (s *Server) handleSegmentUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentIDFrom(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.segments.ListUsage(r.Context(), id, limit)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"usage": records})
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	fields := segment.Fields()
	out := make(map[string]interface{}, len(fields))
	for name, spec := range fields {
		out[name] = map[string]interface{}{
			"type":      spec.Type,
			"operators": segment.OperatorsFor(spec.Type),
		}
	}
	httputil.OK(w, map[string]interface{}{"fields": out})
}

// ==========================================
// EVALUATION
// ==========================================

type evaluateInput struct {
	Rules      segment.RuleNode `json:"rules"`
	SampleSize int              `json:"sample_size,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var in evaluateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	result, err := s.evaluator.Evaluate(r.Context(), tenantFrom(r), in.Rules, in.SampleSize)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, result)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	var in evaluateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	count, err := s.evaluator.Count(r.Context(), tenantFrom(r), in.Rules)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"count": count})
}

func (s *Server) handleContactIDs(w http.ResponseWriter, r *http.Request) {
	var in evaluateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	ids, err := s.evaluator.ContactIDs(r.Context(), tenantFrom(r), in.Rules, in.Limit)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"contact_ids": ids, "count": len(ids)})
}

func (s *Server) handleEvaluateSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentIDFrom(w, r)
	if !ok {
		return
	}
	var in struct {
		SampleSize int `json:"sample_size,omitempty"`
	}
	if !httputil.Decode(w, r, &in) {
		return
	}

	seg, err := s.segments.GetSegment(r.Context(), tenantFrom(r), id)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	result, err := s.evaluator.EvaluateSegment(r.Context(), seg, userFrom(r), in.SampleSize)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, result)
}
