package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/contacts"
	"github.com/ignite/audience-engine/internal/pkg/httputil"
)

// ==========================================
// CONTACTS
// ==========================================

func contactIDFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "contactID"))
	if err != nil {
		httputil.BadRequest(w, "invalid contact id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id, ok := contactIDFrom(w, r)
	if !ok {
		return
	}
	contact, err := s.contacts.GetContact(r.Context(), tenantFrom(r), id)
	if err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, contact)
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := contactIDFrom(w, r)
	if !ok {
		return
	}
	var in contacts.Contact
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.ID = id
	in.TenantID = tenantFrom(r)

	if err := s.contacts.UpdateContact(r.Context(), &in); err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.OK(w, in)
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	id, ok := contactIDFrom(w, r)
	if !ok {
		return
	}
	tag := chi.URLParam(r, "tag")
	if tag == "" {
		httputil.BadRequest(w, "tag is required")
		return
	}
	if err := s.contacts.AddTag(r.Context(), tenantFrom(r), id, tag); err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	id, ok := contactIDFrom(w, r)
	if !ok {
		return
	}
	tag := chi.URLParam(r, "tag")
	if tag == "" {
		httputil.BadRequest(w, "tag is required")
		return
	}
	if err := s.contacts.RemoveTag(r.Context(), tenantFrom(r), id, tag); err != nil {
		httputil.EngineError(w, err)
		return
	}
	httputil.NoContent(w)
}
