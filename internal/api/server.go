// Package api exposes the bridge state over HTTP. The renderer polls
// /api/pose once per frame; the remaining endpoints serve tracking control
// and recorded history.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/arview/posebridge/internal/httputil"
	"github.com/arview/posebridge/internal/session"
	"github.com/arview/posebridge/internal/storage"
)

// Server serves the bridge HTTP API.
type Server struct {
	session *session.Session
	store   *storage.Store
}

// NewServer creates an API server over a tracking session and an optional
// pose store.
func NewServer(s *session.Session, store *storage.Store) *Server {
	return &Server{
		session: s,
		store:   store,
	}
}

// ServeMux returns the route table for the API.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/pose", s.handlePose)
	mux.HandleFunc("/tracking", s.handleTracking)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/summary", s.handleSummary)
	return mux
}

func (s *Server) handlePose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	d, ok := s.session.DisplayPose()
	if !ok {
		httputil.NotFound(w, "no marker tracked")
		return
	}
	httputil.WriteJSONOK(w, d)
}

type trackingRequest struct {
	MarkerID *int `json:"marker_id"`
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.session.Snapshot())

	case http.MethodPost:
		var req trackingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "invalid tracking request: "+err.Error())
			return
		}
		if req.MarkerID == nil {
			httputil.BadRequest(w, "marker_id is required")
			return
		}
		s.session.SetTrackedMarker(*req.MarkerID)
		httputil.WriteJSONOK(w, s.session.Snapshot())

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "pose recording disabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.store.RecentPoses(s.session.ID, limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to load pose history: "+err.Error())
		return
	}
	if records == nil {
		records = []storage.PoseRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "pose recording disabled")
		return
	}

	summary, err := s.store.SessionSummary(s.session.ID)
	if err != nil {
		httputil.InternalServerError(w, "failed to compute summary: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, summary)
}
