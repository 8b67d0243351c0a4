// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediabrowser/internal/backend"
	"github.com/fruitsalade/mediabrowser/internal/listing"
	"github.com/fruitsalade/mediabrowser/internal/logging"
	"github.com/fruitsalade/mediabrowser/internal/metrics"
	"github.com/fruitsalade/mediabrowser/internal/planner"
	"github.com/fruitsalade/mediabrowser/internal/quota"
	"github.com/fruitsalade/mediabrowser/pkg/protocol"
)

// maxBodySize bounds mutation request bodies.
const maxBodySize = 1 << 20

// Server is the HTTP server.
type Server struct {
	planner     *planner.Planner
	backend     backend.Backend
	rateLimiter *quota.RateLimiter
}

// NewServer creates a new API server. A nil limiter disables rate limiting.
func NewServer(p *planner.Planner, b backend.Backend, limiter *quota.RateLimiter) *Server {
	return &Server{
		planner:     p,
		backend:     b,
		rateLimiter: limiter,
	}
}

// Handler returns the HTTP handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/files", s.handleList)
	mux.HandleFunc("POST /api/v1/files", s.handleCreate)
	mux.HandleFunc("PUT /api/v1/files", s.handleRename)
	mux.HandleFunc("DELETE /api/v1/files", s.handleDelete)

	var handler http.Handler = mux
	if s.rateLimiter != nil {
		handler = quota.RateLimitMiddleware(s.rateLimiter, quota.RemoteIP)(handler)
	}
	return metrics.Middleware(logging.Middleware(handler))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:  "ok",
		Backend: s.backend.Type(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := protocol.ParseListQuery(r.URL.Query())
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}
	sortField, err := listing.ParseSortField(q.SortBy)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	sortOrder, err := listing.ParseSortOrder(q.SortOrder)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.planner.List(r.Context(), listing.Request{
		Path:        q.Path,
		Page:        q.Page,
		SearchQuery: q.SearchQuery,
		SortField:   sortField,
		SortOrder:   sortOrder,
		Scoped:      q.ScopeToCurrentFolder,
	})
	switch {
	case errors.Is(err, listing.ErrInvalidPage):
		s.sendError(w, http.StatusBadRequest, "Invalid page request")
		return
	case errors.Is(err, listing.ErrInvalidRequest):
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logging.WithContext(r.Context()).Error("listing failed",
			zap.String("path", q.Path),
			zap.Int("page", q.Page),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to fetch files and folders")
		return
	}

	out := protocol.ListResponse{
		Files: make([]protocol.Item, 0, len(resp.Items)),
		Total: protocol.Totals{
			Files:   resp.Totals.Files,
			Folders: resp.Totals.Folders,
		},
		HasMore: resp.HasMore,
	}
	for _, it := range resp.Items {
		out.Files = append(out.Files, toProtocolItem(it))
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	log := logging.WithContext(r.Context())

	if req.Type == protocol.KindFolder {
		folder := strings.Trim(req.Path, "/")
		if req.Name != "" {
			folder = backend.Join(folder, req.Name)
		}
		if folder == "" {
			s.sendError(w, http.StatusBadRequest, "folder path is required")
			return
		}
		if err := s.backend.CreateFolder(r.Context(), folder); err != nil {
			log.Error("create folder failed", zap.String("path", folder), zap.Error(err))
			s.sendError(w, http.StatusInternalServerError, "Failed to create folder")
			return
		}
		parent, name := backend.Split(folder)
		s.sendJSON(w, http.StatusCreated, protocol.MutationResponse{
			Message: "Folder created",
			File: &protocol.Item{
				ID:   backend.FolderID(folder),
				Name: name,
				Type: protocol.KindFolder,
				Path: listing.DisplayPath(parent),
			},
		})
		return
	}

	if req.URL == "" || req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "url and name are required")
		return
	}
	rec, err := s.backend.UploadFile(r.Context(), req.URL, strings.Trim(req.Path, "/"), req.Name)
	if err != nil {
		log.Error("upload failed",
			zap.String("path", req.Path),
			zap.String("name", req.Name),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}
	item := toProtocolItem(s.planner.FileItem(*rec))
	s.sendJSON(w, http.StatusCreated, protocol.MutationResponse{
		Message: "File uploaded",
		File:    &item,
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req protocol.UpdateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" || req.Updates.ID == "" {
		s.sendError(w, http.StatusBadRequest, "id and updates.id are required")
		return
	}

	if err := s.backend.Rename(r.Context(), req.ID, req.Updates.ID); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "file not found: "+req.ID)
			return
		}
		logging.WithContext(r.Context()).Error("rename failed",
			zap.String("id", req.ID),
			zap.String("new_id", req.Updates.ID),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to rename file")
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MutationResponse{Message: "File renamed"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return
	}

	ok, err := s.backend.Delete(r.Context(), id)
	if err != nil {
		logging.WithContext(r.Context()).Error("delete failed",
			zap.String("id", id),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to delete file")
		return
	}
	if !ok {
		s.sendError(w, http.StatusNotFound, "file not found: "+id)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MutationResponse{Message: "File deleted"})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func toProtocolItem(it listing.Item) protocol.Item {
	return protocol.Item{
		ID:        it.ID,
		Name:      it.Name,
		Type:      string(it.Kind),
		CreatedAt: it.CreatedAt,
		Size:      it.Size,
		Path:      it.Path,
		Thumbnail: it.PreviewURL,
		URL:       it.SourceURL,
		Context:   it.Metadata,
	}
}
