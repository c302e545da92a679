package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/engine"
	"github.com/hyperjump/kotae/internal/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type ingestRequest struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("max_results", req.MaxResults))
	answer, err := s.engine.Query(r.Context(), &req)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	s.logger.Debug("ingest request", zap.String("id", req.ID), zap.String("filename", req.Filename))
	doc, err := s.engine.IngestDocument(r.Context(), req.ID, req.Filename, req.Text)
	if err != nil {
		s.logger.Error("ingestion failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

type batchIngestResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inputs := make([]engine.BatchInput, len(reqs))
	for i, req := range reqs {
		inputs[i] = engine.BatchInput{ID: req.ID, Filename: req.Filename, Text: req.Text}
	}
	results := s.engine.IngestBatch(r.Context(), inputs)

	out := make([]batchIngestResponse, len(results))
	for i, res := range results {
		out[i] = batchIngestResponse{ID: res.ID, Status: string(models.StatusIndexed)}
		if res.Err != nil {
			out[i].Status = string(models.StatusFailed)
			out[i].Error = res.Err.Error()
		}
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	skip := queryInt(r, "skip", 0)
	if skip < 0 {
		skip = 0
	}
	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	docs, err := s.storage.ListDocuments(r.Context(), skip, limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "skip": skip, "limit": limit})
}

type documentResponse struct {
	Document *models.Document `json:"document"`
	Summary  string           `json:"summary"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, summary, err := s.engine.DocumentSummary(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("document summary failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, documentResponse{Document: doc, Summary: summary})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.engine.RemoveDocument(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queryInt reads an integer query parameter, using fallback when the
// parameter is absent or malformed.
func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrContentRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
