package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unimib-datAI/dave-anonymizer/internal/models"
	"github.com/unimib-datAI/dave-anonymizer/internal/rewrite"
)

// rewriteResponse is the payload of every rewrite endpoint: the rewritten
// document plus the pass report (skip counts and diagnostics).
type rewriteResponse struct {
	Document *models.Document `json:"document"`
	Report   *rewrite.Report  `json:"report"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc := documentFromInput(&input)
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	s.logger.Debug("create document request", zap.String("id", doc.ID), zap.String("name", doc.Name))
	if err := s.storage.CreateDocument(r.Context(), doc); err != nil {
		s.logger.Error("create document failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	docs, err := s.storage.ListDocuments(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.storage.CountDocuments(r.Context())
	if err != nil {
		s.logger.Error("count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     total,
		"offset":    offset,
		"limit":     limit,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	existing, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	doc := documentFromInput(&input)
	doc.ID = existing.ID
	doc.CreatedAt = existing.CreatedAt
	if err := s.storage.UpdateDocument(r.Context(), doc); err != nil {
		s.logger.Error("update document failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.storage.DeleteDocument(r.Context(), id); err != nil {
		s.logger.Error("delete document failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleAnonymizeDocument loads a stored document, runs the anonymize pass,
// persists the result, and returns it with the pass report.
func (s *Server) handleAnonymizeDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	out, report := s.rewriter.Anonymize(r.Context(), doc)
	if !report.NoOp {
		if err := s.storage.UpdateDocument(r.Context(), out); err != nil {
			s.logger.Error("persist anonymized document failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.respondJSON(w, http.StatusOK, rewriteResponse{Document: out, Report: report})
}

// handleDeanonymizeDocument loads a stored document and runs the
// de-anonymize pass. The result is returned for display and only written
// back when persist=true is given: the readable form usually must not
// replace the stored anonymized one.
func (s *Server) handleDeanonymizeDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	out, report := s.rewriter.Deanonymize(r.Context(), doc)
	if r.URL.Query().Get("persist") == "true" && !report.NoOp {
		if err := s.storage.UpdateDocument(r.Context(), out); err != nil {
			s.logger.Error("persist deanonymized document failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.respondJSON(w, http.StatusOK, rewriteResponse{Document: out, Report: report})
}

// handleAnonymize is the stateless transform: document in, document out.
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, report := s.rewriter.Anonymize(r.Context(), &doc)
	s.respondJSON(w, http.StatusOK, rewriteResponse{Document: out, Report: report})
}

// handleDeanonymize is the stateless inverse transform.
func (s *Server) handleDeanonymize(w http.ResponseWriter, r *http.Request) {
	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, report := s.rewriter.Deanonymize(r.Context(), &doc)
	s.respondJSON(w, http.StatusOK, rewriteResponse{Document: out, Report: report})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	docCount, err := s.storage.CountDocuments(r.Context())
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents": docCount,
	}
	if s.breaker != nil {
		resp["transit_breaker"] = s.breaker.State().String()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func documentFromInput(input *models.DocumentInput) *models.Document {
	doc := &models.Document{
		ID:             input.ID,
		Name:           input.Name,
		Text:           input.Text,
		AnnotationSets: input.AnnotationSets,
	}
	if input.Features != nil {
		doc.Features = *input.Features
	}
	return doc
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
