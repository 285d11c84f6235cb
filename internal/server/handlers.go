package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storyforge/storyforge/internal/assemble"
	"github.com/storyforge/storyforge/internal/book"
	"github.com/storyforge/storyforge/internal/bookstore"
)

// GenerateBookResponse is the response for a completed generation run.
type GenerateBookResponse struct {
	ID      string          `json:"id"`
	Content book.Manuscript `json:"content"`
}

// ListBooksResponse is the response for listing books.
type ListBooksResponse struct {
	Books []book.Book `json:"books"`
}

// UpdateStarsRequest is the request body for setting a book's star count.
type UpdateStarsRequest struct {
	Stars int `json:"stars"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Database: "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: "ok"})
}

// handleGenerateBook runs the full generation pipeline synchronously and
// returns the finished book. The connection stays open for the duration of
// the run.
func (s *Server) handleGenerateBook(w http.ResponseWriter, r *http.Request) {
	var req book.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.coordinator.Assemble(r.Context(), req)
	if err != nil {
		s.logger.Error("book generation failed", "error", err)
		switch {
		case errors.Is(err, assemble.ErrNarrativeFailed), errors.Is(err, assemble.ErrImageFailed):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, GenerateBookResponse{ID: res.BookID, Content: res.Manuscript})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, bookstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	opts := bookstore.ListOptions{SortBy: "stars", Order: "desc"}

	if v := r.URL.Query().Get("sortBy"); v != "" {
		if v != "stars" && v != "date" {
			writeError(w, http.StatusBadRequest, "sortBy must be 'stars' or 'date'")
			return
		}
		opts.SortBy = v
	}
	if v := r.URL.Query().Get("order"); v != "" {
		if v != "asc" && v != "desc" {
			writeError(w, http.StatusBadRequest, "order must be 'asc' or 'desc'")
			return
		}
		opts.Order = v
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = limit
	}

	books, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if books == nil {
		books = []book.Book{}
	}

	writeJSON(w, http.StatusOK, ListBooksResponse{Books: books})
}

func (s *Server) handleUpdateStars(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateStarsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Stars < 0 {
		writeError(w, http.StatusBadRequest, "stars must not be negative")
		return
	}

	b, err := s.store.UpdateStars(r.Context(), id, req.Stars)
	if err != nil {
		if errors.Is(err, bookstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
