package extraction

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/docextract/internal/compare"
	"github.com/zombor/docextract/internal/render"
)

// maxUploadSize bounds multipart uploads of scanned documents
const maxUploadSize = int64(100 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes a JSON error body
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// notFoundOr maps history lookups to 404 or 500
func notFoundOr(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, ErrNotFound) {
		corsError(w, message, http.StatusNotFound)
		return
	}
	slog.Error("Error reading run history", "error", err)
	corsError(w, "Internal server error", http.StatusInternalServerError)
}

// handleListRuns returns all runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListRuns()
	if err != nil {
		slog.Error("Error listing runs", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	// Ensure we always return an array, not nil
	if runs == nil {
		runs = []*Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns a single run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.PathValue("id"))
	if err != nil {
		notFoundOr(w, err, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetRunResults returns a run with its comparison rows
func (s *Server) handleGetRunResults(w http.ResponseWriter, r *http.Request) {
	run, results, err := s.service.GetRunResults(r.PathValue("id"))
	if err != nil {
		notFoundOr(w, err, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":     run,
		"results": results,
	})
}

// handleGetRunResultsCSV returns the comparison rows as a CSV report
func (s *Server) handleGetRunResultsCSV(w http.ResponseWriter, r *http.Request) {
	_, results, err := s.service.GetRunResults(r.PathValue("id"))
	if err != nil {
		notFoundOr(w, err, "Run not found")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ReportCSV+`"`)
	if err := compare.WriteCSV(w, results); err != nil {
		slog.Error("Error writing CSV report", "error", err)
	}
}

// handleDeleteRun removes a run from the history
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRun(r.PathValue("id")); err != nil {
		notFoundOr(w, err, "Run not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDocument returns the stored Extraction artifact of a document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetDocument(r.PathValue("name"))
	if err != nil {
		corsError(w, "Document not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handleUploadDocument runs one uploaded document through the pipeline
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 100MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if !render.IsSupported(header.Filename) {
		jsonError(w, "Unsupported file type. Upload a PDF or an image.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	// Prefer the extension over generic multipart content types
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = render.ContentTypeFor(header.Filename)
	}

	outcome, err := s.service.ProcessDocument(r.Context(), DocumentName(header.Filename), data, contentType)
	if err != nil {
		slog.Error("Error processing document", "filename", header.Filename, "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}
