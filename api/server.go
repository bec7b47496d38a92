// Package api exposes the PDF question-answering service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/fabfab/pdf-qa/qa"
	"github.com/fabfab/pdf-qa/store"
)

type Server struct {
	svc            *qa.Service
	logger         *log.Logger
	maxUploadBytes int64
	handler        http.Handler
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	DocumentID string `json:"documentId"`
	PageCount  int    `json:"pageCount"`
	Status     string `json:"status"`
}

type metadataResponse struct {
	DocumentID string `json:"documentId"`
	PageCount  int    `json:"pageCount"`
	ChunkCount int    `json:"chunkCount"`
	Status     string `json:"status"`
}

type chatRequest struct {
	DocumentID string `json:"documentId"`
	Question   string `json:"question"`
}

type chatResponse struct {
	Answer  string       `json:"answer"`
	Sources []chatSource `json:"sources"`
}

type chatSource struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// New constructs a Server around the QA service. maxUploadBytes caps the
// accepted document size; zero means a 32 MiB default.
func New(svc *qa.Service, logger *log.Logger, maxUploadBytes int64) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}

	s := &Server{svc: svc, logger: logger, maxUploadBytes: maxUploadBytes}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/documents", s.handleUpload)
	mux.HandleFunc("/documents/", s.handleMetadata)
	mux.HandleFunc("/chat", s.handleChat)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("file field is required: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read uploaded file: %w", err))
		return
	}

	result, err := s.svc.Ingest(r.Context(), header.Filename, data)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{
		DocumentID: result.DocumentID,
		PageCount:  result.PageCount,
		Status:     string(result.Status),
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	documentID := strings.TrimPrefix(r.URL.Path, "/documents/")
	if documentID == "" || strings.Contains(documentID, "/") {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("document not found"))
		return
	}

	doc, err := s.svc.Metadata(r.Context(), documentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, metadataResponse{
		DocumentID: doc.ID,
		PageCount:  doc.PageCount,
		ChunkCount: doc.ChunkCount,
		Status:     string(doc.Status),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	resp, err := s.svc.Chat(r.Context(), req.DocumentID, req.Question)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	sources := make([]chatSource, len(resp.Sources))
	for i, source := range resp.Sources {
		sources[i] = chatSource{Page: source.Page, Text: source.Text}
	}

	s.writeJSON(w, http.StatusOK, chatResponse{Answer: resp.Answer, Sources: sources})
}

// writeServiceError maps the service error taxonomy onto status codes:
// unknown or unready document 404, precondition violations 400, documents
// with no extractable text 422, anything else 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, qa.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, qa.ErrUnprocessableDocument):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
