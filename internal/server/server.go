// Package server exposes the sync, validation, and image operations over a
// small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/provender/shelfsync"
	"github.com/provender/shelfsync/internal/validate"
	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/errors"
	"github.com/provender/shelfsync/pkg/logging"
	"github.com/provender/shelfsync/pkg/sync"
)

// Server is the HTTP front for a shelfsync client.
type Server struct {
	client shelfsync.Client
	http   *http.Server
}

// New creates a Server listening on addr.
func New(addr string, client shelfsync.Client) *Server {
	s := &Server{client: client}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /api/sync/status", s.handleStatus)
	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("POST /api/repair", s.handleRepair)
	mux.HandleFunc("GET /api/products/{id}/images", s.handleProductImages)
	mux.HandleFunc("GET /health", handleHealth)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           requestLogger(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	logging.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type syncRequest struct {
	Mode        string   `json:"mode"`
	DryRun      bool     `json:"dry_run"`
	ForceUpdate bool     `json:"force_update"`
	ItemIDs     []string `json:"item_ids,omitempty"`
	SkipImages  bool     `json:"skip_images"`
}

type syncResponse struct {
	RunID      string              `json:"run_id"`
	Success    bool                `json:"success"`
	Created    int                 `json:"created"`
	Updated    int                 `json:"updated"`
	Deleted    int                 `json:"deleted"`
	Errors     []catalog.ItemError `json:"errors,omitempty"`
	Mode       string              `json:"mode"`
	DryRun     bool                `json:"dry_run"`
	DurationMs int64               `json:"duration_ms"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewValidationError("body", "", "malformed JSON request"))
		return
	}

	opts := []sync.Option{
		sync.WithDryRun(req.DryRun),
		sync.WithForceUpdate(req.ForceUpdate),
		sync.WithSkipImages(req.SkipImages),
	}
	if req.Mode != "" {
		opts = append(opts, sync.WithMode(sync.Mode(req.Mode)))
	}
	if len(req.ItemIDs) > 0 {
		opts = append(opts, sync.WithItemIDs(req.ItemIDs...))
	}

	result, err := s.client.Sync(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		RunID:      result.RunID,
		Success:    result.Success,
		Created:    result.Created,
		Updated:    result.Updated,
		Deleted:    result.Deleted,
		Errors:     result.Errors,
		Mode:       result.Mode.String(),
		DryRun:     result.DryRun,
		DurationMs: result.DurationMs(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.client.SyncStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type validateRequest struct {
	IncludeFiles bool `json:"include_files"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.NewValidationError("body", "", "malformed JSON request"))
			return
		}
	}

	report, err := s.client.Validate(r.Context(), validate.Options{IncludeFiles: req.IncludeFiles})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type repairRequest struct {
	IssueTypes []validate.IssueType `json:"issue_types,omitempty"`
	DryRun     bool                 `json:"dry_run"`
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.NewValidationError("body", "", "malformed JSON request"))
			return
		}
	}

	result, err := s.client.Repair(r.Context(), validate.RepairOptions{
		IssueTypes: req.IssueTypes,
		DryRun:     req.DryRun,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProductImages(w http.ResponseWriter, r *http.Request) {
	records, err := s.client.ProductImages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*catalog.ImageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsSyncAlreadyRunning(err):
		status = http.StatusConflict
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsValidationError(err),
		stderrors.Is(err, errors.ErrInvalidSyncMode),
		stderrors.Is(err, errors.ErrMissingProductIDs),
		stderrors.Is(err, errors.ErrInvalidImageType):
		status = http.StatusBadRequest
	case errors.IsSourceUnavailable(err):
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logging.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
