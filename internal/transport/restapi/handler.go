// Package restapi provides HTTP/JSON REST endpoints for Reel, mirroring
// the gRPC OperationService (internal/transport/grpcapi) for clients that
// don't want to speak gRPC. Both transports call straight into the same
// pipeline.Pipeline and ledger.Ledger.
//
// Endpoints:
//
//	POST   /v1/operations             - start an operation
//	GET    /v1/operations/:id          - get an operation
//	DELETE /v1/operations/:id          - cancel an operation (administrative)
//	GET    /v1/balance/:user_id        - get a ledger balance
//	GET    /health                     - health check
//
// /ready and /metrics are registered by the composition root (cmd/server),
// since readiness needs the database handle this package doesn't own.
package restapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/ledger"
	"github.com/kelpejol/reel/internal/operation"
	"github.com/kelpejol/reel/internal/pipeline"
	"github.com/rs/zerolog"
)

// Handler provides REST API endpoints.
type Handler struct {
	pipeline *pipeline.Pipeline
	ledger   *ledger.Ledger
	log      zerolog.Logger
}

func NewHandler(p *pipeline.Pipeline, led *ledger.Ledger, logger zerolog.Logger) *Handler {
	return &Handler{
		pipeline: p,
		ledger:   led,
		log:      logger.With().Str("component", "rest_handler").Logger(),
	}
}

// RegisterRoutes registers all REST API routes on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/operations", h.handleStartOperation)
	mux.HandleFunc("/v1/operations/", h.handleOperationByID)
	mux.HandleFunc("/v1/balance/", h.handleBalance)

	mux.HandleFunc("/health", h.handleHealth)
}

type startOperationRequest struct {
	UserID     string                 `json:"user_id"`
	Tier       string                 `json:"tier"`
	AssetID    string                 `json:"asset_id"`
	Kind       string                 `json:"kind"`
	Parameters map[string]interface{} `json:"parameters"`
}

// handleStartOperation handles POST /v1/operations
func (h *Handler) handleStartOperation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req startOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	params, err := operation.FromMap(operation.Kind(req.Kind), req.Parameters)
	if err != nil {
		h.writeAppError(w, apperr.Wrap(apperr.Validation, "invalid operation parameters", err))
		return
	}

	tier := pipeline.ParseTier(req.Tier)

	op, err := h.pipeline.Submit(r.Context(), req.UserID, tier, req.AssetID, params)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, op)
}

// handleOperationByID handles GET /v1/operations/:id (get) and
// DELETE /v1/operations/:id (administrative cancellation, spec.md §5).
func (h *Handler) handleOperationByID(w http.ResponseWriter, r *http.Request) {
	operationID := strings.TrimPrefix(r.URL.Path, "/v1/operations/")
	if operationID == "" || strings.Contains(operationID, "/") {
		h.writeError(w, http.StatusBadRequest, "invalid operation id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		op, err := h.pipeline.Get(r.Context(), userID, operationID)
		if err != nil {
			h.writeAppError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, op)

	case http.MethodDelete:
		if err := h.pipeline.Cancel(r.Context(), operationID); err != nil {
			h.writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleBalance handles GET /v1/balance/:user_id
func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/v1/balance/")
	if userID == "" || strings.Contains(userID, "/") {
		h.writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "balance": balance})
}

// handleHealth handles GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// writeAppError translates the apperr taxonomy into an HTTP status, the
// REST counterpart of grpcapi's toGRPCStatus. Unlike the teacher's
// handleGRPCError, this never string-matches an error message.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := err.Error()

	if ae, ok := err.(*apperr.Error); ok {
		message = ae.Message
		switch ae.Kind {
		case apperr.Validation:
			statusCode = http.StatusBadRequest
		case apperr.Authorization:
			statusCode = http.StatusForbidden
		case apperr.InsufficientFunds:
			statusCode = http.StatusPaymentRequired
		case apperr.Conflict:
			statusCode = http.StatusConflict
		case apperr.NotFound:
			statusCode = http.StatusNotFound
		case apperr.TransientIO:
			statusCode = http.StatusServiceUnavailable
		case apperr.PermanentFailure:
			statusCode = http.StatusUnprocessableEntity
		default:
			statusCode = http.StatusInternalServerError
		}
	}

	h.log.Error().Err(err).Int("status", statusCode).Msg("REST API error")
	h.writeError(w, statusCode, message)
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    statusCode,
			"message": message,
		},
		"timestamp": time.Now().Unix(),
	})
}

// CORS is development-friendly CORS middleware.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs every HTTP request.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration_ms", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
