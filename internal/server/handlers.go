package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/videotask-api/internal/orchestrator"
	"github.com/maauso/videotask-api/internal/provider"
	"github.com/maauso/videotask-api/internal/task"
)

// maxCallbackBytes caps the size of a provider callback body.
const maxCallbackBytes = 1 << 20

// TokenVerifier authenticates callback tokens.
type TokenVerifier interface {
	Verify(provider, token string) error
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *orchestrator.Service
	verifier  TokenVerifier
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *orchestrator.Service, verifier TokenVerifier, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		verifier:  verifier,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Providers: h.service.Providers()})
}

// CreateTask handles POST /tasks requests.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	created, err := h.service.Submit(r.Context(), req.toGeneration())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newTaskResponse(created))
}

// QuoteTask handles POST /tasks/quote requests.
func (h *Handlers) QuoteTask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	q, err := h.service.Quote(req.toGeneration())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, QuoteResponse{
		Provider:  q.Provider,
		ModelName: q.Model,
		Credits:   q.Credits,
	})
}

// GetTask handles GET /tasks/{id} requests. With ?refresh=true a
// non-terminal task is re-read from the provider first.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task ID is required", "MISSING_TASK_ID")
		return
	}

	refresh := false
	if v := r.URL.Query().Get("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "refresh must be a boolean", "VALIDATION_ERROR")
			return
		}
		refresh = b
	}

	var (
		found *task.Task
		err   error
	)
	if refresh {
		found, err = h.service.Refresh(r.Context(), taskID)
	} else {
		found, err = h.service.Get(r.Context(), taskID)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newTaskResponse(found))
}

// Callback handles POST /callbacks/{provider} requests. The token query
// parameter must be a callback token issued for the same provider.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	providerName := r.PathValue("provider")

	if err := h.verifier.Verify(providerName, r.URL.Query().Get("token")); err != nil {
		h.logger.Warn("callback rejected",
			slog.String("provider", providerName),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusUnauthorized, "invalid callback token", "INVALID_CALLBACK_TOKEN")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "INVALID_BODY")
		return
	}

	updated, err := h.service.HandleCallback(r.Context(), providerName, body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		TaskID: updated.ID,
		State:  string(updated.GetState()),
	})
}

// decodeRequest reads and validates a CreateTaskRequest body.
func (h *Handlers) decodeRequest(w http.ResponseWriter, r *http.Request) (CreateTaskRequest, bool) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return req, false
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return req, false
	}
	return req, true
}

// writeServiceError maps orchestrator and provider errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *provider.ValidationError
		perr *provider.ProviderError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: verr.Reason,
			Code:  "VALIDATION_ERROR",
			Field: verr.Field,
		})
	case errors.Is(err, provider.ErrUnsupportedModel):
		writeError(w, http.StatusBadRequest, err.Error(), "UNSUPPORTED_MODEL")
	case errors.Is(err, provider.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, err.Error(), "UNKNOWN_PROVIDER")
	case errors.Is(err, task.ErrTaskNotFound), errors.Is(err, provider.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
	case errors.Is(err, orchestrator.ErrProviderMismatch):
		writeError(w, http.StatusConflict, err.Error(), "PROVIDER_MISMATCH")
	case errors.As(err, &perr):
		writeError(w, http.StatusBadGateway, perr.Error(), "PROVIDER_ERROR")
	default:
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
