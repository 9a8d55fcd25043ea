// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/hylla/witcopier/internal/adapters/server/common"
	"github.com/hylla/witcopier/internal/domain"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// hookSecretHeader carries the shared secret when basic auth is not used.
const hookSecretHeader = "X-Hook-Secret"

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	service    common.Service
	hookSecret string
}

// Options configures optional handler behavior.
type Options struct {
	// HookSecret, when set, must accompany service-hook posts.
	HookSecret string
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter.
func NewHandler(service common.Service, opts Options) *Handler {
	return &Handler{
		service:    service,
		hookSecret: strings.TrimSpace(opts.HookSecret),
	}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(r.URL.Path)
	switch {
	case path == "notifications":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleNotification(w, r)
	case path == "notifications/evaluate":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleEvaluate(w, r)
	case path == "hooks/workitems":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleServiceHook(w, r)
	case path == "activity":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleActivity(w, r)
	default:
		id, ok := resolveWorkItemID(path)
		if !ok {
			writeJSONError(w, http.StatusNotFound, APIError{
				Code:    "not_found",
				Message: "endpoint not found",
			})
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetWorkItem(w, r, id)
	}
}

// handleNotification serves POST `/notifications`.
func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var n domain.Notification
	if err := decodeJSONBody(r.Context(), w, r, &n); err != nil {
		writeErrorFrom(w, err)
		return
	}
	report, err := h.service.ProcessNotification(r.Context(), notificationRequest(r, n))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

// handleEvaluate serves POST `/notifications/evaluate`.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var n domain.Notification
	if err := decodeJSONBody(r.Context(), w, r, &n); err != nil {
		writeErrorFrom(w, err)
		return
	}
	eval, err := h.service.EvaluateNotification(r.Context(), notificationRequest(r, n))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// handleServiceHook serves POST `/hooks/workitems`.
func (h *Handler) handleServiceHook(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	if !h.authorizedHook(r) {
		log.Warn("service hook rejected", "remote", r.RemoteAddr)
		writeErrorFrom(w, fmt.Errorf("service hook secret mismatch: %w", common.ErrUnauthorized))
		return
	}
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		writeErrorFrom(w, fmt.Errorf("read request body: %w", errors.Join(common.ErrInvalidRequest, err)))
		return
	}
	n, err := common.TranslateServiceHook(body)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	report, err := h.service.ProcessNotification(r.Context(), notificationRequest(r, n))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

// handleGetWorkItem serves GET `/work_items/{id}`.
func (h *Handler) handleGetWorkItem(w http.ResponseWriter, r *http.Request, id int) {
	if !h.available(w) {
		return
	}
	item, err := h.service.GetWorkItem(r.Context(), common.GetWorkItemRequest{
		ID:              id,
		ServiceHostName: strings.TrimSpace(r.URL.Query().Get("collection")),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleActivity serves GET `/activity`.
func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}
	items, err := h.service.ListCopyActivity(r.Context(), limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

// available writes a 503 when no service is configured.
func (h *Handler) available(w http.ResponseWriter) bool {
	if h.service != nil {
		return true
	}
	writeJSONError(w, http.StatusServiceUnavailable, APIError{
		Code:    "service_unavailable",
		Message: "notification service is not configured",
	})
	return false
}

// authorizedHook checks the shared secret from basic auth or the secret header.
func (h *Handler) authorizedHook(r *http.Request) bool {
	if h.hookSecret == "" {
		return true
	}
	candidate := strings.TrimSpace(r.Header.Get(hookSecretHeader))
	if _, password, ok := r.BasicAuth(); ok {
		candidate = password
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(h.hookSecret)) == 1
}

// notificationRequest reads the collection and category query parameters.
func notificationRequest(r *http.Request, n domain.Notification) common.NotificationRequest {
	q := r.URL.Query()
	return common.NotificationRequest{
		ServiceHostName: strings.TrimSpace(q.Get("collection")),
		RequestID:       strings.TrimSpace(r.Header.Get("X-Request-Id")),
		Category:        strings.TrimSpace(q.Get("category")),
		Notification:    n,
	}
}

// resolveWorkItemID parses `/work_items/{id}` and returns `{id}`.
func resolveWorkItemID(path string) (int, bool) {
	const prefix = "work_items/"
	if !strings.HasPrefix(path, prefix) {
		return 0, false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(path, prefix))
	if raw == "" || strings.Contains(raw, "/") {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, APIError{
			Code:    "unauthorized",
			Message: err.Error(),
			Hint:    "Send the hook secret as the basic-auth password or the X-Hook-Secret header.",
		})
	case errors.Is(err, common.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("encode response", "err", err)
	}
}

// decodeJSONBody decodes one required JSON request body and rejects trailing content.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
