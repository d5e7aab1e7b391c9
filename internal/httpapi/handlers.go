package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/outage-watch/internal/services"
)

// ErrorDetail is the error object inside every non-2xx body.
type ErrorDetail struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	Details           string `json:"details,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// ErrorBody is the envelope for error responses.
type ErrorBody struct {
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

type handlers struct {
	logger  *slog.Logger
	service *services.StatusService
}

func (h *handlers) getRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Info())
}

func (h *handlers) getHealth(w http.ResponseWriter, _ *http.Request) {
	health := h.service.Health()
	code := http.StatusOK
	if !health.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (h *handlers) getMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Metrics())
}

func (h *handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := h.service.Status(q.Get("severity"), q.Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) getService(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Service(chi.URLParam(r, "service"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) getChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := h.service.Changes(q.Get("hours"), q.Get("service"), q.Get("change_type"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) getHotspots(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Hotspots(r.URL.Query().Get("hours"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) getServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Services())
}

func (h *handlers) postManualCycle(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RunManual(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// fail maps a status error from the service layer onto an HTTP error body.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	st := status.Convert(err)
	code, label := httpStatus(st.Code())
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	writeError(w, code, ErrorDetail{Code: label, Message: st.Message()})
}

func httpStatus(c codes.Code) (int, string) {
	switch c {
	case codes.InvalidArgument:
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case codes.NotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case codes.Unavailable, codes.FailedPrecondition:
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout, "TIMEOUT"
	case codes.Canceled:
		return http.StatusServiceUnavailable, "CANCELLED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func writeError(w http.ResponseWriter, code int, detail ErrorDetail) {
	writeJSON(w, code, ErrorBody{Error: detail, Timestamp: time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
