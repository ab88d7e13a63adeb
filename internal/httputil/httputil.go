package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"grounded-query/internal/grounding"
	"grounded-query/internal/session"
)

// Validator is shared by handlers that decode JSON bodies.
var Validator = validator.New(validator.WithRequiredStructEnabled())

// NewRouter creates a chi router with standard middleware (RequestID, RealIP, Timeout, Recoverer, Logger).
// timeout must cover every retry attempt plus backoff.
func NewRouter(log *slog.Logger, timeout time.Duration) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(timeout))
	r.Use(Recoverer(log))
	r.Use(RequestLogger(log))

	return r
}

// WriteJSON writes a JSON response with proper headers.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes {"error": kind, "message": message}.
func WriteError(w http.ResponseWriter, status int, kind, message string) {
	WriteJSON(w, status, errorBody{Error: kind, Message: message})
}

// HealthHandler returns a simple health check endpoint.
func HealthHandler(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Warn("healthz write failed", "err", err)
		}
	}
}

// RequestLogger is a lightweight HTTP logger that uses slog.
func RequestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Recoverer logs panics via slog while preserving chi's Recoverer behavior.
func Recoverer(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered", "panic", rec, "path", r.URL.Path, "method", r.Method, "request_id", middleware.GetReqID(r.Context()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Fail writes an error response with consistent logging.
func Fail(log *slog.Logger, w http.ResponseWriter, message string, err error, status int) {
	log.Error(message, "err", err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteError(w, status, strings.ToLower(http.StatusText(status)), message)
}

// ValidationError reports struct validation failures as a 400 listing each bad field.
func ValidationError(log *slog.Logger, w http.ResponseWriter, err error) {
	log.Info("validation failed", "err", err)
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		WriteError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	fields := make([]string, 0, len(errs))
	for _, fe := range errs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	WriteError(w, http.StatusBadRequest, "validation", strings.Join(fields, "; "))
}

// StatusFor maps a query failure to the status returned to our own callers.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrQuotaExceeded), errors.Is(err, grounding.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, grounding.ErrCancelled):
		return http.StatusGatewayTimeout
	case errors.Is(err, grounding.ErrNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, grounding.ErrAuth), errors.Is(err, grounding.ErrBadRequest), errors.Is(err, grounding.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// QueryFailure writes a query error using its kind as the error name.
func QueryFailure(log *slog.Logger, w http.ResponseWriter, err error) {
	status := StatusFor(err)
	kind := "internal"
	if errors.Is(err, session.ErrQuotaExceeded) {
		kind = "quota_exceeded"
	} else if k := grounding.Kind(err); k != nil {
		kind = strings.ReplaceAll(k.Error(), " ", "_")
	}
	log.Warn("query failed", "kind", kind, "status", status, "err", err)
	WriteError(w, status, kind, err.Error())
}
