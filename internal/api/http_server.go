// Package api exposes the booking workflow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookflow/internal/config"
	"bookflow/internal/database"
	"bookflow/internal/export"
	"bookflow/internal/metrics"
	"bookflow/internal/processor"
	"bookflow/internal/service"
)

// Services are the operations the API dispatches to.
type Services struct {
	Intents         *service.IntentService
	Orchestrator    *service.Orchestrator
	BookedServices  *service.BookedServiceService
	Payments        *service.PaymentService
	BookingPayments *service.BookingPaymentService
	Exporter        *export.PayoutExporter
	Files           FileUploader
}

// FileUploader stores client uploads until the booking succeeds.
type FileUploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

type HTTPServer struct {
	cfg      config.APIConfig
	services Services
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, services Services, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, services: services, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("GET /healthz", srv.handleHealth)

	mux.HandleFunc("POST /api/v1/files", srv.handleUpload)
	mux.HandleFunc("POST /api/v1/intents", srv.handleCreateIntent)
	mux.HandleFunc("GET /api/v1/intents/{id}", srv.handleGetIntent)
	mux.HandleFunc("DELETE /api/v1/intents/{id}", srv.handleDeleteIntent)
	mux.HandleFunc("POST /api/v1/intents/{id}/status", srv.handleIntentStatus)
	mux.HandleFunc("POST /api/v1/intents/{id}/fanout", srv.handleResumeFanOut)

	mux.HandleFunc("POST /api/v1/services/{id}/status", srv.handleServiceStatus)
	mux.HandleFunc("POST /api/v1/services/{id}/cancellation", srv.handleCancellation)
	mux.HandleFunc("POST /api/v1/services/{id}/team", srv.handleServiceTeam)

	mux.HandleFunc("GET /api/v1/payments/export", srv.handleExportPayments)
	mux.HandleFunc("POST /api/v1/payments/{id}/status", srv.handlePaymentStatus)

	mux.HandleFunc("POST /api/v1/booking-payments/{id}/capture", srv.handleCapture)
	mux.HandleFunc("POST /api/v1/booking-payments/{id}/due", srv.handleMarkDue)

	mux.HandleFunc("POST /api/v1/webhooks/payment", srv.handlePaymentWebhook)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route, strconv.Itoa(recorder.status))

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

// writeServiceError maps domain errors onto HTTP status codes.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound), errors.Is(err, processor.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrCancellationUnavailable),
		errors.Is(err, service.ErrTransactionMismatch):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
