// Package server is the receipt extraction HTTP service. It accepts a
// base64 image and answers with the model's JSON guess at the receipt fields.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/api/googleapi"

	"github.com/ArionMiles/receiptcal/pkg/extraction"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

// MaxBodyBytes caps the request body.
const MaxBodyBytes = 15 << 20

// Analyzer turns image bytes into a JSON object describing the receipt.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (json.RawMessage, error)
}

// Handler serves the extraction API.
type Handler struct {
	analyzer Analyzer
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a Handler.
func New(analyzer Analyzer, logger *slog.Logger) *Handler {
	h := &Handler{
		analyzer: analyzer,
		logger:   logging.OrDefault(logger).With("component", "server"),
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc(extraction.AnalyzePath, h.analyze)
	h.mux.HandleFunc("GET "+extraction.HealthPath, h.health)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Instrumented wraps the handler with OpenTelemetry spans and metrics.
func (h *Handler) Instrumented() http.Handler {
	return otelhttp.NewHandler(h, "receiptd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// NewHTTPServer returns an http.Server for handler with conservative limits.
// WriteTimeout leaves room for a slow model call.
func NewHTTPServer(addr string, handler http.Handler, modelTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      modelTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeJSON(w, http.StatusMethodNotAllowed, extraction.ErrorResponse{Message: "Only POST requests are allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var req extraction.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, extraction.ErrorResponse{Message: "Image is too large."})
			return
		}
		h.writeJSON(w, http.StatusBadRequest, extraction.ErrorResponse{Message: "Request body must be JSON.", Error: err.Error()})
		return
	}

	if req.Image == "" || req.MimeType == "" {
		h.writeJSON(w, http.StatusBadRequest, extraction.ErrorResponse{Message: "Image data and mimeType are required."})
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, extraction.ErrorResponse{Message: "Image must be base64 encoded.", Error: err.Error()})
		return
	}

	start := time.Now()
	out, err := h.analyzer.Analyze(r.Context(), image, req.MimeType)
	if err != nil {
		status, body := failure(err)
		h.logger.Error("analyzing receipt failed", "status", status, "error", err, "duration", time.Since(start))
		h.writeJSON(w, status, body)
		return
	}

	h.logger.Info("receipt analyzed", "mime_type", req.MimeType, "bytes", len(image), "duration", time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.logger.Warn("writing response failed", "error", err)
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// failure maps an analyzer error to a response. Upstream HTTP errors keep
// their status so a quota problem reaches the client as 429.
func failure(err error) (int, extraction.ErrorResponse) {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code >= 400 && gErr.Code < 600 {
		msg := gErr.Message
		if msg == "" {
			msg = http.StatusText(gErr.Code)
		}
		return gErr.Code, extraction.ErrorResponse{Message: msg, Error: err.Error()}
	}
	return http.StatusInternalServerError, extraction.ErrorResponse{Message: "Error analyzing receipt", Error: err.Error()}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encoding response failed", "error", err)
	}
}
