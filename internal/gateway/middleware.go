// internal/gateway/middleware.go

// Package gateway adapts the validation pipeline to net/http. The pipeline
// itself has no wire protocol; this is the in-process transport shim that
// builds a request view, runs Evaluate, and maps verdicts to responses.
package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/gatekeep/internal/pipeline"
	"github.com/FairForge/gatekeep/internal/telemetry"
)

// CallerHeader identifies the caller when no bearer token carries one.
const CallerHeader = "X-Caller-ID"

// RequestIDHeader carries the generated request ID back to the client.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes caps the body size the middleware will buffer for
// validation. Larger requests are rejected before the pipeline runs.
const maxBodyBytes = 16 << 20

// errBodyTooLarge marks a request body over maxBodyBytes.
var errBodyTooLarge = errors.New("gateway: request body exceeds buffer limit")

// Middleware wraps a handler with pipeline validation. Rejected requests
// never reach the next handler; their error kind decides the status code.
func Middleware(p *pipeline.Pipeline, collector *telemetry.Collector, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			w.Header().Set(RequestIDHeader, requestID)

			req, err := buildRequest(r)
			if err != nil {
				if errors.Is(err, errBodyTooLarge) {
					logger.Info("request body too large",
						zap.String("request_id", requestID))
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				logger.Warn("failed to read request body",
					zap.String("request_id", requestID),
					zap.Error(err))
				writeError(w, http.StatusBadRequest, "unreadable request body")
				return
			}

			start := time.Now()
			verr := p.Evaluate(r.Context(), req)
			duration := time.Since(start)

			if collector != nil {
				collector.RecordEvaluation(verr, duration)
			}

			if verr != nil {
				handleRejection(w, logger, requestID, verr)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// buildRequest converts an http.Request into the pipeline's request view.
// The body is buffered and restored for downstream handlers.
func buildRequest(r *http.Request) (*pipeline.Request, error) {
	var body []byte
	if r.Body != nil {
		var err error
		// Read one byte past the limit so truncation is detectable.
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(body)) > maxBodyBytes {
			return nil, errBodyTooLarge
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	return &pipeline.Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Headers:     headers,
		Body:        body,
		CallerID:    r.Header.Get(CallerHeader),
	}, nil
}

func handleRejection(w http.ResponseWriter, logger *zap.Logger, requestID string, err error) {
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) {
		// Context cancellation or another non-verdict error; the client
		// is usually gone already.
		writeError(w, http.StatusServiceUnavailable, "validation aborted")
		return
	}

	if ve.Kind == pipeline.KindInternal {
		// Full context goes to the log, an opaque message to the caller.
		logger.Error("validator internal fault",
			zap.String("request_id", requestID),
			zap.String("validator", ve.Validator),
			zap.Error(ve.Cause))
	} else {
		logger.Info("request rejected",
			zap.String("request_id", requestID),
			zap.String("validator", ve.Validator),
			zap.String("kind", ve.Kind.String()))
	}

	writeError(w, ve.HTTPStatus(), ve.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
