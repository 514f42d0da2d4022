package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal/wire"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// requestError is a malformed request. It never reaches the domain service.
type requestError struct {
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func badRequest(message string) error {
	return &requestError{message: message}
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	if err := writeJSON(w, statusCode, data); err != nil {
		zap.S().Warnw("failed to write response", "error", err)
	}
}

// writeError writes err as an error payload with the matching status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	var payload ria.ErrorPayload
	if errors.As(err, &reqErr) {
		payload = ria.ErrorPayload{Status: ria.StatusServerError, Message: reqErr.message}
	} else {
		payload = ria.PayloadFromError(err)
	}
	if !s.stackTraces {
		payload.StackTrace = ""
	}

	code := httpStatus(payload)
	if reqErr != nil {
		code = http.StatusBadRequest
	}
	if code >= http.StatusInternalServerError {
		zap.S().Errorw("request failed", "status", payload.Status, "error", err)
	} else {
		zap.S().Debugw("request rejected", "status", payload.Status, "error", err)
	}
	if werr := writeJSON(w, code, wire.ErrorResponse{Error: payload}); werr != nil {
		zap.S().Warnw("failed to write error response", "error", werr)
	}
}

func httpStatus(p ria.ErrorPayload) int {
	if p.Fatal {
		return http.StatusInternalServerError
	}
	switch p.Status {
	case ria.StatusNotFound:
		return http.StatusNotFound
	case ria.StatusUnauthorized:
		return http.StatusUnauthorized
	case ria.StatusNotSupported:
		return http.StatusNotImplemented
	case ria.StatusConflicts:
		return http.StatusConflict
	case ria.StatusValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// readJSONBody reads and decodes JSON from request body. An empty body
// leaves v unchanged.
func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func normalizeParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = wire.Normalize(v)
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs every request with its status, latency and request id.
// Requests without an X-Request-ID get one.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zap.S().Infow("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"durationMs", time.Since(start).Milliseconds(),
			"requestId", id,
		)
	})
}
