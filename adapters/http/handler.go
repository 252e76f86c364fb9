// Package http provides the HTTP API surface.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vidgate/vidgate/adapters/metrics"
	"github.com/vidgate/vidgate/app"
	"github.com/vidgate/vidgate/domain/extract"
	"github.com/vidgate/vidgate/domain/ratelimit"
	"github.com/vidgate/vidgate/domain/usage"
	"github.com/vidgate/vidgate/ports"
)

// APIHandler serves the extraction API endpoints.
type APIHandler struct {
	admission *app.AdmissionService
	extractor *app.ExtractService
	usage     ports.UsageRecorder
	clock     ports.Clock
	idGen     ports.IDGenerator
	logger    zerolog.Logger
	metrics   *metrics.Collector
}

// APIDeps contains dependencies for APIHandler.
type APIDeps struct {
	Admission *app.AdmissionService
	Extractor *app.ExtractService
	Usage     ports.UsageRecorder
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    zerolog.Logger
	Metrics   *metrics.Collector
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(deps APIDeps) *APIHandler {
	return &APIHandler{
		admission: deps.Admission,
		extractor: deps.Extractor,
		usage:     deps.Usage,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
}

// downloadRequest is the JSON body accepted by the download endpoint.
type downloadRequest struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Download handles POST /api/download: authenticates, charges the
// download and global windows, and streams the extracted artifact.
func (h *APIHandler) Download(w http.ResponseWriter, r *http.Request) {
	start := h.clock.Now()

	var body downloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		h.fail(w, r, ratelimit.RouteDownload, "", start, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, ok := h.parseRequest(w, r, body.URL, body.Type, ratelimit.RouteDownload, start)
	if !ok {
		return
	}

	adm, ok := h.admit(w, r, ratelimit.RouteDownload, start)
	if !ok {
		return
	}

	stream, err := h.extractor.Download(r.Context(), req)
	if err != nil {
		h.writeExtractionError(w, r, ratelimit.RouteDownload, adm.KeyID, start, err)
		return
	}
	defer stream.Body.Close()

	setRateLimitHeaders(w, adm.Decision)
	if stream.ContentType != "" {
		w.Header().Set("Content-Type", stream.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if stream.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stream.Filename))
	}
	if stream.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(stream.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	written, copyErr := copyStream(w, stream.Body)
	if copyErr != nil {
		// Headers are gone; nothing to send but the log line.
		h.logger.Error().Err(copyErr).Int64("bytes", written).Msg("download stream aborted")
	}

	h.record(r, ratelimit.RouteDownload, adm.KeyID, http.StatusOK, start, written)
	h.logRequest(r, ratelimit.RouteDownload, adm.KeyID, http.StatusOK, start, written)
}

// Info handles GET /api/info: authenticates, charges the info and global
// windows, and returns the metadata record without the direct media URL.
func (h *APIHandler) Info(w http.ResponseWriter, r *http.Request) {
	start := h.clock.Now()

	q := r.URL.Query()
	req, ok := h.parseRequest(w, r, q.Get("url"), q.Get("type"), ratelimit.RouteInfo, start)
	if !ok {
		return
	}

	adm, ok := h.admit(w, r, ratelimit.RouteInfo, start)
	if !ok {
		return
	}

	meta, err := h.extractor.Info(r.Context(), req)
	if err != nil {
		h.writeExtractionError(w, r, ratelimit.RouteInfo, adm.KeyID, start, err)
		return
	}

	setRateLimitHeaders(w, adm.Decision)
	written := writeJSON(w, http.StatusOK, meta)
	h.record(r, ratelimit.RouteInfo, adm.KeyID, http.StatusOK, start, written)
	h.logRequest(r, ratelimit.RouteInfo, adm.KeyID, http.StatusOK, start, written)
}

// parseRequest validates the media kind early so an unusable request
// never reaches admission.
func (h *APIHandler) parseRequest(w http.ResponseWriter, r *http.Request, rawURL, rawKind string, route ratelimit.Route, start time.Time) (extract.Request, bool) {
	kind, ok := extract.ParseKind(rawKind)
	if !ok {
		h.fail(w, r, route, "", start, http.StatusBadRequest, fmt.Sprintf("invalid type %q: must be audio or video", rawKind))
		return extract.Request{}, false
	}
	return extract.Request{URL: rawURL, Kind: kind}, true
}

// admit runs authentication and rate limiting and writes the rejection
// response when the request does not pass.
func (h *APIHandler) admit(w http.ResponseWriter, r *http.Request, route ratelimit.Route, start time.Time) (app.Admission, bool) {
	adm, err := h.admission.Admit(r.Context(), extractAPIKey(r), route)
	if err != nil {
		if errors.Is(err, app.ErrUnauthorized) {
			if h.metrics != nil {
				h.metrics.AuthFailures.WithLabelValues("invalid_api_key").Inc()
			}
			h.fail(w, r, route, "", start, http.StatusUnauthorized, "invalid API key")
			return app.Admission{}, false
		}
		h.logger.Error().Err(err).Msg("admission failed")
		h.fail(w, r, route, "", start, http.StatusInternalServerError, "internal error")
		return app.Admission{}, false
	}

	if !adm.Decision.Allowed {
		if h.metrics != nil {
			h.metrics.RateLimitHits.WithLabelValues(string(adm.Decision.Route)).Inc()
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(adm.Decision.RetryAfter)))
		h.fail(w, r, route, adm.KeyID, start, http.StatusTooManyRequests, rateLimitMessage(adm.Decision.Route))
		return app.Admission{}, false
	}
	return adm, true
}

// writeExtractionError maps a classified extraction failure onto the
// HTTP surface. Every error body is {"error": message}.
func (h *APIHandler) writeExtractionError(w http.ResponseWriter, r *http.Request, route ratelimit.Route, keyID string, start time.Time, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var xerr *extract.Error
	if errors.As(err, &xerr) {
		msg = xerr.Message
		switch xerr.Kind {
		case extract.FailureValidation:
			status = http.StatusBadRequest
		case extract.FailureTimeout, extract.FailureExtraction, extract.FailureInternal:
			status = http.StatusInternalServerError
		}
		if h.metrics != nil {
			h.metrics.ExtractionErrors.WithLabelValues(string(route), string(xerr.Kind)).Inc()
		}
	} else {
		h.logger.Error().Err(err).Msg("unclassified extraction error")
	}

	h.fail(w, r, route, keyID, start, status, msg)
}

// fail writes an error response and records the audit trail for it.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, route ratelimit.Route, keyID string, start time.Time, status int, msg string) {
	writeError(w, status, msg)
	h.record(r, route, keyID, status, start, 0)
	h.logRequest(r, route, keyID, status, start, 0)
}

// record queues a usage event.
func (h *APIHandler) record(r *http.Request, route ratelimit.Route, keyID string, status int, start time.Time, written int64) {
	if h.usage == nil {
		return
	}
	now := h.clock.Now()
	h.usage.Record(usage.Event{
		ID:            h.idGen.New(),
		KeyID:         keyID,
		Route:         string(route),
		Method:        r.Method,
		Path:          r.URL.Path,
		StatusCode:    status,
		LatencyMs:     now.Sub(start).Milliseconds(),
		ResponseBytes: written,
		RemoteIP:      extractIP(r),
		UserAgent:     r.UserAgent(),
		Timestamp:     now,
	})
	if h.metrics != nil && written > 0 {
		h.metrics.ResponseBytes.WithLabelValues(string(route)).Add(float64(written))
	}
}

func (h *APIHandler) logRequest(r *http.Request, route ratelimit.Route, keyID string, status int, start time.Time, written int64) {
	h.logger.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("route", string(route)).
		Str("key_id", keyID).
		Int("status", status).
		Int64("bytes", written).
		Int64("latency_ms", h.clock.Now().Sub(start).Milliseconds()).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("api request")
}

// rateLimitMessage names the window that rejected the request.
func rateLimitMessage(route ratelimit.Route) string {
	if route == ratelimit.RouteGlobal {
		return "daily request limit exceeded"
	}
	return "rate limit exceeded"
}

// retryAfterSeconds rounds a retry delay up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// setRateLimitHeaders exposes the route window state on success.
func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// copyStream copies the artifact to the client, flushing as it goes.
func copyStream(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, canFlush := w.(http.Flusher)

	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

// extractAPIKey extracts the API key from the request.
// Supports: Authorization header (Bearer token), X-API-Key header,
// api_key query param.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}

	return ""
}

// extractIP extracts the client IP from the request.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// writeError writes the canonical {"error": message} body.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeJSON writes a JSON response and returns the encoded length.
func writeJSON(w http.ResponseWriter, status int, v any) int64 {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return 0
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	n, _ := w.Write(data)
	return int64(n)
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	extractor HealthChecker
}

// HealthChecker reports whether the extraction backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(extractor HealthChecker) *HealthHandler {
	return &HealthHandler{extractor: extractor}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readiness checks if the service and extraction backend are ready.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.extractor != nil {
		if err := h.extractor.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
