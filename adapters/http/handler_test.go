package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vidgate/vidgate/adapters/clock"
	vhttp "github.com/vidgate/vidgate/adapters/http"
	"github.com/vidgate/vidgate/adapters/idgen"
	"github.com/vidgate/vidgate/adapters/memory"
	"github.com/vidgate/vidgate/adapters/metrics"
	"github.com/vidgate/vidgate/app"
	"github.com/vidgate/vidgate/domain/auth"
	"github.com/vidgate/vidgate/domain/extract"
	"github.com/vidgate/vidgate/domain/ratelimit"
	"github.com/vidgate/vidgate/ports"
)

const testSecret = "s3cret"

// scriptedExtractor returns canned extraction outcomes.
type scriptedExtractor struct {
	meta    extract.Metadata
	metaErr error
	stream  func() extract.Stream
	strErr  error
}

func (s *scriptedExtractor) Info(ctx context.Context, req extract.Request) (extract.Metadata, error) {
	if s.metaErr != nil {
		return extract.Metadata{}, s.metaErr
	}
	return s.meta, nil
}

func (s *scriptedExtractor) Download(ctx context.Context, req extract.Request) (extract.Stream, error) {
	if s.strErr != nil {
		return extract.Stream{}, s.strErr
	}
	return s.stream(), nil
}

func (s *scriptedExtractor) HealthCheck(ctx context.Context) error { return nil }

var _ ports.Extractor = (*scriptedExtractor)(nil)

func newServer(t *testing.T, ext ports.Extractor) *httptest.Server {
	t.Helper()

	store := memory.NewCounterStore(memory.CounterStoreConfig{NumShards: 4})
	t.Cleanup(func() { store.Close() })
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 20, 0, time.UTC))

	limiter := app.NewLimiterService(store, clk, app.LimiterConfig{
		Download: ratelimit.Window{Route: ratelimit.RouteDownload, Limit: 10, Period: time.Minute},
		Info:     ratelimit.Window{Route: ratelimit.RouteInfo, Limit: 20, Period: time.Minute},
		Global:   ratelimit.Window{Route: ratelimit.RouteGlobal, Limit: 100, Period: 24 * time.Hour},
	})
	admission := app.NewAdmissionService(app.AdmissionDeps{
		Authenticator: auth.New(testSecret),
		Limiter:       limiter,
		Clock:         clk,
	})
	extractSvc := app.NewExtractService(ext, app.ExtractConfig{Timeout: 5 * time.Second})

	collector := metrics.NewWithRegistry(prometheus.NewRegistry())
	api := vhttp.NewAPIHandler(vhttp.APIDeps{
		Admission: admission,
		Extractor: extractSvc,
		Clock:     clk,
		IDGen:     idgen.UUID{},
		Logger:    zerolog.Nop(),
		Metrics:   collector,
	})
	health := vhttp.NewHealthHandler(extractSvc)

	router := vhttp.NewRouter(api, health, zerolog.Nop(), vhttp.RouterConfig{
		Metrics: collector,
		Index: vhttp.IndexInfo{
			Endpoints: map[string]string{
				"POST /api/download": "download a video or audio artifact",
				"GET /api/info":      "fetch video metadata",
			},
			Limits: map[string]string{
				"download": "10/minute",
				"info":     "20/minute",
				"global":   "100/day",
			},
		},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func infoRequest(t *testing.T, srv *httptest.Server, apiKey, rawURL string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/info?url="+rawURL, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	msg, ok := body["error"]
	if !ok {
		t.Fatalf(`error body missing "error" field: %v`, body)
	}
	return msg
}

func TestInfo_Success(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{meta: extract.Metadata{
		Title:     "Talk",
		ID:        "abc",
		StreamURL: "https://cdn.example.com/direct.m4a",
	}})

	resp := infoRequest(t, srv, testSecret, "https://youtu.be/abc")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "19" {
		t.Errorf("X-RateLimit-Remaining = %q, want 19", got)
	}

	var meta extract.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta.Title != "Talk" {
		t.Errorf("title = %q", meta.Title)
	}
	if meta.StreamURL != "" {
		t.Errorf("stream_url leaked into info response: %q", meta.StreamURL)
	}
}

func TestInfo_RateLimitExhaustion(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{meta: extract.Metadata{Title: "Talk"}})

	for i := 0; i < 20; i++ {
		resp := infoRequest(t, srv, testSecret, "https://youtu.be/abc")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp := infoRequest(t, srv, testSecret, "https://youtu.be/abc")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("21st request status = %d, want 429", resp.StatusCode)
	}
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("Retry-After = %q, want integer >= 1", resp.Header.Get("Retry-After"))
	}
	if msg := decodeError(t, resp); msg != "rate limit exceeded" {
		t.Errorf("error = %q, want rate limit exceeded", msg)
	}
}

func TestInfo_MissingKeyDoesNotBurnQuota(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{meta: extract.Metadata{Title: "Talk"}})

	// A burst of unauthenticated requests.
	for i := 0; i < 30; i++ {
		resp := infoRequest(t, srv, "", "https://youtu.be/abc")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	}

	// The authenticated caller still has a full window.
	resp := infoRequest(t, srv, testSecret, "https://youtu.be/abc")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "19" {
		t.Errorf("X-RateLimit-Remaining = %q, want 19 after unauthorized burst", got)
	}
}

func TestInfo_InvalidURL(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{meta: extract.Metadata{Title: "Talk"}})

	resp := infoRequest(t, srv, testSecret, "not-a-url")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg == "" {
		t.Error("empty error message")
	}
}

func TestInfo_ExtractionFailure(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{
		metaErr: extract.Errf(extract.FailureExtraction, "no suitable format"),
	})

	resp := infoRequest(t, srv, testSecret, "https://youtu.be/abc")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != "no suitable format" {
		t.Errorf("error = %q", msg)
	}
}

func TestDownload_StreamsArtifact(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{
		stream: func() extract.Stream {
			return extract.Stream{
				Body:          io.NopCloser(strings.NewReader("media bytes")),
				ContentType:   "audio/mp4",
				ContentLength: 11,
				Filename:      "clip.m4a",
			}
		},
	})

	body := strings.NewReader(`{"url":"https://youtu.be/abc","type":"audio"}`)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/download", body)
	req.Header.Set("X-API-Key", testSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mp4" {
		t.Errorf("content type = %q, want audio/mp4", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "clip.m4a") {
		t.Errorf("content disposition = %q, want filename clip.m4a", cd)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "media bytes" {
		t.Errorf("body = %q", got)
	}
}

func TestDownload_InvalidJSONBody(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/download", strings.NewReader("{broken"))
	req.Header.Set("X-API-Key", testSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	decodeError(t, resp)
}

func TestDownload_InvalidType(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{})

	body := strings.NewReader(`{"url":"https://youtu.be/abc","type":"hologram"}`)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/download", body)
	req.Header.Set("X-API-Key", testSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if msg := decodeError(t, resp); !strings.Contains(msg, "hologram") {
		t.Errorf("error = %q, want mention of the bad type", msg)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{meta: extract.Metadata{Title: "Talk"}})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/info?url=https://youtu.be/abc", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with bearer auth", resp.StatusCode)
	}
}

func TestIndexListsEndpointsAndLimits(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	var index vhttp.IndexInfo
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if index.Service != "vidgate" {
		t.Errorf("service = %q", index.Service)
	}
	if index.Limits["download"] != "10/minute" {
		t.Errorf("limits = %v", index.Limits)
	}
	if len(index.Endpoints) != 2 {
		t.Errorf("endpoints = %v", index.Endpoints)
	}
}

func TestHealthAndVersion(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{})

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/version"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	srv := newServer(t, &scriptedExtractor{})

	resp, err := http.Get(srv.URL + "/api/nope")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != "not found" {
		t.Errorf("error = %q, want not found", msg)
	}
}
