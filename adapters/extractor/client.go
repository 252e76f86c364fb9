// Package extractor provides the HTTP client for the video extraction
// service.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vidgate/vidgate/domain/extract"
	"github.com/vidgate/vidgate/ports"
)

// Client talks to the extraction service over HTTP.
type Client struct {
	client          *http.Client // For buffered requests
	streamingClient *http.Client // For streaming downloads (no timeout)
	baseURL         *url.URL
}

// Config contains configuration for the extraction client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// NewClient creates a new extraction service client.
func NewClient(cfg Config) (*Client, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}

	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
	}

	// Media bodies must not be recompressed mid-stream.
	streamingTransport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
		DisableCompression:  true,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		// Downloads can run longer than any sane fixed timeout; the
		// request context governs cancellation instead.
		streamingClient: &http.Client{
			Transport: streamingTransport,
		},
		baseURL: baseURL,
	}, nil
}

// serviceError is the error envelope the extraction service returns.
type serviceError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Info fetches the metadata record for a video URL.
func (c *Client) Info(ctx context.Context, req extract.Request) (extract.Metadata, error) {
	endpoint := c.baseURL.ResolveReference(&url.URL{
		Path:     "/extract/info",
		RawQuery: url.Values{"url": {req.URL}, "type": {string(req.Kind)}}.Encode(),
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return extract.Metadata{}, extract.Errf(extract.FailureInternal, "create request: %v", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return extract.Metadata{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return extract.Metadata{}, readServiceError(resp)
	}

	var meta extract.Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&meta); err != nil {
		return extract.Metadata{}, extract.Errf(extract.FailureExtraction, "decode metadata: %v", err)
	}
	return meta, nil
}

// Download resolves a video URL into a streamed artifact. The caller owns
// the stream body and must close it.
func (c *Client) Download(ctx context.Context, req extract.Request) (extract.Stream, error) {
	endpoint := c.baseURL.ResolveReference(&url.URL{
		Path:     "/extract/download",
		RawQuery: url.Values{"url": {req.URL}, "type": {string(req.Kind)}}.Encode(),
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return extract.Stream{}, extract.Errf(extract.FailureInternal, "create request: %v", err)
	}

	resp, err := c.streamingClient.Do(httpReq)
	if err != nil {
		return extract.Stream{}, classifyTransportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return extract.Stream{}, readServiceError(resp)
	}

	return extract.Stream{
		Body:          resp.Body, // Caller must close
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Filename:      filenameFromHeader(resp.Header.Get("Content-Disposition")),
	}, nil
}

// HealthCheck verifies the extraction service is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	// Any response (even 404) means the service is reachable
	return nil
}

// Close closes idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	c.streamingClient.CloseIdleConnections()
	return nil
}

// classifyTransportError maps a transport failure into the closed failure
// taxonomy. Context expiry is a timeout, everything else is an extraction
// failure.
func classifyTransportError(ctx context.Context, err error) *extract.Error {
	if ctx.Err() == context.DeadlineExceeded {
		return extract.Errf(extract.FailureTimeout, "extraction timed out")
	}
	if ctx.Err() == context.Canceled {
		return extract.Errf(extract.FailureInternal, "request canceled")
	}
	return extract.Errf(extract.FailureExtraction, "extraction service unreachable: %v", err)
}

// readServiceError decodes an error envelope from a non-200 response.
func readServiceError(resp *http.Response) *extract.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var se serviceError
	if json.Unmarshal(body, &se) == nil && se.Error != "" {
		switch se.Kind {
		case "validation":
			return extract.Errf(extract.FailureValidation, "%s", se.Error)
		case "timeout":
			return extract.Errf(extract.FailureTimeout, "%s", se.Error)
		default:
			return extract.Errf(extract.FailureExtraction, "%s", se.Error)
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	if resp.StatusCode >= 500 {
		return extract.Errf(extract.FailureExtraction, "extraction service error: %s", msg)
	}
	return extract.Errf(extract.FailureExtraction, "extraction failed: %s", msg)
}

// filenameFromHeader pulls the filename out of a Content-Disposition
// header, if present.
func filenameFromHeader(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// Ensure interface compliance.
var _ ports.Extractor = (*Client)(nil)
