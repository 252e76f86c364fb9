package app

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/vidgate/vidgate/domain/extract"
	"github.com/vidgate/vidgate/ports"
)

// ExtractService orchestrates extraction calls: URL validation, deadline
// enforcement, and mapping every failure into the closed taxonomy.
type ExtractService struct {
	extractor ports.Extractor

	// Hot-reloadable extraction policy.
	cfg atomic.Pointer[ExtractConfig]
}

// ExtractConfig contains extraction policy.
type ExtractConfig struct {
	// Timeout bounds the extraction call. For downloads it covers the
	// time until the stream opens, not the transfer itself.
	Timeout time.Duration

	// AllowedHosts restricts which video hosts are accepted. Empty
	// allows any host.
	AllowedHosts []string
}

// NewExtractService creates a new extraction service.
func NewExtractService(extractor ports.Extractor, cfg ExtractConfig) *ExtractService {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	s := &ExtractService{extractor: extractor}
	s.cfg.Store(&cfg)
	return s
}

// UpdateConfig swaps the extraction policy. Thread-safe.
func (s *ExtractService) UpdateConfig(cfg ExtractConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	s.cfg.Store(&cfg)
}

// Info fetches metadata for a video URL. The direct media URL is stripped
// from the result; info responses never expose it.
func (s *ExtractService) Info(ctx context.Context, req extract.Request) (extract.Metadata, error) {
	cfg := s.cfg.Load()

	if verr := extract.ValidateURL(req.URL, cfg.AllowedHosts); verr != nil {
		return extract.Metadata{}, verr
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	meta, err := s.extractor.Info(ctx, req)
	if err != nil {
		return extract.Metadata{}, classify(ctx, err)
	}
	return meta.WithoutStreamURL(), nil
}

// Download resolves a video URL into a streamed artifact. The deadline
// covers resolution and stream open; once the stream is handed back, the
// transfer runs under the caller's context alone.
func (s *ExtractService) Download(ctx context.Context, req extract.Request) (extract.Stream, error) {
	cfg := s.cfg.Load()

	if verr := extract.ValidateURL(req.URL, cfg.AllowedHosts); verr != nil {
		return extract.Stream{}, verr
	}

	callCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(cfg.Timeout, cancel)

	stream, err := s.extractor.Download(callCtx, req)
	if err != nil {
		fired := !timer.Stop()
		cancel()
		if fired && ctx.Err() == nil {
			// The deadline fired before the stream opened.
			return extract.Stream{}, extract.Errf(extract.FailureTimeout, "extraction timed out")
		}
		return extract.Stream{}, classify(ctx, err)
	}
	timer.Stop()

	// Closing the body releases the upstream call.
	stream.Body = &cancelReadCloser{rc: stream.Body, cancel: cancel}
	return stream, nil
}

// HealthCheck verifies the extraction backend is reachable.
func (s *ExtractService) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.extractor.HealthCheck(ctx)
}

// classify guarantees the closed taxonomy: a classified error passes
// through, a deadline becomes a timeout, anything else is internal.
func classify(ctx context.Context, err error) *extract.Error {
	var xerr *extract.Error
	if errors.As(err, &xerr) {
		return xerr
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return extract.Errf(extract.FailureTimeout, "extraction timed out")
	}
	return extract.Errf(extract.FailureInternal, "extraction failed: %v", err)
}

// cancelReadCloser cancels the underlying call context when the stream is
// closed, so abandoned downloads do not leak upstream connections.
type cancelReadCloser struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Read(p []byte) (int, error) { return c.rc.Read(p) }

func (c *cancelReadCloser) Close() error {
	err := c.rc.Close()
	c.cancel()
	return err
}
