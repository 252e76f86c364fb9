// Package extract provides extraction request/outcome value types, the
// closed failure taxonomy, and pure URL validation.
package extract

import (
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Kind selects the media variant of a download.
type Kind string

// Supported media kinds.
const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ParseKind validates a requested media kind. An empty value defaults to
// audio, matching the public API contract.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "", string(KindAudio):
		return KindAudio, true
	case string(KindVideo):
		return KindVideo, true
	default:
		return "", false
	}
}

// Request describes one extraction call (immutable value type).
type Request struct {
	URL  string
	Kind Kind
}

// FailureKind is the closed set of failures the core surfaces. Extractor
// library errors never cross this boundary unmapped.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureTimeout    FailureKind = "timeout"
	FailureExtraction FailureKind = "extraction_failed"
	FailureInternal   FailureKind = "internal"
)

// Error is a classified extraction failure.
type Error struct {
	Kind    FailureKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf builds a classified failure with a formatted message.
func Errf(kind FailureKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Format describes one media rendition the extractor found.
type Format struct {
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
	Filesize int64  `json:"filesize,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FPS      float64 `json:"fps,omitempty"`
	ASR      int    `json:"asr,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Metadata is the record returned for info requests and used to resolve
// download streams.
type Metadata struct {
	Title            string   `json:"title"`
	ID               string   `json:"id"`
	Duration         float64  `json:"duration"`
	DurationString   string   `json:"duration_string"`
	Uploader         string   `json:"uploader"`
	ChannelURL       string   `json:"channel_url"`
	Thumbnail        string   `json:"thumbnail"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	Categories       []string `json:"categories"`
	ViewCount        int64    `json:"view_count"`
	LikeCount        int64    `json:"like_count"`
	WebpageURL       string   `json:"webpage_url"`
	UploadDate       string   `json:"upload_date"`
	MediaType        Kind     `json:"media_type"`
	StreamURL        string   `json:"stream_url,omitempty"`
	AvailableFormats []Format `json:"available_formats"`
}

// WithoutStreamURL returns a copy suitable for info-only responses: the
// direct media URL is stripped.
func (m Metadata) WithoutStreamURL() Metadata {
	m.StreamURL = ""
	return m
}

// Stream is a downloadable artifact handed through to the caller. The body
// is a lazy byte sequence; it is consumed exactly once and must be closed.
type Stream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64 // -1 when unknown
	Filename      string
}

// ValidateURL checks an extraction URL syntactically before any network
// round trip. The URL must be absolute http(s) with a host; when hosts is
// non-empty, the host (or a parent domain) must be listed.
func ValidateURL(raw string, hosts []string) *Error {
	if raw == "" {
		return Errf(FailureValidation, "missing 'url'")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Errf(FailureValidation, "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Errf(FailureValidation, "invalid URL format")
	}
	if u.Host == "" {
		return Errf(FailureValidation, "invalid URL format")
	}

	if len(hosts) == 0 {
		return nil
	}

	host := strings.ToLower(u.Hostname())
	for _, allowed := range hosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return Errf(FailureValidation, "unsupported video host: %s", host)
}
