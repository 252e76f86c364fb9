package extract_test

import (
	"testing"

	"github.com/vidgate/vidgate/domain/extract"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in     string
		want   extract.Kind
		wantOK bool
	}{
		{"audio", extract.KindAudio, true},
		{"video", extract.KindVideo, true},
		{"VIDEO", extract.KindVideo, true},
		{"", extract.KindAudio, true}, // defaults to audio
		{"both", "", false},
	}

	for _, tt := range tests {
		got, ok := extract.ParseKind(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseKind(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValidateURL(t *testing.T) {
	hosts := []string{"youtube.com", "youtu.be"}

	tests := []struct {
		name    string
		url     string
		hosts   []string
		wantErr bool
	}{
		{"valid watch url", "https://www.youtube.com/watch?v=abc", hosts, false},
		{"valid short url", "https://youtu.be/abc", hosts, false},
		{"plain http", "http://youtube.com/watch?v=abc", hosts, false},
		{"not a url", "not-a-url", hosts, true},
		{"empty", "", hosts, true},
		{"ftp scheme", "ftp://youtube.com/video", hosts, true},
		{"scheme only", "https://", hosts, true},
		{"unsupported host", "https://example.com/video", hosts, true},
		{"host suffix trick", "https://evilyoutube.com/watch", hosts, true},
		{"any host when unrestricted", "https://example.com/video", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := extract.ValidateURL(tt.url, tt.hosts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil && err.Kind != extract.FailureValidation {
				t.Errorf("failure kind = %q, want %q", err.Kind, extract.FailureValidation)
			}
		})
	}
}

func TestWithoutStreamURL(t *testing.T) {
	m := extract.Metadata{Title: "clip", StreamURL: "https://cdn.example.com/v.mp4"}

	stripped := m.WithoutStreamURL()
	if stripped.StreamURL != "" {
		t.Error("stream URL not stripped")
	}
	if m.StreamURL == "" {
		t.Error("original metadata mutated")
	}
	if stripped.Title != "clip" {
		t.Error("unrelated field changed")
	}
}
