package storage

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestObjectName(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"", "camp.zip", "camp.zip"},
		{"archives", "camp.zip", "archives/camp.zip"},
		{"/archives/", "job-1/camp.zip", "archives/job-1/camp.zip"},
		{"a//b", "/c.zip", "a/b/c.zip"},
	}
	for _, tt := range tests {
		if got := ObjectName(tt.prefix, tt.name); got != tt.want {
			t.Errorf("ObjectName(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.zip":  "application/zip",
		"a.JPEG": "image/jpeg",
		"a.webp": "image/webp",
		"a.bin":  "application/octet-stream",
	}
	for in, want := range tests {
		if got := contentType(in); got != want {
			t.Errorf("contentType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewMinIOPublisher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := NewMinIOPublisher(Config{}, logger); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}

	p, err := NewMinIOPublisher(Config{Endpoint: "localhost:9000", Bucket: "adcraft"}, logger)
	if err != nil {
		t.Fatalf("NewMinIOPublisher failed: %v", err)
	}
	if p.cfg.PresignExpiry != DefaultPresignExpiry {
		t.Errorf("expected default expiry, got %v", p.cfg.PresignExpiry)
	}
}
