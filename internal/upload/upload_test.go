package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiskSinkStore(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDiskSink(dir, "http://localhost:4000/")
	if err != nil {
		t.Fatal(err)
	}

	url, err := sink.Store(context.Background(), "avatar", strings.NewReader("png bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://localhost:4000/images/avatar.png" {
		t.Fatalf("unexpected url %q", url)
	}

	data, err := os.ReadFile(filepath.Join(dir, "avatar.png"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "png bytes" {
		t.Fatalf("unexpected file contents %q", data)
	}
}

func TestDiskSinkStoreSanitizesName(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDiskSink(dir, "http://localhost:4000")
	if err != nil {
		t.Fatal(err)
	}

	url, err := sink.Store(context.Background(), "../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "http://localhost:4000/images/") {
		t.Fatalf("unexpected url %q", url)
	}
	if strings.Contains(url, "..") {
		t.Fatalf("url leaks path traversal: %q", url)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stored file, got %d", len(entries))
	}
	if strings.Contains(entries[0].Name(), "..") || strings.Contains(entries[0].Name(), "/") {
		t.Fatalf("unsafe stored name %q", entries[0].Name())
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"avatar", "avatar"},
		{"my photo!.jpg", "myphoto.jpg"},
		{"..", ""},
		{"a/b/c", "c"},
	}

	for _, tt := range tests {
		got := sanitizeFileName(tt.in)
		if tt.want == "" {
			// unusable names fall back to a generated one
			if got == "" || strings.Contains(got, ".") {
				t.Fatalf("sanitizeFileName(%q) = %q, expected generated name", tt.in, got)
			}
			continue
		}
		if got != tt.want {
			t.Fatalf("sanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
