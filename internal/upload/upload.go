// Package upload streams user-uploaded files into a static asset store.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Sink stores an uploaded file stream and returns its public URL. The
// production asset store is external; DiskSink is the local implementation.
type Sink interface {
	Store(ctx context.Context, fileName string, r io.Reader) (string, error)
}

// DiskSink writes uploads into a local directory served under /images/.
type DiskSink struct {
	dir     string
	baseURL string
}

// NewDiskSink creates the upload directory if needed.
func NewDiskSink(dir, baseURL string) (*DiskSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskSink{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir returns the directory uploads are written to.
func (s *DiskSink) Dir() string {
	return s.dir
}

// Store streams the file to disk and returns its public URL. A partial file
// left by a failed copy is removed.
func (s *DiskSink) Store(ctx context.Context, fileName string, r io.Reader) (string, error) {
	name := sanitizeFileName(fileName) + ".png"
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}

	return fmt.Sprintf("%s/images/%s", s.baseURL, name), nil
}

// sanitizeFileName strips anything that could escape the upload directory.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return -1
		}
	}, name)
	name = strings.Trim(name, ".")
	if name == "" {
		name = uuid.New().String()
	}
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
