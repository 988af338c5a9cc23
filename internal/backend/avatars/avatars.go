// Package avatars implements the object-storage collaborator on the local
// filesystem. Uploads land under a root directory and are addressed by a
// public base URL; serving the files is left to the host.
package avatars

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store writes uploaded objects under a root directory.
type Store struct {
	root    string
	baseURL string
}

// New creates an avatar store rooted at dir. baseURL prefixes returned public
// URLs.
func New(dir string, baseURL string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("public base url is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Store{root: dir, baseURL: baseURL}, nil
}

// Upload writes data at objectPath and returns its public URL. Paths may not
// escape the storage root.
func (s *Store) Upload(ctx context.Context, objectPath string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("avatar store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	objectPath = strings.Trim(strings.TrimSpace(objectPath), "/")
	if objectPath == "" {
		return "", errors.New("object path is required")
	}
	clean := path.Clean(objectPath)
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("object path %q escapes storage root", objectPath)
	}
	if len(data) == 0 {
		return "", errors.New("object data is required")
	}

	target := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return s.baseURL + "/" + clean, nil
}
