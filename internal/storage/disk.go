// Package storage provides the durable blob storage backing media acquisition.
// The disk store keeps the storage-relative locator as the stable reference;
// URL resolution happens at read time so the public base can change without
// rewriting stored messages.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"omnirelay/internal/types"
)

// Compile-time assertion that DiskStore implements types.BlobStore.
var _ types.BlobStore = (*DiskStore)(nil)

// DiskStore persists blobs under a filesystem root. Callers generate random
// filenames, so writes need no locking; collisions are statistically
// negligible.
type DiskStore struct {
	root          string
	publicBaseURL string
}

// NewDiskStore creates a DiskStore rooted at the given directory, creating it
// if necessary.
func NewDiskStore(root, publicBaseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &DiskStore{
		root:          root,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Save writes data under the storage-relative path and returns that path as
// the locator. Paths escaping the root are rejected.
func (s *DiskStore) Save(_ context.Context, relPath string, data []byte) (string, error) {
	clean := path.Clean(relPath)
	if clean == "." || strings.HasPrefix(clean, "..") || path.IsAbs(clean) {
		return "", fmt.Errorf("storage: invalid path %q", relPath)
	}

	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: creating directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: writing blob: %w", err)
	}

	return clean, nil
}

// URLFor maps a locator to the externally visible media reference.
func (s *DiskStore) URLFor(locator string) string {
	return s.publicBaseURL + "/" + strings.TrimLeft(locator, "/")
}
