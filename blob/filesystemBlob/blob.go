// Package filesystemBlob stores blobs as content-addressed files under a
// base directory.
package filesystemBlob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrBlobNotFound is returned when a blob is not found.
var ErrBlobNotFound = errors.New("blob not found")

// Blob is a filesystem-backed blob store.
type Blob struct {
	baseDir string
}

// New creates the base directory if needed and returns the store.
func New(baseDir string) (*Blob, error) {
	//nolint:gosec,mnd // Directory permissions 0755 are intentional
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Blob{baseDir: baseDir}, nil
}

// Store saves content under its sha256 key. The second return value reports
// whether this call created the key; keys are content-addressed and may be
// shared, so only the creator may safely delete one on a failure path.
func (b *Blob) Store(content []byte) (string, bool, error) {
	hash := sha256.Sum256(content)
	key := hex.EncodeToString(hash[:])

	blobPath := b.blobPath(key)
	if _, err := os.Stat(blobPath); err == nil {
		return key, false, nil
	}

	//nolint:gosec,mnd // Directory permissions 0755 are intentional
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}
	//nolint:mnd // filemode constant
	if err := os.WriteFile(blobPath, content, 0o644); err != nil {
		return key, false, fmt.Errorf("failed to write blob: %w", err)
	}

	return key, true, nil
}

// Get retrieves a blob by key.
func (b *Blob) Get(key string) ([]byte, error) {
	//nolint:gosec // G304: path is constructed from a hex digest
	content, err := os.ReadFile(b.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}

		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	return content, nil
}

// Delete removes a blob by key.
func (b *Blob) Delete(key string) error {
	if err := os.Remove(b.blobPath(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}

		return fmt.Errorf("failed to remove blob: %w", err)
	}

	return nil
}

// blobPath fans blobs out over two-character prefix directories.
func (b *Blob) blobPath(key string) string {
	prefix := key
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}

	return filepath.Join(b.baseDir, prefix, key)
}
