// Package memoryBlob stores blobs in memory. Used only for testing.
package memoryBlob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

// ErrBlobNotFound is returned when a blob is not found.
var ErrBlobNotFound = errors.New("blob not found")

// Blob is an in-memory, content-addressed blob store.
type Blob struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// New creates an empty in-memory blob store.
func New() *Blob {
	return &Blob{blobs: make(map[string][]byte)}
}

// Store saves content under its sha256 key. The second return value reports
// whether this call created the key; keys are content-addressed and may be
// shared, so only the creator may safely delete one on a failure path.
func (b *Blob) Store(content []byte) (string, bool, error) {
	hash := sha256.Sum256(content)
	key := hex.EncodeToString(hash[:])

	stored := make([]byte, len(content))
	copy(stored, content)

	b.mu.Lock()
	_, exists := b.blobs[key]
	if !exists {
		b.blobs[key] = stored
	}
	b.mu.Unlock()

	return key, !exists, nil
}

// Get retrieves a blob by key.
func (b *Blob) Get(key string) ([]byte, error) {
	b.mu.RLock()
	content, exists := b.blobs[key]
	b.mu.RUnlock()

	if !exists {
		return nil, ErrBlobNotFound
	}

	// Return a copy to prevent external modifications.
	result := make([]byte, len(content))
	copy(result, content)

	return result, nil
}

// Delete removes a blob by key.
func (b *Blob) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.blobs[key]; !exists {
		return ErrBlobNotFound
	}

	delete(b.blobs, key)

	return nil
}

// Count returns the number of stored blobs (useful for testing).
func (b *Blob) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.blobs)
}
