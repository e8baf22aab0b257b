// Package service implements the core operations of the XAS dataset
// archive: ingestion, review-status updates, access-controlled reads,
// curve rendering and the download audit ledger.
package service

import (
	"context"
	"errors"

	"xasdb/orm"
)

// Store is the persistence contract for dataset records. Implementations
// must make CreateDataset and UpdateDataset atomic: either every row of the
// call commits or none does.
type Store interface {
	GetUser(ctx context.Context, id string) (*orm.User, error)
	CreateDataset(ctx context.Context, dataset *orm.Dataset) error
	GetDataset(ctx context.Context, id string) (*orm.Dataset, error)
	GetAttachment(ctx context.Context, id string) (*orm.Attachment, error)
	ListDatasetsByElement(ctx context.Context, symbol string) ([]orm.Dataset, error)
	UpdateDataset(ctx context.Context, dataset *orm.Dataset, addAttachments []orm.Attachment, removeAttachmentIDs []string) error
	AppendDownload(ctx context.Context, record *orm.DownloadRecord) error
	CountDownloads(ctx context.Context, kind orm.EntityKind, entityID string) (int64, error)
}

var _ Store = (*orm.DB)(nil)

// BlobStore holds raw file content, addressed by content hash. Store's
// second return value reports whether the call created the key: keys are
// shared between identical contents, so failure cleanup must only delete
// keys it created.
type BlobStore interface {
	Store(content []byte) (key string, created bool, err error)
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// Server exposes the core entry points over a Store and a BlobStore.
type Server struct {
	store Store
	blobs BlobStore
}

// NewServer creates a server with the given persistence backends.
func NewServer(store Store, blobs BlobStore) *Server {
	return &Server{
		store: store,
		blobs: blobs,
	}
}

// Actor is the resolved identity of a caller. The zero value is an
// anonymous caller.
type Actor struct {
	ID            string
	Authenticated bool
	Privileged    bool
}

// resolveActor maps a caller-supplied actor id onto an Actor. An empty id,
// or an id that matches no user, is anonymous.
func (s *Server) resolveActor(ctx context.Context, actorID string) (Actor, error) {
	if actorID == "" {
		return Actor{}, nil
	}

	user, err := s.store.GetUser(ctx, actorID)
	if err != nil {
		var notFound *orm.NotFoundError
		if errors.As(err, &notFound) {
			return Actor{}, nil
		}

		return Actor{}, err
	}

	return Actor{
		ID:            user.ID,
		Authenticated: true,
		Privileged:    user.IsPrivileged,
	}, nil
}
