package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"xasdb/orm"
)

// EntityRef identifies a downloadable entity: a dataset's primary file or
// one of its attachments.
type EntityRef struct {
	Kind orm.EntityKind
	ID   string
}

// DatasetRef references a dataset's primary file.
func DatasetRef(id string) EntityRef {
	return EntityRef{Kind: orm.EntityDataset, ID: id}
}

// AttachmentRef references an attachment.
func AttachmentRef(id string) EntityRef {
	return EntityRef{Kind: orm.EntityAttachment, ID: id}
}

// CanDownload evaluates download eligibility: read eligibility plus
// authentication. Nonexistent entities read as not downloadable.
func (s *Server) CanDownload(ctx context.Context, ref EntityRef, actorID string) (bool, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return false, err
	}

	dataset, _, err := s.resolveRef(ctx, ref)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return canDownload(dataset, actor), nil
}

// RecordDownload appends one immutable audit record for a granted
// download. N calls append N records; the per-entity record count is the
// authoritative times-downloaded metric.
func (s *Server) RecordDownload(ctx context.Context, ref EntityRef, actorID string) (*orm.DownloadRecord, error) {
	actor, _, err := s.authorizeDownload(ctx, ref, actorID)
	if err != nil {
		return nil, err
	}

	return s.appendDownload(ctx, ref, actor)
}

// DownloadContent fetches the entity's bytes and appends the audit record.
func (s *Server) DownloadContent(ctx context.Context, ref EntityRef, actorID string) ([]byte, *orm.DownloadRecord, error) {
	actor, blobKey, err := s.authorizeDownload(ctx, ref, actorID)
	if err != nil {
		return nil, nil, err
	}

	content, err := s.blobs.Get(blobKey)
	if err != nil {
		return nil, nil, err
	}

	record, err := s.appendDownload(ctx, ref, actor)
	if err != nil {
		return nil, nil, err
	}

	return content, record, nil
}

// DownloadCount returns the authoritative times-downloaded metric for an
// entity.
func (s *Server) DownloadCount(ctx context.Context, ref EntityRef) (int64, error) {
	count, err := s.store.CountDownloads(ctx, ref.Kind, ref.ID)
	if err != nil {
		return 0, wrapStoreError(err, ref.ID)
	}

	return count, nil
}

func (s *Server) appendDownload(ctx context.Context, ref EntityRef, actor Actor) (*orm.DownloadRecord, error) {
	record := &orm.DownloadRecord{
		ID:           uuid.NewString(),
		EntityKind:   ref.Kind,
		EntityID:     ref.ID,
		DownloaderID: actor.ID,
		DownloadedAt: time.Now().UTC(),
	}
	if err := s.store.AppendDownload(ctx, record); err != nil {
		return nil, wrapStoreError(err, ref.ID)
	}

	log.Info().
		Str("entity", ref.ID).
		Str("kind", string(ref.Kind)).
		Str("downloader", actor.ID).
		Msg("download recorded")

	return record, nil
}

// authorizeDownload resolves the actor and entity and applies the download
// rule. Unprivileged callers cannot distinguish denial from nonexistence.
func (s *Server) authorizeDownload(ctx context.Context, ref EntityRef, actorID string) (Actor, string, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return Actor{}, "", err
	}

	dataset, blobKey, err := s.resolveRef(ctx, ref)
	if err != nil {
		return Actor{}, "", err
	}

	if !canDownload(dataset, actor) {
		if !canRead(dataset, actor) {
			return Actor{}, "", &NotFoundError{Ref: ref.ID}
		}

		return Actor{}, "", &ForbiddenError{Action: "download without authentication"}
	}

	return actor, blobKey, nil
}

// resolveRef loads the dataset governing an entity and the entity's blob
// key.
func (s *Server) resolveRef(ctx context.Context, ref EntityRef) (*orm.Dataset, string, error) {
	switch ref.Kind {
	case orm.EntityDataset:
		dataset, err := s.store.GetDataset(ctx, ref.ID)
		if err != nil {
			return nil, "", wrapStoreError(err, ref.ID)
		}

		return dataset, dataset.BlobKey, nil
	case orm.EntityAttachment:
		attachment, err := s.store.GetAttachment(ctx, ref.ID)
		if err != nil {
			return nil, "", wrapStoreError(err, ref.ID)
		}
		dataset, err := s.store.GetDataset(ctx, attachment.DatasetID)
		if err != nil {
			return nil, "", wrapStoreError(err, ref.ID)
		}

		return dataset, attachment.BlobKey, nil
	}

	return nil, "", &NotFoundError{Ref: ref.ID}
}
