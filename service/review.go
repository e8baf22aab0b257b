package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"xasdb/orm"
)

// MetadataEdits carries the editable dataset fields; nil pointers leave a
// field untouched.
type MetadataEdits struct {
	CitationDOI  *string
	SampleName   *string
	SamplePrep   *string
	BeamlineName *string
	FacilityName *string
	MonoName     *string
	MonoDSpacing *string
}

// UpdateRequest is one review-status/metadata update. Status change,
// metadata edits and attachment edits apply together or not at all.
type UpdateRequest struct {
	DatasetID           string
	ActorID             string
	NewStatus           orm.ReviewStatus
	Edits               MetadataEdits
	AddAttachments      []AttachmentUpload
	RemoveAttachmentIDs []string
}

// SetReviewAndMetadata moves a dataset between review states and applies
// the accompanying metadata and attachment edits atomically. Only a
// privileged actor may call it; everything else gets ForbiddenError.
func (s *Server) SetReviewAndMetadata(ctx context.Context, req UpdateRequest) (*orm.Dataset, error) {
	log.Info().
		Str("dataset", req.DatasetID).
		Str("actor", req.ActorID).
		Str("status", req.NewStatus.String()).
		Msg("review update requested")

	actor, err := s.resolveActor(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged {
		return nil, &ForbiddenError{Action: "change review status or verified metadata"}
	}

	dataset, err := s.store.GetDataset(ctx, req.DatasetID)
	if err != nil {
		return nil, wrapStoreError(err, req.DatasetID)
	}

	var violations []string
	if !req.NewStatus.Valid() {
		violations = append(violations, fmt.Sprintf("unknown review status %d", int16(req.NewStatus)))
	}

	violations = append(violations, applyEdits(dataset, req.Edits)...)

	remaining, removeViolations := remainingAttachments(dataset, req.RemoveAttachmentIDs)
	violations = append(violations, removeViolations...)

	additions := filterEmptyAttachments(req.AddAttachments)
	violations = append(violations, validateAttachmentBatch(additions, remaining)...)

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	dataset.ReviewStatus = req.NewStatus

	addRows := make([]orm.Attachment, 0, len(additions))
	createdKeys := make([]string, 0, len(additions))
	for _, a := range additions {
		key, created, err := s.blobs.Store(a.Content)
		if err != nil {
			log.Error().Err(err).Msg("failed to store attachment blob")
			s.discardBlobs(createdKeys)

			return nil, err
		}
		if created {
			createdKeys = append(createdKeys, key)
		}
		addRows = append(addRows, orm.Attachment{
			ID:          uuid.NewString(),
			DatasetID:   dataset.ID,
			Description: strings.TrimSpace(a.Description),
			Filename:    strings.TrimSpace(a.Filename),
			BlobKey:     key,
		})
	}

	if err := s.store.UpdateDataset(ctx, dataset, addRows, req.RemoveAttachmentIDs); err != nil {
		s.discardBlobs(createdKeys)

		return nil, wrapStoreError(err, req.DatasetID)
	}

	log.Info().
		Str("dataset", dataset.ID).
		Str("status", dataset.ReviewStatus.String()).
		Int64("version", dataset.Version).
		Msg("review update applied")

	updated, err := s.store.GetDataset(ctx, req.DatasetID)
	if err != nil {
		return nil, wrapStoreError(err, req.DatasetID)
	}

	return updated, nil
}

// applyEdits writes the requested metadata edits onto the dataset and
// reports any invalid ones. Edited fields must stay non-empty; they default
// to "unknown", never to blank.
func applyEdits(dataset *orm.Dataset, edits MetadataEdits) []string {
	var violations []string

	set := func(field string, target *string, value *string) {
		if value == nil {
			return
		}
		trimmed := strings.TrimSpace(*value)
		if trimmed == "" && field != "citation DOI" {
			violations = append(violations, field+" must not be empty")

			return
		}
		*target = trimmed
	}

	set("citation DOI", &dataset.CitationDOI, edits.CitationDOI)
	set("sample name", &dataset.SampleName, edits.SampleName)
	set("sample preparation", &dataset.SamplePrep, edits.SamplePrep)
	set("beamline name", &dataset.BeamlineName, edits.BeamlineName)
	set("facility name", &dataset.FacilityName, edits.FacilityName)
	set("monochromator name", &dataset.MonoName, edits.MonoName)
	set("monochromator d-spacing", &dataset.MonoDSpacing, edits.MonoDSpacing)

	return violations
}

// remainingAttachments resolves the removal list and returns the dataset's
// attachments that survive it, plus violations for removals that do not
// reference this dataset's attachments.
func remainingAttachments(dataset *orm.Dataset, removeIDs []string) ([]orm.Attachment, []string) {
	var violations []string

	removed := map[string]bool{}
	for _, id := range removeIDs {
		removed[id] = false
	}

	remaining := make([]orm.Attachment, 0, len(dataset.Attachments))
	for _, a := range dataset.Attachments {
		if _, ok := removed[a.ID]; ok {
			removed[a.ID] = true

			continue
		}
		remaining = append(remaining, a)
	}

	for id, found := range removed {
		if !found {
			violations = append(violations, fmt.Sprintf("attachment %s does not belong to this dataset", id))
		}
	}

	return remaining, violations
}
