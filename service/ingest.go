package service

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"xasdb/orm"
	"xasdb/spectrum"
	"xasdb/xdi"
)

// IngestRequest carries one submission: the spectroscopy file, its
// uploader, an optional citation identifier and any auxiliary attachments.
type IngestRequest struct {
	Filename    string
	Content     []byte
	UploaderID  string
	CitationDOI string
	Attachments []AttachmentUpload
}

// Ingest parses, validates, classifies and stores one submission. The
// dataset, its arrays, its mode tags and its attachments commit as one
// unit; any failure leaves nothing persisted.
func (s *Server) Ingest(ctx context.Context, req IngestRequest) (*orm.Dataset, error) {
	log.Info().
		Str("filename", req.Filename).
		Str("uploader", req.UploaderID).
		Msg("ingest requested")

	actor, err := s.resolveActor(ctx, req.UploaderID)
	if err != nil {
		return nil, err
	}
	if !actor.Authenticated {
		return nil, &ForbiddenError{Action: "ingest a dataset"}
	}

	record, err := xdi.Parse(req.Content, req.Filename)
	if err != nil {
		log.Warn().Err(err).Str("filename", req.Filename).Msg("rejected submission")

		return nil, err
	}

	attachments := filterEmptyAttachments(req.Attachments)
	if violations := validateAttachmentBatch(attachments, nil); len(violations) > 0 {
		return nil, &UniquenessError{Violations: violations}
	}

	classification := spectrum.Classify(record.Arrays())

	dataset, err := datasetFromRecord(record, classification)
	if err != nil {
		log.Warn().Err(err).Str("filename", req.Filename).Msg("rejected submission")

		return nil, err
	}
	dataset.UploaderID = actor.ID
	dataset.CitationDOI = req.CitationDOI

	blobKey, created, err := s.blobs.Store(req.Content)
	if err != nil {
		log.Error().Err(err).Msg("failed to store primary blob")

		return nil, err
	}
	dataset.BlobKey = blobKey

	var createdKeys []string
	if created {
		createdKeys = append(createdKeys, blobKey)
	}
	for _, a := range attachments {
		key, created, err := s.blobs.Store(a.Content)
		if err != nil {
			log.Error().Err(err).Msg("failed to store attachment blob")
			s.discardBlobs(createdKeys)

			return nil, err
		}
		if created {
			createdKeys = append(createdKeys, key)
		}
		dataset.Attachments = append(dataset.Attachments, orm.Attachment{
			ID:          uuid.NewString(),
			DatasetID:   dataset.ID,
			Description: strings.TrimSpace(a.Description),
			Filename:    strings.TrimSpace(a.Filename),
			BlobKey:     key,
		})
	}

	if err := s.store.CreateDataset(ctx, dataset); err != nil {
		log.Error().Err(err).Str("dataset", dataset.ID).Msg("failed to commit dataset")
		s.discardBlobs(createdKeys)

		return nil, wrapStoreError(err, dataset.ID)
	}

	log.Info().
		Str("dataset", dataset.ID).
		Str("element", dataset.Element).
		Str("edge", dataset.Edge.String()).
		Int("arrays", len(dataset.Arrays)).
		Msg("dataset ingested")

	return dataset, nil
}

// datasetFromRecord builds the dataset row, its arrays and its mode tags
// from a parsed file and its classification.
func datasetFromRecord(record *xdi.Record, classification spectrum.Classification) (*orm.Dataset, error) {
	datasetID := uuid.NewString()

	dataset := &orm.Dataset{
		ID:           datasetID,
		Filename:     record.Filename,
		Element:      record.Element,
		Edge:         record.Edge,
		EdgeText:     record.EdgeText,
		ReviewStatus: orm.ReviewPending,
		SampleName:   metaOrDefault(record.Meta, "sample.name", filenameStem(record.Filename)),
		SamplePrep:   metaOrDefault(record.Meta, "sample.prep", "unknown"),
		BeamlineName: metaOrDefault(record.Meta, "beamline.name", "unknown"),
		FacilityName: metaOrDefault(record.Meta, "facility.name", "unknown"),
		MonoName:     metaOrDefault(record.Meta, "mono.name", "unknown"),
		MonoDSpacing: metaOrDefault(record.Meta, "mono.d_spacing", "unknown"),
		ReferUsed:    classification.ReferUsed,
		Version:      1,
		UploadedAt:   time.Now().UTC(),
	}
	dataset.ScanStartTime = parseScanTime(record.Meta["scan.start_time"])

	for _, name := range orderedArrayNames(record, classification.Arrays) {
		unit := ""
		if col, ok := record.Column(name); ok {
			unit = col.Unit
		}
		array, err := orm.NewSpectralArray(datasetID, name, unit, classification.Arrays[name])
		if err != nil {
			return nil, err
		}
		dataset.Arrays = append(dataset.Arrays, array)
	}

	for _, mode := range classification.Modes {
		dataset.ModeTags = append(dataset.ModeTags, orm.ModeTag{DatasetID: datasetID, Mode: mode})
	}

	return dataset, nil
}

// orderedArrayNames keeps the parsed column order and appends synthesized
// arrays after it, so persisted arrays are deterministic for a given input.
func orderedArrayNames(record *xdi.Record, arrays map[string][]float64) []string {
	names := make([]string, 0, len(arrays))
	seen := map[string]bool{}
	for _, col := range record.Columns {
		if _, ok := arrays[col.Name]; ok && !seen[col.Name] {
			names = append(names, col.Name)
			seen[col.Name] = true
		}
	}

	var synthesized []string
	for name := range arrays {
		if !seen[name] {
			synthesized = append(synthesized, name)
		}
	}
	sort.Strings(synthesized)

	return append(names, synthesized...)
}

func metaOrDefault(meta map[string]string, key, fallback string) string {
	if value := strings.TrimSpace(meta[key]); value != "" {
		return value
	}

	return fallback
}

func filenameStem(filename string) string {
	base := filepath.Base(filename)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

// parseScanTime accepts the ISO-style timestamps seen in scan headers;
// anything else leaves the field unset.
func parseScanTime(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, text); err == nil {
			return &t
		}
	}

	return nil
}

// discardBlobs is best-effort cleanup after a failed commit. Callers pass
// only the keys their own Store calls created: content-addressed keys can be
// shared with already-committed records, which must keep their blobs.
func (s *Server) discardBlobs(keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to discard staged blob")
		}
	}
}
