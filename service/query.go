package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"xasdb/orm"
	"xasdb/spectrum"
)

// GetDataset returns a dataset if the actor may read it. Denied access and
// nonexistence are indistinguishable to unprivileged callers.
func (s *Server) GetDataset(ctx context.Context, datasetID, actorID string) (*orm.Dataset, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	dataset, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, wrapStoreError(err, datasetID)
	}
	if !canRead(dataset, actor) {
		return nil, &NotFoundError{Ref: datasetID}
	}

	return dataset, nil
}

// ListDatasetsByElement returns the datasets for one element that the actor
// may read.
func (s *Server) ListDatasetsByElement(ctx context.Context, symbol, actorID string) ([]orm.Dataset, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	datasets, err := s.store.ListDatasetsByElement(ctx, symbol)
	if err != nil {
		return nil, wrapStoreError(err, symbol)
	}

	visible := make([]orm.Dataset, 0, len(datasets))
	for i := range datasets {
		if canRead(&datasets[i], actor) {
			visible = append(visible, datasets[i])
		}
	}

	return visible, nil
}

// CanRead evaluates read eligibility for one dataset. A nonexistent dataset
// reads as not readable, never as an error, so callers cannot probe for
// existence.
func (s *Server) CanRead(ctx context.Context, datasetID, actorID string) (bool, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return false, err
	}

	dataset, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		if wrapped := wrapStoreError(err, datasetID); isNotFound(wrapped) {
			return false, nil
		}

		return false, err
	}

	return canRead(dataset, actor), nil
}

// RenderCurve derives the display curve for a dataset the actor may read.
// Derivation failures degrade gracefully: the dataset stays browsable and
// the error describes what is missing.
func (s *Server) RenderCurve(ctx context.Context, datasetID, actorID string) (*spectrum.Curve, error) {
	dataset, err := s.GetDataset(ctx, datasetID, actorID)
	if err != nil {
		return nil, err
	}

	arrays, err := dataset.ArrayMap()
	if err != nil {
		return nil, err
	}

	curve, err := spectrum.Derive(arrays, dataset.Modes(), dataset.ReferUsed)
	if err != nil {
		log.Debug().Err(err).Str("dataset", datasetID).Msg("curve not derivable")

		return nil, err
	}

	return curve, nil
}

func isNotFound(err error) bool {
	var notFound *NotFoundError

	return errors.As(err, &notFound)
}
