// Package memoryStore implements the dataset store in memory. Used only
// for testing.
package memoryStore

import (
	"context"
	"fmt"
	"sync"

	"xasdb/orm"
)

// Store is an in-memory dataset store with the same atomicity contract as
// the database-backed one: create and update calls apply fully or not at
// all.
type Store struct {
	mu          sync.RWMutex
	users       map[string]orm.User
	datasets    map[string]*orm.Dataset
	attachments map[string]orm.Attachment // attachment id -> row
	downloads   []orm.DownloadRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]orm.User),
		datasets:    make(map[string]*orm.Dataset),
		attachments: make(map[string]orm.Attachment),
	}
}

// CreateUser inserts an uploader identity.
func (s *Store) CreateUser(_ context.Context, user *orm.User) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return &orm.BadInputError{Reason: "user requires id and username"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return &orm.ConflictError{Conflict: "create user (id=" + user.ID + ")"}
	}
	for _, existing := range s.users {
		if existing.Username == user.Username {
			return &orm.ConflictError{Conflict: "create user (username=" + user.Username + ")"}
		}
	}
	s.users[user.ID] = *user

	return nil
}

// GetUser fetches an uploader identity by id.
func (s *Store) GetUser(_ context.Context, id string) (*orm.User, error) {
	if id == "" {
		return nil, &orm.BadInputError{Reason: "user id must be provided"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, &orm.NotFoundError{Search: "get user (id=" + id + ")"}
	}

	return &user, nil
}

// CreateDataset commits a dataset with its arrays, tags and attachments, or
// nothing.
func (s *Store) CreateDataset(_ context.Context, dataset *orm.Dataset) error {
	if dataset == nil || dataset.ID == "" {
		return &orm.BadInputError{Reason: "dataset requires an id"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.datasets[dataset.ID]; exists {
		return &orm.ConflictError{Conflict: "create dataset (id=" + dataset.ID + ")"}
	}
	if err := checkUnique(dataset.Attachments, dataset.Arrays); err != nil {
		return err
	}

	stored := copyDataset(dataset)
	s.datasets[dataset.ID] = stored
	for _, a := range stored.Attachments {
		s.attachments[a.ID] = a
	}

	return nil
}

// GetDataset fetches a dataset with all associations.
func (s *Store) GetDataset(_ context.Context, id string) (*orm.Dataset, error) {
	if id == "" {
		return nil, &orm.BadInputError{Reason: "dataset id must be provided"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dataset, exists := s.datasets[id]
	if !exists {
		return nil, &orm.NotFoundError{Search: "get dataset (id=" + id + ")"}
	}

	return copyDataset(dataset), nil
}

// GetAttachment fetches one attachment by id.
func (s *Store) GetAttachment(_ context.Context, id string) (*orm.Attachment, error) {
	if id == "" {
		return nil, &orm.BadInputError{Reason: "attachment id must be provided"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	attachment, exists := s.attachments[id]
	if !exists {
		return nil, &orm.NotFoundError{Search: "get attachment (id=" + id + ")"}
	}

	return &attachment, nil
}

// ListDatasetsByElement returns all datasets for one element symbol.
func (s *Store) ListDatasetsByElement(_ context.Context, symbol string) ([]orm.Dataset, error) {
	if symbol == "" {
		return nil, &orm.BadInputError{Reason: "element symbol must be provided"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var datasets []orm.Dataset
	for _, dataset := range s.datasets {
		if dataset.Element == symbol {
			datasets = append(datasets, *copyDataset(dataset))
		}
	}

	return datasets, nil
}

// UpdateDataset applies status/metadata plus attachment edits under the
// caller's version, or nothing.
func (s *Store) UpdateDataset(
	_ context.Context,
	dataset *orm.Dataset,
	addAttachments []orm.Attachment,
	removeAttachmentIDs []string,
) error {
	if dataset == nil || dataset.ID == "" {
		return &orm.BadInputError{Reason: "dataset requires an id"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.datasets[dataset.ID]
	if !exists {
		return &orm.NotFoundError{Search: "update dataset (id=" + dataset.ID + ")"}
	}
	if stored.Version != dataset.Version {
		return &orm.ConflictError{
			Conflict: fmt.Sprintf("update dataset (id=%s, version=%d)", dataset.ID, dataset.Version),
		}
	}

	// Validate the whole edit before touching anything.
	removing := map[string]bool{}
	for _, id := range removeAttachmentIDs {
		found := false
		for _, a := range stored.Attachments {
			if a.ID == id {
				found = true

				break
			}
		}
		if !found {
			return &orm.NotFoundError{Search: "remove attachment (id=" + id + ")"}
		}
		removing[id] = true
	}

	remaining := make([]orm.Attachment, 0, len(stored.Attachments)+len(addAttachments))
	for _, a := range stored.Attachments {
		if !removing[a.ID] {
			remaining = append(remaining, a)
		}
	}
	merged := append(append([]orm.Attachment{}, remaining...), addAttachments...)
	if err := checkUnique(merged, nil); err != nil {
		return err
	}

	stored.ReviewStatus = dataset.ReviewStatus
	stored.CitationDOI = dataset.CitationDOI
	stored.SampleName = dataset.SampleName
	stored.SamplePrep = dataset.SamplePrep
	stored.BeamlineName = dataset.BeamlineName
	stored.FacilityName = dataset.FacilityName
	stored.MonoName = dataset.MonoName
	stored.MonoDSpacing = dataset.MonoDSpacing
	stored.Version++
	stored.Attachments = merged

	for id := range removing {
		delete(s.attachments, id)
	}
	for _, a := range addAttachments {
		s.attachments[a.ID] = a
	}

	dataset.Version++

	return nil
}

// AppendDownload appends one immutable audit record.
func (s *Store) AppendDownload(_ context.Context, record *orm.DownloadRecord) error {
	if record == nil || record.ID == "" || record.EntityID == "" {
		return &orm.BadInputError{Reason: "download record requires id and entity id"}
	}

	s.mu.Lock()
	s.downloads = append(s.downloads, *record)
	s.mu.Unlock()

	return nil
}

// CountDownloads counts the audit records for one entity.
func (s *Store) CountDownloads(_ context.Context, kind orm.EntityKind, entityID string) (int64, error) {
	if entityID == "" {
		return 0, &orm.BadInputError{Reason: "entity id must be provided"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, record := range s.downloads {
		if record.EntityKind == kind && record.EntityID == entityID {
			count++
		}
	}

	return count, nil
}

// Downloads returns a copy of the ledger in append order (useful for
// testing).
func (s *Store) Downloads() []orm.DownloadRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]orm.DownloadRecord{}, s.downloads...)
}

// DatasetCount returns the number of stored datasets (useful for testing).
func (s *Store) DatasetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.datasets)
}

// AttachmentCount returns the number of stored attachments (useful for
// testing).
func (s *Store) AttachmentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.attachments)
}

// checkUnique enforces the sibling-uniqueness constraints the database
// expresses as unique indexes.
func checkUnique(attachments []orm.Attachment, arrays []orm.SpectralArray) error {
	descriptions := map[string]bool{}
	filenames := map[string]bool{}
	for _, a := range attachments {
		if descriptions[a.Description] {
			return &orm.ConflictError{Conflict: "attachment description " + a.Description}
		}
		if filenames[a.Filename] {
			return &orm.ConflictError{Conflict: "attachment filename " + a.Filename}
		}
		descriptions[a.Description] = true
		filenames[a.Filename] = true
	}

	names := map[string]bool{}
	for _, array := range arrays {
		if names[array.Name] {
			return &orm.ConflictError{Conflict: "array name " + array.Name}
		}
		names[array.Name] = true
	}

	return nil
}

// copyDataset returns a deep copy so callers cannot mutate stored state.
func copyDataset(dataset *orm.Dataset) *orm.Dataset {
	copied := *dataset
	copied.Arrays = append([]orm.SpectralArray{}, dataset.Arrays...)
	for i := range copied.Arrays {
		copied.Arrays[i].Values = append(copied.Arrays[i].Values[:0:0], copied.Arrays[i].Values...)
	}
	copied.ModeTags = append([]orm.ModeTag{}, dataset.ModeTags...)
	copied.Attachments = append([]orm.Attachment{}, dataset.Attachments...)

	return &copied
}
