package orm

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// CreateUser inserts an uploader identity.
func (db *DB) CreateUser(ctx context.Context, user *User) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return &BadInputError{Reason: "user requires id and username"}
	}

	err := gorm.G[User](db.dbGorm).Create(ctx, user)

	return wrapErrorWithDetails(err, "create user", fmt.Sprintf("id=%s, username=%s", user.ID, user.Username))
}

// GetUser fetches an uploader identity by id.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, &BadInputError{Reason: "user id must be provided"}
	}

	user, err := gorm.G[User](db.dbGorm).Where(&User{ID: id}).First(ctx)
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get user", "id="+id)
	}

	return &user, nil
}

// CreateDataset commits a dataset together with its arrays, mode tags and
// attachments as one transaction. Nothing persists if any row fails.
func (db *DB) CreateDataset(ctx context.Context, dataset *Dataset) error {
	if dataset == nil || dataset.ID == "" {
		return &BadInputError{Reason: "dataset requires an id"}
	}

	err := db.dbGorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(dataset).Error
	})

	return wrapErrorWithDetails(err, "create dataset",
		fmt.Sprintf("id=%s, element=%s", dataset.ID, dataset.Element))
}

// GetDataset fetches a dataset with its arrays, tags and attachments.
func (db *DB) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	if id == "" {
		return nil, &BadInputError{Reason: "dataset id must be provided"}
	}

	dataset, err := gorm.G[Dataset](db.dbGorm).
		Preload("Arrays", nil).
		Preload("ModeTags", nil).
		Preload("Attachments", nil).
		Where(&Dataset{ID: id}).
		First(ctx)
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get dataset", "id="+id)
	}

	return &dataset, nil
}

// GetAttachment fetches a single attachment by id.
func (db *DB) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	if id == "" {
		return nil, &BadInputError{Reason: "attachment id must be provided"}
	}

	attachment, err := gorm.G[Attachment](db.dbGorm).Where(&Attachment{ID: id}).First(ctx)
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get attachment", "id="+id)
	}

	return &attachment, nil
}

// ListDatasetsByElement returns all datasets for one element symbol, with
// their mode tags preloaded. Visibility filtering happens above the store.
func (db *DB) ListDatasetsByElement(ctx context.Context, symbol string) ([]Dataset, error) {
	if symbol == "" {
		return nil, &BadInputError{Reason: "element symbol must be provided"}
	}

	datasets, err := gorm.G[Dataset](db.dbGorm).
		Preload("ModeTags", nil).
		Where(&Dataset{Element: symbol}).
		Find(ctx)
	if err != nil {
		return nil, wrapErrorWithDetails(err, "list datasets by element", "element="+symbol)
	}

	return datasets, nil
}

// UpdateDataset applies a review-status/metadata update plus attachment
// additions and removals as one transaction, guarded by the version the
// caller read. A lost race surfaces as ConflictError and nothing applies.
func (db *DB) UpdateDataset(
	ctx context.Context,
	dataset *Dataset,
	addAttachments []Attachment,
	removeAttachmentIDs []string,
) error {
	if dataset == nil || dataset.ID == "" {
		return &BadInputError{Reason: "dataset requires an id"}
	}

	details := fmt.Sprintf("id=%s, version=%d", dataset.ID, dataset.Version)

	err := db.dbGorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Dataset{}).
			Where("id = ? AND version = ?", dataset.ID, dataset.Version).
			Updates(map[string]any{
				"review_status":  dataset.ReviewStatus,
				"citation_doi":   dataset.CitationDOI,
				"sample_name":    dataset.SampleName,
				"sample_prep":    dataset.SamplePrep,
				"beamline_name":  dataset.BeamlineName,
				"facility_name":  dataset.FacilityName,
				"mono_name":      dataset.MonoName,
				"mono_d_spacing": dataset.MonoDSpacing,
				"version":        dataset.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&Dataset{}).Where("id = ?", dataset.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return gorm.ErrRecordNotFound
			}

			return gorm.ErrDuplicatedKey // version race
		}

		for _, id := range removeAttachmentIDs {
			res := tx.Where("id = ? AND dataset_id = ?", id, dataset.ID).Delete(&Attachment{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
		}

		for i := range addAttachments {
			if err := tx.Create(&addAttachments[i]).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return wrapErrorWithDetails(err, "update dataset", details)
	}

	dataset.Version++

	return nil
}

// AppendDownload inserts one audit record. Records are append-only;
// concurrent downloads of the same entity each get their own row.
func (db *DB) AppendDownload(ctx context.Context, record *DownloadRecord) error {
	if record == nil || record.ID == "" || record.EntityID == "" {
		return &BadInputError{Reason: "download record requires id and entity id"}
	}

	err := gorm.G[DownloadRecord](db.dbGorm).Create(ctx, record)

	return wrapErrorWithDetails(err, "append download record",
		fmt.Sprintf("kind=%s, entity=%s", record.EntityKind, record.EntityID))
}

// CountDownloads returns the authoritative times-downloaded metric for one
// entity.
func (db *DB) CountDownloads(ctx context.Context, kind EntityKind, entityID string) (int64, error) {
	if entityID == "" {
		return 0, &BadInputError{Reason: "entity id must be provided"}
	}

	count, err := gorm.G[DownloadRecord](db.dbGorm).
		Where(&DownloadRecord{EntityKind: kind, EntityID: entityID}).
		Count(ctx, "*")
	if err != nil {
		return 0, wrapErrorWithDetails(err, "count downloads",
			fmt.Sprintf("kind=%s, entity=%s", kind, entityID))
	}

	return count, nil
}
