package orm

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"xasdb/spectrum"
	"xasdb/xdi"
)

// ReviewStatus gates dataset visibility. New datasets start Pending; only a
// privileged actor may move them.
type ReviewStatus int16

const (
	ReviewPending ReviewStatus = iota
	ReviewApproved
	ReviewRejected
)

func (s ReviewStatus) String() string {
	switch s {
	case ReviewPending:
		return "Pending"
	case ReviewApproved:
		return "Approved"
	case ReviewRejected:
		return "Rejected"
	}

	return fmt.Sprintf("ReviewStatus(%d)", int16(s))
}

// Valid reports whether s is one of the three review states.
func (s ReviewStatus) Valid() bool {
	return s == ReviewPending || s == ReviewApproved || s == ReviewRejected
}

// EntityKind distinguishes the two downloadable entity types in the audit
// ledger.
type EntityKind string

const (
	EntityDataset    EntityKind = "dataset"
	EntityAttachment EntityKind = "attachment"
)

// User is an uploader identity. Account management lives upstream; this row
// carries only what access control needs.
type User struct {
	ID           string    `gorm:"primaryKey;size:36"            json:"id"`
	Username     string    `gorm:"size:150;not null;uniqueIndex" json:"username"`
	IsPrivileged bool      `gorm:"not null;default:false"        json:"isPrivileged"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// Dataset is one ingested submission. Review status and the verifiable
// metadata fields are the only parts mutable after ingestion, and only by a
// privileged actor; Version guards those read-modify-write updates.
type Dataset struct {
	ID           string       `gorm:"primaryKey;size:36"     json:"id"`
	UploaderID   string       `gorm:"size:36;not null;index" json:"uploaderId"`
	BlobKey      string       `gorm:"size:64;not null"       json:"-"`
	Filename     string       `gorm:"size:255;not null"      json:"filename"`
	CitationDOI  string       `gorm:"size:256"               json:"citationDoi"`
	Element      string       `gorm:"size:3;not null;index"  json:"element"`
	Edge         xdi.Edge     `gorm:"not null;default:0"     json:"edge"`
	EdgeText     string       `gorm:"size:30"                json:"edgeText"`
	ReviewStatus ReviewStatus `gorm:"not null;default:0"     json:"reviewStatus"`

	SampleName    string     `gorm:"size:100;not null;default:unknown"  json:"sampleName"`
	SamplePrep    string     `gorm:"size:1000;not null;default:unknown" json:"samplePrep"`
	BeamlineName  string     `gorm:"size:100;not null;default:unknown"  json:"beamlineName"`
	FacilityName  string     `gorm:"size:100;not null;default:unknown"  json:"facilityName"`
	MonoName      string     `gorm:"size:30;not null;default:unknown"   json:"monoName"`
	MonoDSpacing  string     `gorm:"size:30;not null;default:unknown"   json:"monoDSpacing"`
	ScanStartTime *time.Time `json:"scanStartTime,omitempty"`
	ReferUsed     bool       `gorm:"not null;default:false" json:"referUsed"`

	Version    int64     `gorm:"not null;default:1"                 json:"version"`
	UploadedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"uploadedAt"`

	Arrays      []SpectralArray `gorm:"foreignKey:DatasetID;references:ID;constraint:OnDelete:CASCADE" json:"arrays,omitempty"`
	ModeTags    []ModeTag       `gorm:"foreignKey:DatasetID;references:ID;constraint:OnDelete:CASCADE" json:"modeTags,omitempty"`
	Attachments []Attachment    `gorm:"foreignKey:DatasetID;references:ID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// Modes returns the dataset's acquisition-mode tags.
func (d *Dataset) Modes() []spectrum.Mode {
	modes := make([]spectrum.Mode, 0, len(d.ModeTags))
	for _, tag := range d.ModeTags {
		modes = append(modes, tag.Mode)
	}

	return modes
}

// ArrayMap decodes all spectral arrays into name-keyed float slices.
func (d *Dataset) ArrayMap() (map[string][]float64, error) {
	arrays := make(map[string][]float64, len(d.Arrays))
	for i := range d.Arrays {
		values, err := d.Arrays[i].Floats()
		if err != nil {
			return nil, err
		}
		arrays[d.Arrays[i].Name] = values
	}

	return arrays, nil
}

// SpectralArray is one named numeric column of a dataset, serialized as a
// JSON array of numbers. Immutable once written.
type SpectralArray struct {
	DatasetID string         `gorm:"primaryKey;size:36" json:"datasetId"`
	Name      string         `gorm:"primaryKey;size:50" json:"name"`
	Unit      string         `gorm:"size:20"            json:"unit"`
	Values    datatypes.JSON `gorm:"not null"           json:"values"`
}

// NewSpectralArray encodes values into the wire representation.
func NewSpectralArray(datasetID, name, unit string, values []float64) (SpectralArray, error) {
	encoded, err := json.Marshal(values)
	if err != nil {
		return SpectralArray{}, &BadInputError{Reason: "encoding array " + name + ": " + err.Error()}
	}

	return SpectralArray{
		DatasetID: datasetID,
		Name:      name,
		Unit:      unit,
		Values:    datatypes.JSON(encoded),
	}, nil
}

// Floats decodes the stored values.
func (a *SpectralArray) Floats() ([]float64, error) {
	var values []float64
	if err := json.Unmarshal(a.Values, &values); err != nil {
		return nil, &DatabaseError{Inner: fmt.Errorf("decoding array %q: %w", a.Name, err)}
	}

	return values, nil
}

// ModeTag is one acquisition-mode tag of a dataset. The composite primary
// key collapses duplicate tags within one ingestion into a set.
type ModeTag struct {
	DatasetID string        `gorm:"primaryKey;size:36" json:"datasetId"`
	Mode      spectrum.Mode `gorm:"primaryKey"         json:"mode"`
}

// Attachment is a secondary file associated with a dataset. Description and
// filename are each unique among siblings.
type Attachment struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	DatasetID   string    `gorm:"size:36;not null;uniqueIndex:idx_attachment_desc,priority:1;uniqueIndex:idx_attachment_file,priority:1" json:"datasetId"`
	Description string    `gorm:"size:256;not null;uniqueIndex:idx_attachment_desc,priority:2" json:"description"`
	Filename    string    `gorm:"size:255;not null;uniqueIndex:idx_attachment_file,priority:2" json:"filename"`
	BlobKey     string    `gorm:"size:64;not null" json:"-"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// DownloadRecord is one immutable audit entry, appended per successful
// download. Never updated or removed; the count per entity is the
// authoritative download metric.
type DownloadRecord struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	EntityKind   EntityKind `gorm:"size:16;not null;index:idx_download_entity,priority:1" json:"entityKind"`
	EntityID     string     `gorm:"size:36;not null;index:idx_download_entity,priority:2" json:"entityId"`
	DownloaderID string     `gorm:"size:36;not null" json:"downloaderId"`
	DownloadedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"downloadedAt"`
}
