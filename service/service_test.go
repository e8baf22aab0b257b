package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xasdb/blob/memoryBlob"
	"xasdb/memoryStore"
	"xasdb/orm"
	"xasdb/spectrum"
	"xasdb/xdi"
)

var _ Store = (*memoryStore.Store)(nil)

const (
	uploaderID   = "11111111-1111-1111-1111-111111111111"
	otherUserID  = "22222222-2222-2222-2222-222222222222"
	reviewerID   = "33333333-3333-3333-3333-333333333333"
	anonymousID  = ""
	unknownID    = "99999999-9999-9999-9999-999999999999"
	transmission = `# Column.1: energy eV
# Column.2: i0
# Column.3: itrans
# Element.symbol: Fe
# Element.edge: K
# Sample.name: iron foil
7100.0 1000.0 800.0
7110.0 1010.0 790.0
7120.0 1020.0 780.0
`
)

func newTestServer(t *testing.T) (*Server, *memoryStore.Store, *memoryBlob.Blob) {
	t.Helper()

	store := memoryStore.New()
	for _, user := range []orm.User{
		{ID: uploaderID, Username: "alice"},
		{ID: otherUserID, Username: "bob"},
		{ID: reviewerID, Username: "rita", IsPrivileged: true},
	} {
		require.NoError(t, store.CreateUser(context.Background(), &user))
	}

	blobs := memoryBlob.New()

	return NewServer(store, blobs), store, blobs
}

func ingestTransmission(t *testing.T, svc *Server) *orm.Dataset {
	t.Helper()

	dataset, err := svc.Ingest(context.Background(), IngestRequest{
		Filename:   "fe_foil.xdi",
		Content:    []byte(transmission),
		UploaderID: uploaderID,
	})
	require.NoError(t, err)

	return dataset
}

func setStatus(t *testing.T, svc *Server, datasetID string, status orm.ReviewStatus) {
	t.Helper()

	_, err := svc.SetReviewAndMetadata(context.Background(), UpdateRequest{
		DatasetID: datasetID,
		ActorID:   reviewerID,
		NewStatus: status,
	})
	require.NoError(t, err)
}

func TestIngestTransmissionDataset(t *testing.T) {
	t.Parallel()

	svc, store, blobs := newTestServer(t)
	ctx := context.Background()

	dataset, err := svc.Ingest(ctx, IngestRequest{
		Filename:    "fe_foil.xdi",
		Content:     []byte(transmission),
		UploaderID:  uploaderID,
		CitationDOI: "10.1000/xyz",
	})
	require.NoError(t, err)

	assert.Equal(t, "Fe", dataset.Element)
	assert.Equal(t, xdi.EdgeK, dataset.Edge)
	assert.Equal(t, "K", dataset.EdgeText)
	assert.Equal(t, orm.ReviewPending, dataset.ReviewStatus)
	assert.Equal(t, uploaderID, dataset.UploaderID)
	assert.Equal(t, "10.1000/xyz", dataset.CitationDOI)
	assert.Equal(t, []spectrum.Mode{spectrum.ModeTransmission}, dataset.Modes())
	assert.False(t, dataset.ReferUsed)
	assert.Equal(t, int64(1), dataset.Version)

	// Header-derived metadata, with "unknown" for everything absent.
	assert.Equal(t, "iron foil", dataset.SampleName)
	assert.Equal(t, "unknown", dataset.SamplePrep)
	assert.Equal(t, "unknown", dataset.BeamlineName)
	assert.Equal(t, "unknown", dataset.FacilityName)
	assert.Equal(t, "unknown", dataset.MonoName)
	assert.Equal(t, "unknown", dataset.MonoDSpacing)

	arrays, err := dataset.ArrayMap()
	require.NoError(t, err)
	assert.Equal(t, []float64{7100, 7110, 7120}, arrays["energy"])
	assert.Equal(t, []float64{800, 790, 780}, arrays["itrans"])

	// The original bytes live in the blob store under the committed key.
	assert.Equal(t, 1, store.DatasetCount())
	content, err := blobs.Get(dataset.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, []byte(transmission), content)
}

func TestIngestSampleNameFallsBackToFilenameStem(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)

	content := []byte("# Element.symbol: Cu\n# energy xmu\n8970 0.5\n")
	dataset, err := svc.Ingest(context.Background(), IngestRequest{
		Filename:   "cu_oxide_300K.dat",
		Content:    content,
		UploaderID: uploaderID,
	})
	require.NoError(t, err)

	assert.Equal(t, "cu_oxide_300K", dataset.SampleName)
}

func TestIngestRequiresAuthentication(t *testing.T) {
	t.Parallel()

	svc, store, blobs := newTestServer(t)

	for _, actorID := range []string{anonymousID, unknownID} {
		_, err := svc.Ingest(context.Background(), IngestRequest{
			Filename:   "fe_foil.xdi",
			Content:    []byte(transmission),
			UploaderID: actorID,
		})

		var forbidden *ForbiddenError
		require.ErrorAs(t, err, &forbidden, "actor %q", actorID)
	}

	assert.Equal(t, 0, store.DatasetCount())
	assert.Equal(t, 0, blobs.Count())
}

func TestIngestRejectsInvalidFiles(t *testing.T) {
	t.Parallel()

	svc, store, blobs := newTestServer(t)
	ctx := context.Background()

	t.Run("unknown element", func(t *testing.T) {
		content := []byte("# Element.symbol: Zz\n# energy xmu\n7100 0.5\n")
		_, err := svc.Ingest(ctx, IngestRequest{Filename: "zz.xdi", Content: content, UploaderID: uploaderID})

		var elementErr *xdi.ElementError
		require.ErrorAs(t, err, &elementErr)
		assert.Equal(t, "Zz", elementErr.Symbol)
	})

	t.Run("oversize file", func(t *testing.T) {
		content := bytes.Repeat([]byte("a"), xdi.MaxFileSize+1)
		_, err := svc.Ingest(ctx, IngestRequest{Filename: "huge.xdi", Content: content, UploaderID: uploaderID})

		var sizeErr *xdi.SizeError
		assert.ErrorAs(t, err, &sizeErr)
	})

	t.Run("undecodable layout", func(t *testing.T) {
		_, err := svc.Ingest(ctx, IngestRequest{Filename: "bad.xdi", Content: []byte("not a table"), UploaderID: uploaderID})

		var formatErr *xdi.FormatError
		assert.ErrorAs(t, err, &formatErr)
	})

	t.Run("non-finite cell", func(t *testing.T) {
		content := []byte("# Element.symbol: Fe\n# energy i0 itrans\n7100 1000 nan\n")
		_, err := svc.Ingest(ctx, IngestRequest{Filename: "nan.xdi", Content: content, UploaderID: uploaderID})

		var formatErr *xdi.FormatError
		assert.ErrorAs(t, err, &formatErr)
	})

	assert.Equal(t, 0, store.DatasetCount())
	assert.Equal(t, 0, blobs.Count())
}

// failingCommitStore delegates everything to the wrapped store but refuses
// to commit datasets.
type failingCommitStore struct {
	Store
	err error
}

func (s failingCommitStore) CreateDataset(context.Context, *orm.Dataset) error {
	return s.err
}

func TestFailedCommitKeepsSharedBlobs(t *testing.T) {
	t.Parallel()

	svc, store, blobs := newTestServer(t)
	ctx := context.Background()
	dataset := ingestTransmission(t, svc)

	// A second ingest of identical bytes resolves to the same blob key. When
	// its commit fails, cleanup must not delete the blob the committed
	// dataset still references.
	broken := NewServer(failingCommitStore{
		Store: store,
		err:   &orm.DatabaseError{Inner: errors.New("connection reset")},
	}, blobs)

	_, err := broken.Ingest(ctx, IngestRequest{
		Filename:   "fe_foil_copy.xdi",
		Content:    []byte(transmission),
		UploaderID: uploaderID,
	})
	require.Error(t, err)

	content, err := blobs.Get(dataset.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, []byte(transmission), content)

	setStatus(t, svc, dataset.ID, orm.ReviewApproved)
	served, _, err := svc.DownloadContent(ctx, DatasetRef(dataset.ID), otherUserID)
	require.NoError(t, err)
	assert.Equal(t, []byte(transmission), served)
}

func TestIngestWithAttachments(t *testing.T) {
	t.Parallel()

	svc, store, blobs := newTestServer(t)

	dataset, err := svc.Ingest(context.Background(), IngestRequest{
		Filename:   "fe_foil.xdi",
		Content:    []byte(transmission),
		UploaderID: uploaderID,
		Attachments: []AttachmentUpload{
			{Description: "beamline notes", Filename: "notes.txt", Content: []byte("ring current stable")},
			{Description: "sample photo", Filename: "photo.png", Content: []byte{0x89, 'P', 'N', 'G'}},
			{}, // fully empty entries are dropped, not rejected
		},
	})
	require.NoError(t, err)

	require.Len(t, dataset.Attachments, 2)
	assert.Equal(t, 2, store.AttachmentCount())
	assert.Equal(t, 3, blobs.Count()) // primary file plus two attachments

	for _, a := range dataset.Attachments {
		content, err := blobs.Get(a.BlobKey)
		require.NoError(t, err)
		assert.NotEmpty(t, content)
	}
}

func TestIngestDuplicateAttachmentsPersistNothing(t *testing.T) {
	t.Parallel()

	svc, store, blobs := newTestServer(t)

	_, err := svc.Ingest(context.Background(), IngestRequest{
		Filename:   "fe_foil.xdi",
		Content:    []byte(transmission),
		UploaderID: uploaderID,
		Attachments: []AttachmentUpload{
			{Description: "notes", Filename: "a.txt", Content: []byte("first")},
			{Description: "notes", Filename: "b.txt", Content: []byte("second")},
			{Description: "photo", Filename: "a.txt", Content: []byte("third")},
			{Filename: "orphan.txt", Content: []byte("no description")},
		},
	})

	var uniqueErr *UniquenessError
	require.ErrorAs(t, err, &uniqueErr)
	// Every violated constraint is reported, not just the first.
	assert.Len(t, uniqueErr.Violations, 3)

	assert.Equal(t, 0, store.DatasetCount())
	assert.Equal(t, 0, store.AttachmentCount())
	assert.Equal(t, 0, blobs.Count())
}

func TestAccessMatrix(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	ctx := context.Background()
	dataset := ingestTransmission(t, svc)

	actors := []struct {
		name string
		id   string
	}{
		{"anonymous", anonymousID},
		{"other user", otherUserID},
		{"owner", uploaderID},
		{"privileged", reviewerID},
	}

	tests := []struct {
		status       orm.ReviewStatus
		canRead      [4]bool // indexed like actors
		canDownload  [4]bool
	}{
		{orm.ReviewPending, [4]bool{false, false, true, true}, [4]bool{false, false, true, true}},
		{orm.ReviewApproved, [4]bool{true, true, true, true}, [4]bool{false, true, true, true}},
		{orm.ReviewRejected, [4]bool{false, false, true, true}, [4]bool{false, false, true, true}},
	}

	for _, tt := range tests {
		setStatus(t, svc, dataset.ID, tt.status)

		for i, actor := range actors {
			read, err := svc.CanRead(ctx, dataset.ID, actor.id)
			require.NoError(t, err)
			assert.Equal(t, tt.canRead[i], read, "%s read %s", actor.name, tt.status)

			download, err := svc.CanDownload(ctx, DatasetRef(dataset.ID), actor.id)
			require.NoError(t, err)
			assert.Equal(t, tt.canDownload[i], download, "%s download %s", actor.name, tt.status)
		}
	}
}

func TestGetDatasetHidesInaccessible(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	ctx := context.Background()
	dataset := ingestTransmission(t, svc)

	// Pending: another user's fetch fails exactly like a nonexistent id.
	_, err := svc.GetDataset(ctx, dataset.ID, otherUserID)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = svc.GetDataset(ctx, "no-such-dataset", otherUserID)
	require.ErrorAs(t, err, &notFound)

	// CanRead never errors on nonexistence.
	readable, err := svc.CanRead(ctx, "no-such-dataset", otherUserID)
	require.NoError(t, err)
	assert.False(t, readable)
}

func TestReviewRequiresPrivilege(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	dataset := ingestTransmission(t, svc)

	for _, actorID := range []string{anonymousID, uploaderID, otherUserID} {
		_, err := svc.SetReviewAndMetadata(context.Background(), UpdateRequest{
			DatasetID: dataset.ID,
			ActorID:   actorID,
			NewStatus: orm.ReviewApproved,
		})

		var forbidden *ForbiddenError
		require.ErrorAs(t, err, &forbidden, "actor %q", actorID)
	}

	// The owner still sees the dataset untouched.
	fetched, err := svc.GetDataset(context.Background(), dataset.ID, uploaderID)
	require.NoError(t, err)
	assert.Equal(t, orm.ReviewPending, fetched.ReviewStatus)
	assert.Equal(t, int64(1), fetched.Version)
}

func TestReviewAppliesEditsAtomically(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	ctx := context.Background()

	dataset, err := svc.Ingest(ctx, IngestRequest{
		Filename:   "fe_foil.xdi",
		Content:    []byte(transmission),
		UploaderID: uploaderID,
		Attachments: []AttachmentUpload{
			{Description: "old notes", Filename: "old.txt", Content: []byte("stale")},
		},
	})
	require.NoError(t, err)
	require.Len(t, dataset.Attachments, 1)

	sampleName := "verified iron foil"
	facility := "APS"
	updated, err := svc.SetReviewAndMetadata(ctx, UpdateRequest{
		DatasetID: dataset.ID,
		ActorID:   reviewerID,
		NewStatus: orm.ReviewApproved,
		Edits: MetadataEdits{
			SampleName:   &sampleName,
			FacilityName: &facility,
		},
		AddAttachments: []AttachmentUpload{
			{Description: "review notes", Filename: "review.txt", Content: []byte("checked")},
		},
		RemoveAttachmentIDs: []string{dataset.Attachments[0].ID},
	})
	require.NoError(t, err)

	assert.Equal(t, orm.ReviewApproved, updated.ReviewStatus)
	assert.Equal(t, "verified iron foil", updated.SampleName)
	assert.Equal(t, "APS", updated.FacilityName)
	assert.Equal(t, int64(2), updated.Version)
	require.Len(t, updated.Attachments, 1)
	assert.Equal(t, "review notes", updated.Attachments[0].Description)
}

func TestReviewInvalidUpdateChangesNothing(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	ctx := context.Background()
	dataset := ingestTransmission(t, svc)

	empty := "   "
	_, err := svc.SetReviewAndMetadata(ctx, UpdateRequest{
		DatasetID:           dataset.ID,
		ActorID:             reviewerID,
		NewStatus:           orm.ReviewStatus(42),
		Edits:               MetadataEdits{SampleName: &empty},
		RemoveAttachmentIDs: []string{"not-an-attachment"},
	})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	// All three violations surface in one response.
	assert.Len(t, validationErr.Violations, 3)

	fetched, err := svc.GetDataset(ctx, dataset.ID, uploaderID)
	require.NoError(t, err)
	assert.Equal(t, orm.ReviewPending, fetched.ReviewStatus)
	assert.Equal(t, "iron foil", fetched.SampleName)
	assert.Equal(t, int64(1), fetched.Version)
}

func TestDownloadAuditLedger(t *testing.T) {
	t.Parallel()

	svc, store, _ := newTestServer(t)
	ctx := context.Background()
	dataset := ingestTransmission(t, svc)
	setStatus(t, svc, dataset.ID, orm.ReviewApproved)

	ref := DatasetRef(dataset.ID)
	for i := 0; i < 5; i++ {
		record, err := svc.RecordDownload(ctx, ref, otherUserID)
		require.NoError(t, err)
		assert.Equal(t, orm.EntityDataset, record.EntityKind)
		assert.Equal(t, dataset.ID, record.EntityID)
		assert.Equal(t, otherUserID, record.DownloaderID)
	}

	count, err := svc.DownloadCount(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	// The ledger keeps one record per grant, in call order.
	records := store.Downloads()
	require.Len(t, records, 5)
	seen := map[string]bool{}
	for _, record := range records {
		assert.False(t, seen[record.ID], "record id %s repeated", record.ID)
		seen[record.ID] = true
	}
}

func TestConcurrentDownloadsEachGetARecord(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	ctx := context.Background()
	dataset := ingestTransmission(t, svc)
	setStatus(t, svc, dataset.ID, orm.ReviewApproved)

	const downloaders = 20
	ref := DatasetRef(dataset.ID)
	records := make([]*orm.DownloadRecord, downloaders)
	errs := make([]error, downloaders)

	var wg sync.WaitGroup
	wg.Add(downloaders)
	for i := 0; i < downloaders; i++ {
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = svc.RecordDownload(ctx, ref, otherUserID)
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < downloaders; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, records[i])
		assert.False(t, seen[records[i].ID], "record id %s repeated", records[i].ID)
		seen[records[i].ID] = true
	}

	count, err := svc.DownloadCount(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(downloaders), count)
}

func TestDownloadContent(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	ctx := context.Background()

	dataset, err := svc.Ingest(ctx, IngestRequest{
		Filename:   "fe_foil.xdi",
		Content:    []byte(transmission),
		UploaderID: uploaderID,
		Attachments: []AttachmentUpload{
			{Description: "notes", Filename: "notes.txt", Content: []byte("ring current stable")},
		},
	})
	require.NoError(t, err)
	setStatus(t, svc, dataset.ID, orm.ReviewApproved)

	content, record, err := svc.DownloadContent(ctx, DatasetRef(dataset.ID), otherUserID)
	require.NoError(t, err)
	assert.Equal(t, []byte(transmission), content)
	assert.Equal(t, orm.EntityDataset, record.EntityKind)

	content, record, err = svc.DownloadContent(ctx, AttachmentRef(dataset.Attachments[0].ID), otherUserID)
	require.NoError(t, err)
	assert.Equal(t, []byte("ring current stable"), content)
	assert.Equal(t, orm.EntityAttachment, record.EntityKind)

	count, err := svc.DownloadCount(ctx, AttachmentRef(dataset.Attachments[0].ID))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDownloadDenials(t *testing.T) {
	t.Parallel()

	svc, store, _ := newTestServer(t)
	ctx := context.Background()
	dataset := ingestTransmission(t, svc)

	t.Run("unreadable dataset reads as nonexistent", func(t *testing.T) {
		_, err := svc.RecordDownload(ctx, DatasetRef(dataset.ID), otherUserID)

		var notFound *NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	setStatus(t, svc, dataset.ID, orm.ReviewApproved)

	t.Run("anonymous may read but not download", func(t *testing.T) {
		readable, err := svc.CanRead(ctx, dataset.ID, anonymousID)
		require.NoError(t, err)
		assert.True(t, readable)

		_, err = svc.RecordDownload(ctx, DatasetRef(dataset.ID), anonymousID)

		var forbidden *ForbiddenError
		assert.ErrorAs(t, err, &forbidden)
	})

	assert.Empty(t, store.Downloads())
}

func TestRenderCurve(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	ctx := context.Background()

	t.Run("transmission", func(t *testing.T) {
		dataset := ingestTransmission(t, svc)

		curve, err := svc.RenderCurve(ctx, dataset.ID, uploaderID)
		require.NoError(t, err)
		assert.Equal(t, spectrum.ModeTransmission, curve.Mode)
		assert.Equal(t, "Raw XAFS", curve.Label)
		assert.Len(t, curve.Mu, 3)
	})

	t.Run("no mode stays browsable but not renderable", func(t *testing.T) {
		content := []byte("# Element.symbol: Fe\n# energy irefer\n7100 5\n7110 5\n")
		dataset, err := svc.Ingest(ctx, IngestRequest{
			Filename:   "refer_only.xdi",
			Content:    content,
			UploaderID: uploaderID,
		})
		require.NoError(t, err)
		assert.True(t, dataset.ReferUsed)

		_, err = svc.RenderCurve(ctx, dataset.ID, uploaderID)
		assert.ErrorIs(t, err, spectrum.ErrNoMode)

		// The dataset itself is still fetchable.
		_, err = svc.GetDataset(ctx, dataset.ID, uploaderID)
		assert.NoError(t, err)
	})
}

func TestListDatasetsByElement(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	ctx := context.Background()

	first := ingestTransmission(t, svc)
	second := ingestTransmission(t, svc)
	setStatus(t, svc, second.ID, orm.ReviewApproved)

	cu := []byte("# Element.symbol: Cu\n# energy xmu\n8970 0.5\n")
	_, err := svc.Ingest(ctx, IngestRequest{Filename: "cu.xdi", Content: cu, UploaderID: uploaderID})
	require.NoError(t, err)

	anonymousView, err := svc.ListDatasetsByElement(ctx, "Fe", anonymousID)
	require.NoError(t, err)
	require.Len(t, anonymousView, 1)
	assert.Equal(t, second.ID, anonymousView[0].ID)

	ownerView, err := svc.ListDatasetsByElement(ctx, "Fe", uploaderID)
	require.NoError(t, err)
	assert.Len(t, ownerView, 2)

	ids := map[string]bool{}
	for _, d := range ownerView {
		ids[d.ID] = true
	}
	assert.True(t, ids[first.ID])
	assert.True(t, ids[second.ID])
}

func TestApprovalFlipsAnonymousRead(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)
	ctx := context.Background()
	dataset := ingestTransmission(t, svc)

	readable, err := svc.CanRead(ctx, dataset.ID, anonymousID)
	require.NoError(t, err)
	require.False(t, readable)

	setStatus(t, svc, dataset.ID, orm.ReviewApproved)

	readable, err = svc.CanRead(ctx, dataset.ID, anonymousID)
	require.NoError(t, err)
	assert.True(t, readable)
}

func TestScanStartTimeParsing(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestServer(t)

	content := fmt.Sprintf("%s# Scan.start_time: 2001-06-26T22:27:31\n", transmission)
	dataset, err := svc.Ingest(context.Background(), IngestRequest{
		Filename:   "fe_foil.xdi",
		Content:    []byte(content),
		UploaderID: uploaderID,
	})
	require.NoError(t, err)

	require.NotNil(t, dataset.ScanStartTime)
	assert.Equal(t, 2001, dataset.ScanStartTime.Year())
}
