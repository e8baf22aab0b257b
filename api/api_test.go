package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xasdb/blob/memoryBlob"
	"xasdb/memoryStore"
	"xasdb/orm"
	"xasdb/service"
)

const (
	uploaderID = "11111111-1111-1111-1111-111111111111"
	reviewerID = "33333333-3333-3333-3333-333333333333"

	transmission = `# Column.1: energy eV
# Column.2: i0
# Column.3: itrans
# Element.symbol: Fe
# Element.edge: K
# Sample.name: iron foil
7100.0 1000.0 800.0
7110.0 1010.0 790.0
`
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	store := memoryStore.New()
	for _, user := range []orm.User{
		{ID: uploaderID, Username: "alice"},
		{ID: reviewerID, Username: "rita", IsPrivileged: true},
	} {
		require.NoError(t, store.CreateUser(context.Background(), &user))
	}

	return NewRouter(service.NewServer(store, memoryBlob.New()))
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &body, w.FormDataContentType()
}

func ingestViaAPI(t *testing.T, router http.Handler) orm.Dataset {
	t.Helper()

	body, contentType := multipartUpload(t, "fe_foil.xdi", []byte(transmission))
	req := httptest.NewRequest(http.MethodPost, "/datasets", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Actor-Id", uploaderID)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var dataset orm.Dataset
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dataset))

	return dataset
}

func approveViaAPI(t *testing.T, router http.Handler, datasetID string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPatch, "/datasets/"+datasetID+"/review",
		strings.NewReader(`{"status":"Approved"}`))
	req.Header.Set("X-Actor-Id", reviewerID)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestIngestEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	dataset := ingestViaAPI(t, router)

	assert.Equal(t, "Fe", dataset.Element)
	assert.Equal(t, "iron foil", dataset.SampleName)
	assert.Equal(t, orm.ReviewPending, dataset.ReviewStatus)
}

func TestIngestEndpointErrors(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	t.Run("anonymous is forbidden", func(t *testing.T) {
		body, contentType := multipartUpload(t, "fe.xdi", []byte(transmission))
		req := httptest.NewRequest(http.MethodPost, "/datasets", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "FORBIDDEN")
	})

	t.Run("unknown element is a bad request", func(t *testing.T) {
		body, contentType := multipartUpload(t, "zz.xdi",
			[]byte("# Element.symbol: Zz\n# energy xmu\n7100 0.5\n"))
		req := httptest.NewRequest(http.MethodPost, "/datasets", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Actor-Id", uploaderID)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNKNOWN_ELEMENT")
	})

	t.Run("missing file field", func(t *testing.T) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		require.NoError(t, w.WriteField("citation_doi", "10.1000/xyz"))
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/datasets", &body)
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("X-Actor-Id", uploaderID)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetDatasetEndpointGatesReads(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	dataset := ingestViaAPI(t, router)

	// Pending dataset is invisible to anonymous callers.
	req := httptest.NewRequest(http.MethodGet, "/datasets/"+dataset.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	approveViaAPI(t, router, dataset.ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/datasets/"+dataset.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCurveEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	dataset := ingestViaAPI(t, router)

	req := httptest.NewRequest(http.MethodGet, "/datasets/"+dataset.ID+"/curve", nil)
	req.Header.Set("X-Actor-Id", uploaderID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var curve curveResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&curve))
	assert.Equal(t, "Raw XAFS", curve.Label)
	assert.Equal(t, "Transmission", curve.Mode)
	assert.Len(t, curve.Mu, 2)
}

func TestDownloadEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	dataset := ingestViaAPI(t, router)
	approveViaAPI(t, router, dataset.ID)

	t.Run("authenticated download serves the original bytes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/datasets/"+dataset.ID+"/download", nil)
		req.Header.Set("X-Actor-Id", uploaderID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Download-Id"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "fe_foil.xdi")

		served, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Equal(t, []byte(transmission), served)
	})

	t.Run("anonymous download of a readable dataset is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/datasets/"+dataset.ID+"/download", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestReviewEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	dataset := ingestViaAPI(t, router)

	t.Run("non-privileged actor is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/datasets/"+dataset.ID+"/review",
			strings.NewReader(`{"status":"Approved"}`))
		req.Header.Set("X-Actor-Id", uploaderID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown status text", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/datasets/"+dataset.ID+"/review",
			strings.NewReader(`{"status":"Maybe"}`))
		req.Header.Set("X-Actor-Id", reviewerID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("privileged update applies edits", func(t *testing.T) {
		body := `{"status":"Approved","sampleName":"verified foil"}`
		req := httptest.NewRequest(http.MethodPatch, "/datasets/"+dataset.ID+"/review",
			strings.NewReader(body))
		req.Header.Set("X-Actor-Id", reviewerID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var updated orm.Dataset
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
		assert.Equal(t, orm.ReviewApproved, updated.ReviewStatus)
		assert.Equal(t, "verified foil", updated.SampleName)
	})
}

func TestElementListEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	dataset := ingestViaAPI(t, router)
	approveViaAPI(t, router, dataset.ID)
	ingestViaAPI(t, router) // second Fe dataset, still pending

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/elements/Fe/datasets", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list elementListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, "Fe", list.Element)
	require.Len(t, list.Datasets, 1)
	assert.Equal(t, dataset.ID, list.Datasets[0].ID)
	assert.Equal(t, []string{"Transmission"}, list.Datasets[0].Modes)
}
