// Package api exposes the archive over a thin JSON façade. Authentication
// lives upstream; the caller's identity arrives as the X-Actor-Id header.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"xasdb/orm"
	"xasdb/service"
	"xasdb/xdi"
)

const actorHeader = "X-Actor-Id"

// maxRequestBody caps a whole multipart upload: one primary file plus
// attachments, each individually limited to xdi.MaxFileSize.
const maxRequestBody = 16 * xdi.MaxFileSize

// Handler serves the HTTP routes over the core service.
type Handler struct {
	svc *service.Server
}

// NewRouter builds the chi router for the archive.
func NewRouter(svc *service.Server) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/datasets", h.ingest)
	r.Get("/datasets/{id}", h.getDataset)
	r.Get("/datasets/{id}/curve", h.getCurve)
	r.Get("/datasets/{id}/download", h.downloadDataset)
	r.Patch("/datasets/{id}/review", h.review)
	r.Get("/attachments/{id}/download", h.downloadAttachment)
	r.Get("/elements/{symbol}/datasets", h.listByElement)

	return r
}

func actorID(r *http.Request) string {
	return r.Header.Get(actorHeader)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ingest handles POST /datasets. The multipart form carries the primary file
// under "file", an optional "citation_doi" value, and attachment pairs as
// parallel "attachment" files and "attachment_description" values.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed multipart form: "+err.Error())

		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", `form file "file" is required`)

		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "reading upload: "+err.Error())

		return
	}

	attachments, err := readAttachments(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())

		return
	}

	dataset, err := h.svc.Ingest(r.Context(), service.IngestRequest{
		Filename:    header.Filename,
		Content:     content,
		UploaderID:  actorID(r),
		CitationDOI: r.FormValue("citation_doi"),
		Attachments: attachments,
	})
	if err != nil {
		writeServiceError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, dataset)
}

// readAttachments pairs attachment files with their descriptions by
// position.
func readAttachments(r *http.Request) ([]service.AttachmentUpload, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}

	files := r.MultipartForm.File["attachment"]
	descriptions := r.MultipartForm.Value["attachment_description"]
	if len(descriptions) != len(files) {
		return nil, fmt.Errorf("got %d attachment files but %d descriptions", len(files), len(descriptions))
	}

	uploads := make([]service.AttachmentUpload, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("opening attachment %q: %w", fh.Filename, err)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading attachment %q: %w", fh.Filename, err)
		}
		uploads = append(uploads, service.AttachmentUpload{
			Description: descriptions[i],
			Filename:    fh.Filename,
			Content:     content,
		})
	}

	return uploads, nil
}

func (h *Handler) getDataset(w http.ResponseWriter, r *http.Request) {
	dataset, err := h.svc.GetDataset(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		writeServiceError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, dataset)
}

type curveResponse struct {
	Energy      []float64 `json:"energy"`
	Mu          []float64 `json:"mu"`
	Label       string    `json:"label"`
	Mode        string    `json:"mode"`
	ReferMu     []float64 `json:"referMu,omitempty"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
}

func (h *Handler) getCurve(w http.ResponseWriter, r *http.Request) {
	curve, err := h.svc.RenderCurve(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		writeServiceError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, curveResponse{
		Energy:      curve.Energy,
		Mu:          curve.Mu,
		Label:       curve.Label,
		Mode:        curve.Mode.String(),
		ReferMu:     curve.ReferMu,
		Diagnostics: curve.Diagnostics,
	})
}

func (h *Handler) downloadDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	content, record, err := h.svc.DownloadContent(r.Context(), service.DatasetRef(id), actorID(r))
	if err != nil {
		writeServiceError(w, err)

		return
	}

	// The actor passed the download gate, so the read-gated fetch for the
	// original filename cannot fail on access.
	if dataset, err := h.svc.GetDataset(r.Context(), id, actorID(r)); err == nil {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dataset.Filename))
	}

	serveBlob(w, content, record)
}

func (h *Handler) downloadAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	content, record, err := h.svc.DownloadContent(r.Context(), service.AttachmentRef(id), actorID(r))
	if err != nil {
		writeServiceError(w, err)

		return
	}

	serveBlob(w, content, record)
}

func serveBlob(w http.ResponseWriter, content []byte, record *orm.DownloadRecord) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Download-Id", record.ID)
	if _, err := w.Write(content); err != nil {
		log.Warn().Err(err).Msg("failed to stream download")
	}
}

type reviewRequest struct {
	Status string `json:"status"`

	CitationDOI  *string `json:"citationDoi"`
	SampleName   *string `json:"sampleName"`
	SamplePrep   *string `json:"samplePrep"`
	BeamlineName *string `json:"beamlineName"`
	FacilityName *string `json:"facilityName"`
	MonoName     *string `json:"monoName"`
	MonoDSpacing *string `json:"monoDSpacing"`

	AddAttachments []struct {
		Description string `json:"description"`
		Filename    string `json:"filename"`
		Content     []byte `json:"content"` // base64 in JSON
	} `json:"addAttachments"`
	RemoveAttachmentIDs []string `json:"removeAttachmentIds"`
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body: "+err.Error())

		return
	}

	status, ok := reviewStatusFromString(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown review status "+req.Status)

		return
	}

	additions := make([]service.AttachmentUpload, 0, len(req.AddAttachments))
	for _, a := range req.AddAttachments {
		additions = append(additions, service.AttachmentUpload{
			Description: a.Description,
			Filename:    a.Filename,
			Content:     a.Content,
		})
	}

	dataset, err := h.svc.SetReviewAndMetadata(r.Context(), service.UpdateRequest{
		DatasetID: chi.URLParam(r, "id"),
		ActorID:   actorID(r),
		NewStatus: status,
		Edits: service.MetadataEdits{
			CitationDOI:  req.CitationDOI,
			SampleName:   req.SampleName,
			SamplePrep:   req.SamplePrep,
			BeamlineName: req.BeamlineName,
			FacilityName: req.FacilityName,
			MonoName:     req.MonoName,
			MonoDSpacing: req.MonoDSpacing,
		},
		AddAttachments:      additions,
		RemoveAttachmentIDs: req.RemoveAttachmentIDs,
	})
	if err != nil {
		writeServiceError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, dataset)
}

func reviewStatusFromString(text string) (orm.ReviewStatus, bool) {
	for _, status := range []orm.ReviewStatus{orm.ReviewPending, orm.ReviewApproved, orm.ReviewRejected} {
		if status.String() == text {
			return status, true
		}
	}

	return 0, false
}

type elementListResponse struct {
	Element  string        `json:"element"`
	Datasets []datasetItem `json:"datasets"`
}

type datasetItem struct {
	ID           string   `json:"id"`
	Filename     string   `json:"filename"`
	SampleName   string   `json:"sampleName"`
	Edge         string   `json:"edge"`
	ReviewStatus string   `json:"reviewStatus"`
	Modes        []string `json:"modes"`
}

func (h *Handler) listByElement(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	datasets, err := h.svc.ListDatasetsByElement(r.Context(), symbol, actorID(r))
	if err != nil {
		writeServiceError(w, err)

		return
	}

	items := make([]datasetItem, 0, len(datasets))
	for i := range datasets {
		items = append(items, datasetListItem(&datasets[i]))
	}

	writeJSON(w, http.StatusOK, elementListResponse{Element: symbol, Datasets: items})
}

func datasetListItem(d *orm.Dataset) datasetItem {
	modes := make([]string, 0, len(d.ModeTags))
	for _, mode := range d.Modes() {
		modes = append(modes, mode.String())
	}

	return datasetItem{
		ID:           d.ID,
		Filename:     d.Filename,
		SampleName:   d.SampleName,
		Edge:         d.Edge.String(),
		ReviewStatus: d.ReviewStatus.String(),
		Modes:        modes,
	}
}
