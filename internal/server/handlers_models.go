package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// pathVersion parses the {version} path segment as an integer.
func pathVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.PathValue("version")
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "version must be an integer, got "+strconv.Quote(raw))
		return 0, false
	}
	return v, true
}

// HandleCreateModel creates a registered model.
func (h *Handlers) HandleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req model.CreateModelRequest
	if !h.decode(w, r, &req) {
		return
	}
	rm, err := h.registry.Store().CreateRegisteredModel(r.Context(), req.Name, req.Description, req.Tags)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rm)
}

// HandleSearchModels lists registered models matching an optional filter.
func (h *Handlers) HandleSearchModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxResults := 0
	if raw := q.Get("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "max_results must be a non-negative integer")
			return
		}
		maxResults = n
	}
	models, nextToken, err := h.registry.Store().SearchRegisteredModels(r.Context(), q.Get("filter"), maxResults, q["order_by"], q.Get("page_token"))
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.SearchModelsResponse{Models: models, NextPageToken: nextToken})
}

// HandleGetModel fetches a registered model by name.
func (h *Handlers) HandleGetModel(w http.ResponseWriter, r *http.Request) {
	rm, err := h.registry.Store().GetRegisteredModel(r.Context(), r.PathValue("name"))
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rm)
}

// HandleUpdateModel updates a registered model's description.
func (h *Handlers) HandleUpdateModel(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateModelRequest
	if !h.decode(w, r, &req) {
		return
	}
	rm, err := h.registry.Store().UpdateRegisteredModel(r.Context(), r.PathValue("name"), req.Description)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rm)
}

// HandleRenameModel renames a registered model.
func (h *Handlers) HandleRenameModel(w http.ResponseWriter, r *http.Request) {
	var req model.RenameModelRequest
	if !h.decode(w, r, &req) {
		return
	}
	rm, err := h.registry.Store().RenameRegisteredModel(r.Context(), r.PathValue("name"), req.NewName)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rm)
}

// HandleDeleteModel deletes a registered model and all its versions.
func (h *Handlers) HandleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Store().DeleteRegisteredModel(r.Context(), r.PathValue("name")); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateModelVersion registers a new version of a model.
func (h *Handlers) HandleCreateModelVersion(w http.ResponseWriter, r *http.Request) {
	var req model.CreateModelVersionRequest
	if !h.decode(w, r, &req) {
		return
	}
	mv, err := h.registry.Store().CreateModelVersion(r.Context(), r.PathValue("name"), req.Source, req.RunID, req.Description, req.Tags)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, mv)
}

// HandleGetModelVersion fetches one model version.
func (h *Handlers) HandleGetModelVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(w, r)
	if !ok {
		return
	}
	mv, err := h.registry.Store().GetModelVersion(r.Context(), r.PathValue("name"), version)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, mv)
}

// HandleDeleteModelVersion deletes one model version.
func (h *Handlers) HandleDeleteModelVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(w, r)
	if !ok {
		return
	}
	if err := h.registry.Store().DeleteModelVersion(r.Context(), r.PathValue("name"), version); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetDownloadURI returns the artifact location of a model version.
func (h *Handlers) HandleGetDownloadURI(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(w, r)
	if !ok {
		return
	}
	uri, err := h.registry.Store().GetModelVersionDownloadURI(r.Context(), r.PathValue("name"), version)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.DownloadURIResponse{ArtifactURI: uri})
}

// HandleGetLatestVersions returns the highest live version of a model.
func (h *Handlers) HandleGetLatestVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.registry.Store().GetLatestVersions(r.Context(), r.PathValue("name"))
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, versions)
}

// HandleCopyModelVersion copies a model version to another registered model.
func (h *Handlers) HandleCopyModelVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(w, r)
	if !ok {
		return
	}
	var req model.CopyModelVersionRequest
	if !h.decode(w, r, &req) {
		return
	}
	src, err := h.registry.Store().GetModelVersion(r.Context(), r.PathValue("name"), version)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	dst, err := h.registry.CopyModelVersion(r.Context(), src, req.DestinationName)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, dst)
}

// HandleAwaitModelVersion blocks until the version reaches a terminal
// status or the timeout elapses.
func (h *Handlers) HandleAwaitModelVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(w, r)
	if !ok {
		return
	}
	// The body is optional; an absent body uses the server default timeout.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req model.AwaitModelVersionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	timeout := h.awaitTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	mv, err := h.registry.Store().GetModelVersion(r.Context(), r.PathValue("name"), version)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	mv, err = h.registry.AwaitModelVersionCreation(r.Context(), mv, timeout)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, mv)
}
