package server

import (
	"net/http"
	"strconv"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// HandleCreatePrompt creates a new prompt.
func (h *Handlers) HandleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePromptRequest
	if !h.decode(w, r, &req) {
		return
	}
	prompt, err := h.registry.CreatePrompt(r.Context(), req.Name, req.Description, req.Tags)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, prompt)
}

// HandleGetPrompt fetches a prompt by name.
func (h *Handlers) HandleGetPrompt(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	prompt, err := h.registry.GetPrompt(r.Context(), name)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	if prompt == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "prompt "+strconv.Quote(name)+" does not exist")
		return
	}
	writeJSON(w, r, http.StatusOK, prompt)
}

// HandleSearchPrompts lists prompts matching an optional filter.
// Query parameters: filter, max_results, order_by (repeatable), page_token.
func (h *Handlers) HandleSearchPrompts(w http.ResponseWriter, r *http.Request) {
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
	prompts, nextToken, err := h.registry.SearchPrompts(r.Context(), q.Get("filter"), maxResults, q["order_by"], q.Get("page_token"))
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.SearchPromptsResponse{Prompts: prompts, NextPageToken: nextToken})
}

// HandleDeletePrompt deletes a prompt and all its versions.
func (h *Handlers) HandleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeletePrompt(r.Context(), r.PathValue("name")); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetPromptTag sets a tag on a prompt.
func (h *Handlers) HandleSetPromptTag(w http.ResponseWriter, r *http.Request) {
	var req model.SetTagRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.SetPromptTag(r.Context(), r.PathValue("name"), req.Key, req.Value); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeletePromptTag removes a tag from a prompt.
func (h *Handlers) HandleDeletePromptTag(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeletePromptTag(r.Context(), r.PathValue("name"), r.PathValue("key")); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreatePromptVersion creates a new version of a prompt.
func (h *Handlers) HandleCreatePromptVersion(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePromptVersionRequest
	if !h.decode(w, r, &req) {
		return
	}
	pv, err := h.registry.CreatePromptVersion(r.Context(), r.PathValue("name"), req.Template, req.Description, req.Tags, req.ResponseFormat)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, pv)
}

// HandleGetPromptVersion fetches one prompt version. The version path
// segment may be an integer or an alias name.
func (h *Handlers) HandleGetPromptVersion(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	pv, err := h.registry.GetPromptVersion(r.Context(), name, version)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	if pv == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "prompt version "+strconv.Quote(name)+"/"+version+" does not exist")
		return
	}
	writeJSON(w, r, http.StatusOK, pv)
}

// HandleDeletePromptVersion deletes one prompt version.
func (h *Handlers) HandleDeletePromptVersion(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeletePromptVersion(r.Context(), r.PathValue("name"), r.PathValue("version")); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetPromptVersionTag sets a tag on a prompt version.
func (h *Handlers) HandleSetPromptVersionTag(w http.ResponseWriter, r *http.Request) {
	var req model.SetTagRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.SetPromptVersionTag(r.Context(), r.PathValue("name"), r.PathValue("version"), req.Key, req.Value); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeletePromptVersionTag removes a tag from a prompt version.
func (h *Handlers) HandleDeletePromptVersionTag(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeletePromptVersionTag(r.Context(), r.PathValue("name"), r.PathValue("version"), r.PathValue("key")); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetPromptAlias points an alias at a prompt version.
func (h *Handlers) HandleSetPromptAlias(w http.ResponseWriter, r *http.Request) {
	var req model.SetAliasRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.SetPromptAlias(r.Context(), r.PathValue("name"), r.PathValue("alias"), req.Version); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetPromptVersionByAlias resolves an alias to its prompt version.
func (h *Handlers) HandleGetPromptVersionByAlias(w http.ResponseWriter, r *http.Request) {
	name, alias := r.PathValue("name"), r.PathValue("alias")
	pv, err := h.registry.GetPromptVersionByAlias(r.Context(), name, alias)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	if pv == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "alias "+strconv.Quote(alias)+" does not exist on prompt "+strconv.Quote(name))
		return
	}
	writeJSON(w, r, http.StatusOK, pv)
}

// HandleDeletePromptAlias removes an alias from a prompt.
func (h *Handlers) HandleDeletePromptAlias(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeletePromptAlias(r.Context(), r.PathValue("name"), r.PathValue("alias")); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
