package server

import (
	"net/http"
	"strconv"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// HandleLinkPromptsToTrace associates prompt versions with a trace.
func (h *Handlers) HandleLinkPromptsToTrace(w http.ResponseWriter, r *http.Request) {
	var req model.LinkPromptsRequest
	if !h.decode(w, r, &req) {
		return
	}
	versions := make([]model.PromptVersion, 0, len(req.Prompts))
	for _, p := range req.Prompts {
		v, err := strconv.Atoi(p.Version)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "prompt version must be an integer, got "+strconv.Quote(p.Version))
			return
		}
		versions = append(versions, model.PromptVersion{Name: p.Name, Version: v})
	}
	if err := h.registry.LinkPromptsToTrace(r.Context(), versions, r.PathValue("trace_id")); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLinkPromptToRun associates prompt versions with a tracking run.
func (h *Handlers) HandleLinkPromptToRun(w http.ResponseWriter, r *http.Request) {
	var req model.LinkPromptsRequest
	if !h.decode(w, r, &req) {
		return
	}
	for _, p := range req.Prompts {
		if err := h.registry.LinkPromptVersionToRun(r.Context(), p.Name, p.Version, r.PathValue("run_id")); err != nil {
			writeRegistryError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLinkPromptToModel associates prompt versions with a logged model.
func (h *Handlers) HandleLinkPromptToModel(w http.ResponseWriter, r *http.Request) {
	var req model.LinkPromptsRequest
	if !h.decode(w, r, &req) {
		return
	}
	for _, p := range req.Prompts {
		if err := h.registry.LinkPromptVersionToModel(r.Context(), p.Name, p.Version, r.PathValue("model_id")); err != nil {
			writeRegistryError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
