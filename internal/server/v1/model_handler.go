package v1

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/registry"
)

type ModelHandler struct {
	registry *registry.Registry
}

func NewModelHandler(reg *registry.Registry) *ModelHandler {
	return &ModelHandler{registry: reg}
}

// modelEntry is the /v1/models list item. OwnedBy is the primary (first
// candidate) provider.
type modelEntry struct {
	ID            string   `json:"id"`
	Object        string   `json:"object"`
	OwnedBy       string   `json:"owned_by"`
	Providers     []string `json:"providers"`
	ContextLength int      `json:"context_length"`
}

func (h *ModelHandler) ListModels(c *gin.Context) {
	specs := h.registry.List()

	entries := make([]modelEntry, 0, len(specs))
	for _, spec := range specs {
		providers := make([]string, 0, len(spec.Candidates))
		for _, cand := range spec.Candidates {
			providers = append(providers, string(cand.Provider))
		}
		entries = append(entries, modelEntry{
			ID:            spec.LogicalID,
			Object:        "model",
			OwnedBy:       providers[0],
			Providers:     providers,
			ContextLength: spec.Candidates[0].ContextLength,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   entries,
	})
}
