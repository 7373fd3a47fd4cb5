package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/registry"
)

type SystemsHandler struct {
	registry *registry.Registry
}

func NewSystemsHandler(reg *registry.Registry) *SystemsHandler {
	return &SystemsHandler{registry: reg}
}

// ListSystems returns the catalog as [system_tag, variant_tag] pairs in
// lexicographic order. With ?detail=1 it returns the full public metadata
// instead.
func (h *SystemsHandler) ListSystems(c *gin.Context) {
	if c.Query("detail") == "1" {
		entries := h.registry.Entries()
		out := make([]arena.SystemMetadata, 0, len(entries))
		for _, entry := range entries {
			out = append(out, entry.Metadata)
		}
		c.JSON(http.StatusOK, out)
		return
	}

	keys := h.registry.All()
	pairs := make([][2]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, [2]string{key.SystemTag, key.VariantTag})
	}
	c.JSON(http.StatusOK, pairs)
}
