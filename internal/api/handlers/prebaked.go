package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/music-arena/music-arena/internal/arena"
)

type PrebakedHandler struct {
	prompts map[string]*arena.DetailedPrompt
}

func NewPrebakedHandler(prompts map[string]*arena.DetailedPrompt) *PrebakedHandler {
	if prompts == nil {
		prompts = map[string]*arena.DetailedPrompt{}
	}
	return &PrebakedHandler{prompts: prompts}
}

// ListPrebaked returns the curated prompt catalog keyed by seedless
// checksum. The frontend offers these as one-click prompts.
func (h *PrebakedHandler) ListPrebaked(c *gin.Context) {
	c.JSON(http.StatusOK, h.prompts)
}
