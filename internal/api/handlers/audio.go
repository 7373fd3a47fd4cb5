package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/music-arena/music-arena/internal/api/respond"
	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/store"
)

type AudioHandler struct {
	blobs store.BlobStore
}

func NewAudioHandler(blobs store.BlobStore) *AudioHandler {
	return &AudioHandler{blobs: blobs}
}

// GetAudio streams a stored battle clip. Only used when the blob store
// serves through the gateway; bucket-backed deployments hand out bucket URLs
// directly.
func (h *AudioHandler) GetAudio(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		respond.Error(c, arena.NewValidationError("missing audio key"))
		return
	}

	data, err := h.blobs.Get(c.Request.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(c, arena.NewNotFound(fmt.Sprintf("audio %s not found", key)))
		return
	}
	if err != nil {
		respond.Error(c, arena.NewInternalError(fmt.Sprintf("load audio: %v", err)))
		return
	}

	// Clips never change once stored.
	c.Header("Cache-Control", "public, max-age=86400, immutable")
	c.Data(http.StatusOK, audioContentType(key), data)
}

func audioContentType(key string) string {
	switch path.Ext(key) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
