// Package sysserve is the HTTP face of one generation system. Every system
// variant runs this server on its assigned port; the gateway is its only
// intended caller.
package sysserve

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/music-arena/music-arena/internal/api/middleware"
	"github.com/music-arena/music-arena/internal/api/respond"
	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/batch"
	"github.com/music-arena/music-arena/internal/system"
)

// generateTimeout bounds one generate request server-side, queue wait and
// model warm-up included. The gateway's own budget is longer.
const generateTimeout = 150 * time.Second

type generateResponse struct {
	AudioB64   string                 `json:"audio_b64"`
	Format     string                 `json:"format,omitempty"`
	SampleRate int                    `json:"sample_rate"`
	Lyrics     string                 `json:"lyrics,omitempty"`
	Metadata   arena.GenerateMetadata `json:"metadata"`
}

type supportResponse struct {
	Support string `json:"support"`
}

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	System string `json:"system"`
}

// Handler serves one model behind the batcher.
type Handler struct {
	key     arena.SystemKey
	model   system.Model
	batcher *batch.Batcher
}

// NewHandler creates the handler for a system server.
func NewHandler(key arena.SystemKey, model system.Model, batcher *batch.Batcher) *Handler {
	return &Handler{
		key:     key,
		model:   model,
		batcher: batcher,
	}
}

// NewRouter builds the system server's route table.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()

	// Recovery middleware (must be first)
	router.Use(middleware.RecoverWithSentry())

	// Sentry middleware for error tracking
	router.Use(middleware.SentryMiddleware())

	// Request tracking and structured logging
	router.Use(middleware.RequestTracking())

	router.GET("/health", h.Health)
	router.POST("/generate", h.Generate)
	router.POST("/prompt_support", h.PromptSupport)

	return router
}

// Health reports readiness. With ?warm=1 it also kicks off model warm-up,
// so orchestration can preload systems before the first battle arrives.
func (h *Handler) Health(c *gin.Context) {
	if c.Query("warm") == "1" {
		h.batcher.EnsureWarm()
	}

	state := h.batcher.State()
	body := healthResponse{
		Status: "ok",
		State:  state.String(),
		System: h.key.String(),
	}
	if state != batch.StateReady {
		body.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// Generate renders one prompt through the batcher and returns the encoded
// clip.
func (h *Handler) Generate(c *gin.Context) {
	var prompt arena.DetailedPrompt
	if err := c.ShouldBindJSON(&prompt); err != nil {
		respond.Error(c, arena.NewValidationError(fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	if err := prompt.Validate(); err != nil {
		respond.Error(c, arena.NewValidationError(err.Error()))
		return
	}

	if support := h.model.PromptSupport(&prompt); support != arena.PromptSupported {
		respond.Error(c, arena.NewUnsupportedPrompt(fmt.Sprintf("prompt not supported: %s", support)))
		return
	}

	seed, err := promptSeed(&prompt)
	if err != nil {
		respond.Error(c, arena.NewInternalError(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), generateTimeout)
	defer cancel()

	res := h.batcher.Submit(ctx, &prompt, seed)
	if res.Err != nil {
		respond.Error(c, res.Err)
		return
	}

	c.JSON(http.StatusOK, generateResponse{
		AudioB64:   base64.StdEncoding.EncodeToString(res.Output.Audio),
		Format:     res.Output.Format,
		SampleRate: res.Output.SampleRate,
		Lyrics:     res.Output.Lyrics,
		Metadata:   res.Meta,
	})
}

// PromptSupport answers whether this system can render the prompt without
// generating anything.
func (h *Handler) PromptSupport(c *gin.Context) {
	var prompt arena.DetailedPrompt
	if err := c.ShouldBindJSON(&prompt); err != nil {
		respond.Error(c, arena.NewValidationError(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	c.JSON(http.StatusOK, supportResponse{
		Support: string(h.model.PromptSupport(&prompt)),
	})
}

// promptSeed uses the caller's seed when present so paired generations stay
// comparable, and draws a fresh one otherwise.
func promptSeed(prompt *arena.DetailedPrompt) (uint32, error) {
	if prompt.Seed != nil {
		return *prompt.Seed, nil
	}
	return arena.RandomSeed()
}
