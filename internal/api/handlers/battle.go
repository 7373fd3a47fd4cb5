package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/music-arena/music-arena/internal/api/respond"
	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/battle"
)

// BattleHandler serves the two endpoints at the heart of the arena:
// generating a battle and recording its vote.
type BattleHandler struct {
	service *battle.Service
}

func NewBattleHandler(service *battle.Service) *BattleHandler {
	return &BattleHandler{service: service}
}

func (h *BattleHandler) GenerateBattle(c *gin.Context) {
	var req arena.BattleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, arena.NewValidationError(fmt.Sprintf("invalid battle request: %v", err)))
		return
	}
	c.Set("session_id", req.Session.UUID)

	resp, err := h.service.GenerateBattle(c.Request.Context(), &req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BattleHandler) RecordVote(c *gin.Context) {
	var req arena.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, arena.NewValidationError(fmt.Sprintf("invalid vote request: %v", err)))
		return
	}
	c.Set("session_id", req.Session.UUID)

	resp, err := h.service.RecordVote(c.Request.Context(), &req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
