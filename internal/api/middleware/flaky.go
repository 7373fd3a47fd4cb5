package middleware

import (
	"math/rand"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/logger"
)

// Flaky fails the given fraction of requests with an injected 500 so
// frontend error handling can be exercised against a live gateway. A rate
// of 0 disables injection entirely.
func Flaky(rate float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rate > 0 && rand.Float64() < rate {
			logger.Warn("Injected failure", logger.Fields{
				"request_id": c.GetString("request_id"),
				"path":       c.Request.URL.Path,
				"rate":       rate,
			})
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":   arena.CodeInternal,
				"detail": "injected failure",
			})
			return
		}
		c.Next()
	}
}
