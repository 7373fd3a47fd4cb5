// Package respond writes structured error bodies for arena endpoints.
package respond

import (
	"github.com/gin-gonic/gin"

	"github.com/music-arena/music-arena/internal/arena"
)

// Error writes err as a {code, detail} body with its mapped HTTP status.
// Anything that is not an arena error is served as an opaque 500.
func Error(c *gin.Context, err error) {
	ae := arena.AsError(err)

	// Busy servers tell clients when to come back.
	if ae.Code == arena.CodeBusy {
		c.Header("Retry-After", "1")
	}

	c.AbortWithStatusJSON(ae.Status, ae)
}
