package server

import (
	"errors"
	"net/http"

	"bluff-master/internal/game"

	"github.com/gin-gonic/gin"
)

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": message,
		"code":  code,
	})
}

// writeEngineError renders engine failures. External failures never expose
// the wrapped driver error.
func writeEngineError(c *gin.Context, err error) {
	var gerr *game.Error
	if !errors.As(err, &gerr) {
		c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if gerr.Kind == game.KindExternal {
		c.Error(err)
	}
	writeError(c, statusForKind(gerr.Kind), gerr.Code, gerr.Message)
}

func statusForKind(kind game.Kind) int {
	switch kind {
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindInvalidState:
		return http.StatusConflict
	case game.KindPermissionDenied:
		return http.StatusForbidden
	case game.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case game.KindExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
