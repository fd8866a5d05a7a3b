package api

import (
	"github.com/gin-gonic/gin"

	"github.com/forgeplatform/forge/pkg/apierr"
)

// errorHandler maps the last handler-reported error's apierr.Kind to an
// HTTP status and writes a structured body, mirroring the teacher's own
// kind-to-status error middleware rather than letting gin's default
// handling leak an internal error message to the client. A response that
// has already been written is left as it is.
func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		kind := apierr.As(err)
		c.JSON(apierr.HTTPStatus(kind), gin.H{
			"error": err.Error(),
			"kind":  string(kind),
		})
	}
}
