package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/pkg/api"
)

// ErrorHandler serializes handler errors into the canonical {"error": msg}
// body. Provider error bodies never cross this boundary verbatim; only the
// normalized message does.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var ge *api.GatewayError
		if errors.As(err, &ge) {
			if ge.Log != nil {
				logger.Error("request failed",
					zap.String("request_id", GetRequestID(c)),
					zap.Int("status", ge.Status),
					zap.String("kind", string(ge.Kind)),
					zap.Error(ge.Log),
				)
			}
			c.JSON(ge.Status, api.ErrorBody{Error: ge.Message})
			c.Abort()
			return
		}

		logger.Error("unhandled error",
			zap.String("request_id", GetRequestID(c)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.ErrorBody{Error: "An unexpected error occurred."})
		c.Abort()
	}
}
