package middleware

import (
	"math"
	"net/http"
	"strconv"

	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error a handler attached with c.Error. BaseErrors
// keep their status and meta; anything else is an internal error.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		be, ok := errutil.As(last.Err)
		if !ok {
			zap.L().Error("unhandled request error",
				zap.String("path", c.FullPath()),
				zap.Error(last.Err),
			)
			be = errutil.BaseError{Code: errutil.StatusInternal, Message: "internal error"}
		}

		if be.Code.HTTPStatus() >= http.StatusInternalServerError {
			zap.L().Error("request failed",
				zap.String("path", c.FullPath()),
				zap.String("code", string(be.Code)),
				zap.Error(last.Err),
			)
		}

		if be.RetryAfter > 0 {
			c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(be.RetryAfter.Seconds())), 10))
		}
		c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
	}
}
