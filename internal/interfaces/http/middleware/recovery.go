package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"z-content-ai-api/internal/interfaces/http/dto"
	apperrors "z-content-ai-api/pkg/errors"
	"z-content-ai-api/pkg/logger"
)

// Recovery Panic 恢复中间件，响应体与业务错误格式一致
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", err),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
					Code:    http.StatusInternalServerError,
					Message: apperrors.ErrInternalError.Message,
					Error:   &dto.ErrorDetail{ErrorCode: string(apperrors.CodeInternalError)},
					TraceID: c.GetString("trace_id"),
				})
			}
		}()

		c.Next()
	}
}
