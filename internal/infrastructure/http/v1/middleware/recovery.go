// Package middleware holds the gin middleware chain of the returns API.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pharmapos/internal/core/apperror"
	"pharmapos/pkg/logger"
)

// Recovery converts a panic in a returns handler into a 500 rendered by
// ErrorHandler, so it has to be registered after it. The panic value and
// stack go to the log and the request span only.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			ctx := c.Request.Context()
			cause := fmt.Errorf("panic in %s %s: %v", c.Request.Method, c.FullPath(), rec)

			span := trace.SpanFromContext(ctx)
			span.RecordError(cause)
			span.SetStatus(codes.Error, "panic")

			logger.Error(ctx, "handler panicked",
				"panic", rec,
				"route", c.FullPath(),
				"sale_id", c.Param("saleId"),
				"stack", string(debug.Stack()),
			)

			_ = c.Error(apperror.NewInternal(cause).
				WithDetail("request_id", c.GetString("request_id")))
			c.Abort()
		}()
		c.Next()
	}
}
