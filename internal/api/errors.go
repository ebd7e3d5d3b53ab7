package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gownqueue/internal/blob"
	"gownqueue/internal/core"
	"gownqueue/internal/export"
	"gownqueue/internal/queue"
	"gownqueue/internal/validation"
	"gownqueue/pkg/domain"
)

// newHTTPErrorHandler maps service errors to status codes. Validation errors
// render as a field map; anything unrecognised is logged and becomes a 500.
func newHTTPErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var (
			code    int
			message interface{}
			httpErr *echo.HTTPError
			vErr    *validation.Error
		)
		switch {
		case errors.As(err, &httpErr):
			if inner, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = inner
			}
			code = httpErr.Code
			message = httpErr.Message
		case errors.As(err, &vErr):
			code = http.StatusBadRequest
			message = echo.Map{"error": "validation failed", "fields": vErr.FieldMap()}
		case errors.Is(err, export.ErrInvalidName):
			code = http.StatusBadRequest
			message = err.Error()
		case errors.Is(err, queue.ErrNotFound), errors.Is(err, domain.ErrBookingNotFound),
			errors.Is(err, blob.ErrNotFound):
			code = http.StatusNotFound
			message = err.Error()
		case errors.Is(err, queue.ErrNotErrored), errors.Is(err, queue.ErrNotRetryable),
			errors.Is(err, core.ErrOffline):
			code = http.StatusConflict
			message = err.Error()
		case errors.Is(err, core.ErrExportDisabled), errors.Is(err, queue.ErrClosed):
			code = http.StatusServiceUnavailable
			message = err.Error()
		default:
			code = http.StatusInternalServerError
			message = http.StatusText(code)
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, message)
		}
		if err != nil {
			logger.Error("write error response", zap.Error(err))
		}
	}
}
