package middleware

import (
	"context"
	"errors"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/apperrors"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/GoPolymarket/autopilot/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
)

// ErrorHandler renders the last error a handler attached as an AppError body.
// Store, catalog and scheduler errors are classified by ClassifyError.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := ClassifyError(c.Errors.Last().Err)
		fields := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"code", appErr.Type,
			"status", appErr.HTTPStatus,
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, "item_id", id)
		}
		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "admin request failed", fields...)
		} else {
			logger.Warn(appErr.Message, fields...)
		}
		c.JSON(appErr.HTTPStatus, appErr)
	}
}

// ClassifyError maps an error onto the admin API taxonomy.
func ClassifyError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, model.ErrNotFound):
		return apperrors.New(apperrors.ErrNotFound, err.Error(), err)
	case errors.Is(err, service.ErrInvalid):
		return apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err)
	case errors.Is(err, service.ErrDeleted),
		errors.Is(err, service.ErrAlreadyRunning),
		errors.Is(err, service.ErrNotRunning),
		errors.Is(err, service.ErrCycleInProgress):
		return apperrors.NewConflict(err.Error(), err)
	case errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewUpstream(err.Error(), err)
	default:
		return apperrors.New(apperrors.ErrInternal, err.Error(), err)
	}
}
