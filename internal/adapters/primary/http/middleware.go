package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
)

// ErrorHandler renders every error as an ErrorResponse. AppErrors keep
// their mapped status; fiber errors keep theirs; anything else is a 500.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *fiber.Ctx, err error) error {
		appErr, ok := apperrors.As(err)
		if !ok {
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				appErr = apperrors.New(apperrors.ValidationError, apperrors.CodeValidationFailed, fiberErr.Message)
				appErr.HTTPStatus = fiberErr.Code
				if fiberErr.Code == fiber.StatusNotFound {
					appErr.Type = apperrors.NotFoundError
					appErr.Code = "NOT_FOUND"
				}
			} else {
				appErr = apperrors.Wrap(err, apperrors.InternalError, apperrors.CodeInternal, "internal server error")
			}
		}

		if appErr.HTTPStatus >= fiber.StatusInternalServerError {
			log.LogError(c.UserContext(), err, "Request failed", map[string]interface{}{
				"path": c.Path(),
				"code": appErr.Code,
			})
		}
		return c.Status(appErr.HTTPStatus).JSON(apperrors.NewErrorResponse(appErr))
	}
}

// RequestLogger puts the request id on the request context, logs the
// request once it is done and records its metrics.
func RequestLogger(log *logger.Logger, m *metrics.Metrics) fiber.Handler {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := c.GetRespHeader(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.Get(fiber.HeaderXRequestID)
		}
		ctx := logger.WithRequestID(logger.WithCorrelationID(c.UserContext()), requestID)
		c.SetUserContext(ctx)

		err := c.Next()
		if err != nil {
			// Let the error handler set the final status before logging.
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		duration := time.Since(start)
		status := c.Response().StatusCode()
		log.LogRequest(ctx, c.Method(), c.Path(), c.Get(fiber.HeaderUserAgent), c.IP(), status, duration)
		if m != nil {
			m.RecordHTTPRequest(c.Method(), c.Route().Path, strconv.Itoa(status), duration)
		}
		return nil
	}
}
