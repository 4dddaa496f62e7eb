package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/pkg/services"
)

// Machine-readable error codes carried in the response envelope.
const (
	CodeValidation    = "validation_error"
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeAlreadyExists = "already_exists"
	CodeInternal      = "internal_error"
)

// apiError builds an echo.HTTPError whose message is a structured ErrorBody.
// The central error handler serializes it into the response envelope.
func apiError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, &ErrorBody{
		Code:      code,
		Message:   message,
		RetryAble: retryAble(code),
	})
}

// retryAble marks codes a client may safely retry after a backoff.
func retryAble(code string) bool {
	return code == CodeConflict || code == CodeInternal
}

// badRequest is the common validation failure response.
func badRequest(message string) *echo.HTTPError {
	return apiError(http.StatusBadRequest, CodeValidation, message)
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return badRequest(validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return apiError(http.StatusNotFound, CodeNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return apiError(http.StatusConflict, CodeAlreadyExists, "resource already exists")
	}
	if errors.Is(err, services.ErrConflict) {
		return apiError(http.StatusConflict, CodeConflict, err.Error())
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return badRequest(err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return apiError(http.StatusInternalServerError, CodeInternal, "internal server error")
}

// httpErrorHandler renders every error as a response envelope. Handlers
// return apiError/mapServiceError results; anything else becomes a 500.
func httpErrorHandler(c *echo.Context, err error) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := &ErrorBody{Code: CodeInternal, Message: "internal server error", RetryAble: true}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch msg := he.Message.(type) {
		case *ErrorBody:
			body = msg
		case string:
			body = &ErrorBody{Code: codeForStatus(he.Code), Message: msg}
			body.RetryAble = retryAble(body.Code)
		default:
			body = &ErrorBody{Code: codeForStatus(he.Code), Message: fmt.Sprintf("%v", msg)}
			body.RetryAble = retryAble(body.Code)
		}
	} else {
		slog.Error("Unhandled request error", "error", err, "path", c.Request().URL.Path)
	}

	if writeErr := c.JSON(status, &Envelope{OK: false, Error: body}); writeErr != nil {
		slog.Error("Failed to write error response", "error", writeErr)
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	default:
		return CodeInternal
	}
}
