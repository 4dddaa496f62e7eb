package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castorhq/castor/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantCode      string
		wantRetryAble bool
	}{
		{
			name:       "validation error",
			err:        services.NewValidationError("name", "is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeValidation,
		},
		{
			name:       "not found",
			err:        services.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   CodeNotFound,
		},
		{
			name:       "already exists",
			err:        services.ErrAlreadyExists,
			wantStatus: http.StatusConflict,
			wantCode:   CodeAlreadyExists,
		},
		{
			name:          "conflict is retryable",
			err:           services.ErrConflict,
			wantStatus:    http.StatusConflict,
			wantCode:      CodeConflict,
			wantRetryAble: true,
		},
		{
			name:       "invalid input",
			err:        services.ErrInvalidInput,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeValidation,
		},
		{
			name:          "unexpected error",
			err:           errors.New("boom"),
			wantStatus:    http.StatusInternalServerError,
			wantCode:      CodeInternal,
			wantRetryAble: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.wantStatus, he.Code)

			body, ok := he.Message.(*ErrorBody)
			require.True(t, ok, "expected structured error body")
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantRetryAble, body.RetryAble)
		})
	}
}

func TestHTTPErrorHandler_WritesEnvelope(t *testing.T) {
	e := echo.New()

	t.Run("structured api error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/pipelines/missing", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		httpErrorHandler(c, apiError(http.StatusNotFound, CodeNotFound, "resource not found"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var env Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.False(t, env.OK)
		require.NotNil(t, env.Error)
		assert.Equal(t, CodeNotFound, env.Error.Code)
		assert.Equal(t, "resource not found", env.Error.Message)
		assert.False(t, env.Error.RetryAble)
	})

	t.Run("plain echo error gets a code from the status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/pipelines", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		httpErrorHandler(c, echo.NewHTTPError(http.StatusBadRequest, "bad input"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var env Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.False(t, env.OK)
		require.NotNil(t, env.Error)
		assert.Equal(t, CodeValidation, env.Error.Code)
		assert.Equal(t, "bad input", env.Error.Message)
	})

	t.Run("unknown error becomes retryable 500", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/overview", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		httpErrorHandler(c, errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var env Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		require.NotNil(t, env.Error)
		assert.Equal(t, CodeInternal, env.Error.Code)
		assert.True(t, env.Error.RetryAble)
	})
}
