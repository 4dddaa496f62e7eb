package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSlotsHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "missing config_id",
			body:   `{"target_date": "2026-03-01", "start_hour": 9, "end_hour": 17}`,
			errMsg: "config_id is required",
		},
		{
			name:   "bad target_date",
			body:   `{"config_id": "cfg-1", "target_date": "March 1st", "start_hour": 9, "end_hour": 17}`,
			errMsg: "invalid target_date",
		},
		{
			name:   "RFC3339 instead of date",
			body:   `{"config_id": "cfg-1", "target_date": "2026-03-01T00:00:00Z", "start_hour": 9, "end_hour": 17}`,
			errMsg: "invalid target_date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			c, _ := postJSON(e, "/api/v1/schedule/generate-slots", tt.body)

			err := s.generateSlotsHandler(c)
			require.Error(t, err)
			code, body := requireAPIError(t, err)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, CodeValidation, body.Code)
			assert.Contains(t, body.Message, tt.errMsg)
		})
	}
}

func TestListSlotsHandler_Validation(t *testing.T) {
	s := &Server{}

	t.Run("missing config_id", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/schedule/slots", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := s.listSlotsHandler(c)
		require.Error(t, err)
		code, body := requireAPIError(t, err)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body.Message, "config_id")
	})

	t.Run("invalid date", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/schedule/slots?config_id=cfg-1&date=yesterday", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := s.listSlotsHandler(c)
		require.Error(t, err)
		code, body := requireAPIError(t, err)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body.Message, "invalid date")
	})
}
