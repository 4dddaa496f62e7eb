package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireAPIError unwraps the structured error body from a handler error.
func requireAPIError(t *testing.T, err error) (int, *ErrorBody) {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he, "expected echo.HTTPError")
	body, ok := he.Message.(*ErrorBody)
	require.True(t, ok, "expected structured error body")
	return he.Code, body
}

func TestListTasksHandler_Validation(t *testing.T) {
	// Only parameter validation; happy paths are covered by integration
	// tests with a real store.
	s := &Server{}

	tests := []struct {
		name   string
		query  string
		errMsg string
	}{
		{
			name:   "invalid pipeline_status",
			query:  "pipeline_status=bogus",
			errMsg: "invalid pipeline_status",
		},
		{
			name:   "invalid publish_status",
			query:  "publish_status=bogus",
			errMsg: "invalid publish_status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auto-publish/tasks?"+tt.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.listTasksHandler(c)
			require.Error(t, err)
			code, body := requireAPIError(t, err)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, CodeValidation, body.Code)
			assert.Contains(t, body.Message, tt.errMsg)
		})
	}
}

func TestGetTaskHandler_MissingID(t *testing.T) {
	s := &Server{}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auto-publish/tasks/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.getTaskHandler(c)
	require.Error(t, err)
	code, body := requireAPIError(t, err)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Message, "task id")
}
