package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(e *echo.Echo, target, body string) (*echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestSchedulePublishHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "missing task_id",
			body:   `{"account_ids": ["acct-1"]}`,
			errMsg: "task_id is required",
		},
		{
			name:   "empty account_ids",
			body:   `{"task_id": "task-1", "account_ids": []}`,
			errMsg: "account_ids must not be empty",
		},
		{
			name:   "malformed body",
			body:   `{not json`,
			errMsg: "invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			c, _ := postJSON(e, "/api/v1/publish/schedule", tt.body)

			err := s.schedulePublishHandler(c)
			require.Error(t, err)
			code, body := requireAPIError(t, err)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, CodeValidation, body.Code)
			assert.Contains(t, body.Message, tt.errMsg)
		})
	}
}

func TestReschedulePublishHandler_MissingID(t *testing.T) {
	s := &Server{}
	e := echo.New()
	c, _ := postJSON(e, "/api/v1/publish/scheduler/reschedule/", `{"new_time": "2026-03-01T10:00:00Z"}`)

	err := s.reschedulePublishHandler(c)
	require.Error(t, err)
	code, body := requireAPIError(t, err)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Message, "publish id")
}

func TestListPublishesHandler_InvalidStatus(t *testing.T) {
	s := &Server{}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/publish/tasks?status=bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.listPublishesHandler(c)
	require.Error(t, err)
	code, body := requireAPIError(t, err)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Message, "invalid status: bogus")
}
