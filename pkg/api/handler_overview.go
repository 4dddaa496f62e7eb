package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// overviewHandler handles GET /api/v1/overview.
func (s *Server) overviewHandler(c *echo.Context) error {
	overview, err := s.overview.Build(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, overview)
}
