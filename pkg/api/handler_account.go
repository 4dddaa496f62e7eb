package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/pkg/services"
)

// createAccountHandler handles POST /api/v1/accounts.
func (s *Server) createAccountHandler(c *echo.Context) error {
	var req createAccountRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	account, err := s.accounts.Create(c.Request().Context(), services.CreateAccountInput{
		AccountID:   req.AccountID,
		DisplayName: req.DisplayName,
		Platform:    req.Platform,
		ProfileRef:  req.ProfileRef,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, account)
}

// listAccountsHandler handles GET /api/v1/accounts.
func (s *Server) listAccountsHandler(c *echo.Context) error {
	activeOnly := c.QueryParam("active_only") == "true"

	accounts, err := s.accounts.List(c.Request().Context(), activeOnly)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, accounts)
}

// updateAccountHandler handles PUT /api/v1/accounts/:id.
func (s *Server) updateAccountHandler(c *echo.Context) error {
	accountID := c.Param("id")
	if accountID == "" {
		return badRequest("account id is required")
	}

	var req updateAccountRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	account, err := s.accounts.Update(c.Request().Context(), accountID, services.UpdateAccountInput{
		DisplayName: req.DisplayName,
		ProfileRef:  req.ProfileRef,
		Active:      req.Active,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, account)
}
