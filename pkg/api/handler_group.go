package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/services"
)

// groupDetail is an account group with its member rows.
type groupDetail struct {
	Group   *ent.AccountGroup  `json:"group"`
	Members []*ent.GroupMember `json:"members"`
}

// createGroupHandler handles POST /api/v1/account-groups.
func (s *Server) createGroupHandler(c *echo.Context) error {
	var req createGroupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	group, err := s.groups.CreateGroup(c.Request().Context(), services.CreateGroupInput{
		Name:        req.Name,
		GroupType:   req.GroupType,
		Description: req.Description,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, group)
}

// listGroupsHandler handles GET /api/v1/account-groups.
func (s *Server) listGroupsHandler(c *echo.Context) error {
	groups, err := s.groups.ListGroups(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, groups)
}

// getGroupHandler handles GET /api/v1/account-groups/:id.
func (s *Server) getGroupHandler(c *echo.Context) error {
	groupID := c.Param("id")
	if groupID == "" {
		return badRequest("group id is required")
	}
	ctx := c.Request().Context()

	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return mapServiceError(err)
	}
	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, &groupDetail{Group: group, Members: members})
}

// updateGroupHandler handles PUT /api/v1/account-groups/:id.
func (s *Server) updateGroupHandler(c *echo.Context) error {
	groupID := c.Param("id")
	if groupID == "" {
		return badRequest("group id is required")
	}

	var req updateGroupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	group, err := s.groups.UpdateGroup(c.Request().Context(), groupID, services.UpdateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, group)
}

// deleteGroupHandler handles DELETE /api/v1/account-groups/:id.
func (s *Server) deleteGroupHandler(c *echo.Context) error {
	groupID := c.Param("id")
	if groupID == "" {
		return badRequest("group id is required")
	}

	if err := s.groups.DeleteGroup(c.Request().Context(), groupID); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, map[string]any{"deleted": groupID})
}

// addGroupMembersHandler handles POST /api/v1/account-groups/:id/members.
func (s *Server) addGroupMembersHandler(c *echo.Context) error {
	groupID := c.Param("id")
	if groupID == "" {
		return badRequest("group id is required")
	}

	var req addMembersRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if len(req.AccountIDs) == 0 {
		return badRequest("account_ids must not be empty")
	}

	members, err := s.groups.AddMembers(c.Request().Context(), groupID, req.AccountIDs, req.Role)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, &MembersResponse{GroupID: groupID, Added: len(members)})
}

// removeGroupMemberHandler handles DELETE /api/v1/account-groups/:id/members/:accountID.
func (s *Server) removeGroupMemberHandler(c *echo.Context) error {
	groupID := c.Param("id")
	accountID := c.Param("accountID")
	if groupID == "" || accountID == "" {
		return badRequest("group id and account id are required")
	}

	if err := s.groups.RemoveMember(c.Request().Context(), groupID, accountID); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, map[string]any{"removed": accountID})
}
