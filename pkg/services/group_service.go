package services

import (
	"context"
	"fmt"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/account"
	"github.com/castorhq/castor/ent/accountgroup"
	"github.com/castorhq/castor/ent/groupmember"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// GroupService manages account groups and their memberships.
type GroupService struct {
	client *ent.Client
}

// NewGroupService creates a new GroupService.
func NewGroupService(client *ent.Client) *GroupService {
	if client == nil {
		panic("GroupService requires a non-nil ent client")
	}
	return &GroupService{client: client}
}

// MemberAccount pairs a group member row with its resolved account.
type MemberAccount struct {
	Member  *ent.GroupMember
	Account *ent.Account
}

// CreateGroupInput holds fields for group creation.
type CreateGroupInput struct {
	Name        string
	GroupType   string
	Description string
}

// CreateGroup creates a new account group.
func (s *GroupService) CreateGroup(ctx context.Context, in CreateGroupInput) (*ent.AccountGroup, error) {
	if in.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	groupType := accountgroup.GroupTypeProduction
	if in.GroupType != "" {
		groupType = accountgroup.GroupType(in.GroupType)
		if err := accountgroup.GroupTypeValidator(groupType); err != nil {
			return nil, NewValidationError("group_type", "must be production, experiment, or test")
		}
	}

	created, err := s.client.AccountGroup.Create().
		SetID(uuid.New().String()).
		SetName(in.Name).
		SetGroupType(groupType).
		SetDescription(in.Description).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return created, nil
}

// GetGroup returns one group by id.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*ent.AccountGroup, error) {
	g, err := s.client.AccountGroup.Get(ctx, groupID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// ListGroups returns all groups, newest first.
func (s *GroupService) ListGroups(ctx context.Context) ([]*ent.AccountGroup, error) {
	groups, err := s.client.AccountGroup.Query().
		Order(ent.Desc(accountgroup.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// UpdateGroupInput holds optional group mutations.
type UpdateGroupInput struct {
	Name        *string
	Description *string
	Active      *bool
}

// UpdateGroup mutates a group's mutable fields.
func (s *GroupService) UpdateGroup(ctx context.Context, groupID string, in UpdateGroupInput) (*ent.AccountGroup, error) {
	update := s.client.AccountGroup.UpdateOneID(groupID)
	if in.Name != nil {
		update.SetName(*in.Name)
	}
	if in.Description != nil {
		update.SetDescription(*in.Description)
	}
	if in.Active != nil {
		update.SetActive(*in.Active)
	}
	updated, err := update.Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to update group: %w", err)
	}
	return updated, nil
}

// DeleteGroup removes a group and, via FK cascade, its memberships.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID string) error {
	err := s.client.AccountGroup.DeleteOneID(groupID).Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		if ent.IsConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}

// AddMembers appends accounts to a group. New members receive ranks after
// the current maximum so fan-out order stays stable. Accounts already in
// the group are skipped.
func (s *GroupService) AddMembers(ctx context.Context, groupID string, accountIDs []string, role string) ([]*ent.GroupMember, error) {
	if len(accountIDs) == 0 {
		return nil, NewValidationError("account_ids", "required")
	}
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	// Verify every referenced account exists.
	found, err := s.client.Account.Query().
		Where(account.IDIn(accountIDs...)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	if len(found) != len(lo.Uniq(accountIDs)) {
		return nil, NewValidationError("account_ids", "one or more accounts do not exist")
	}

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := tx.GroupMember.Query().
		Where(groupmember.GroupIDEQ(groupID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	present := lo.SliceToMap(existing, func(m *ent.GroupMember) (string, bool) {
		return m.AccountID, true
	})
	nextRank := 0
	for _, m := range existing {
		if m.MemberRank >= nextRank {
			nextRank = m.MemberRank + 1
		}
	}

	var added []*ent.GroupMember
	for _, accountID := range lo.Uniq(accountIDs) {
		if present[accountID] {
			continue
		}
		create := tx.GroupMember.Create().
			SetID(uuid.New().String()).
			SetGroupID(groupID).
			SetAccountID(accountID).
			SetMemberRank(nextRank)
		if role != "" {
			create.SetRole(role)
		}
		member, err := create.Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to add member %s: %w", accountID, err)
		}
		added = append(added, member)
		nextRank++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit member additions: %w", err)
	}
	return added, nil
}

// RemoveMember deletes one account's membership in a group.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, accountID string) error {
	n, err := s.client.GroupMember.Delete().
		Where(
			groupmember.GroupIDEQ(groupID),
			groupmember.AccountIDEQ(accountID),
		).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMembers returns a group's members in rank order.
func (s *GroupService) ListMembers(ctx context.Context, groupID string) ([]*ent.GroupMember, error) {
	members, err := s.client.GroupMember.Query().
		Where(groupmember.GroupIDEQ(groupID)).
		Order(ent.Asc(groupmember.FieldMemberRank)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// ActiveMembers returns the group's members whose accounts are active,
// in rank order, each paired with its account row.
func (s *GroupService) ActiveMembers(ctx context.Context, groupID string) ([]MemberAccount, error) {
	members, err := s.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	accountIDs := lo.Map(members, func(m *ent.GroupMember, _ int) string {
		return m.AccountID
	})
	accounts, err := s.client.Account.Query().
		Where(
			account.IDIn(accountIDs...),
			account.ActiveEQ(true),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query member accounts: %w", err)
	}
	byID := lo.SliceToMap(accounts, func(a *ent.Account) (string, *ent.Account) {
		return a.ID, a
	})

	var result []MemberAccount
	for _, m := range members {
		if a, ok := byID[m.AccountID]; ok {
			result = append(result, MemberAccount{Member: m, Account: a})
		}
	}
	return result, nil
}
