package services

import (
	"context"
	"fmt"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/account"
	"github.com/google/uuid"
)

// AccountService manages account identities and activation flags.
// Accounts are external entities; the core stores only what the upload
// transport and the ring scheduler need.
type AccountService struct {
	client *ent.Client
}

// NewAccountService creates a new AccountService.
func NewAccountService(client *ent.Client) *AccountService {
	if client == nil {
		panic("AccountService requires a non-nil ent client")
	}
	return &AccountService{client: client}
}

// CreateAccountInput holds fields for account creation.
type CreateAccountInput struct {
	AccountID   string // optional; generated when empty
	DisplayName string
	Platform    string
	ProfileRef  string
}

// Create registers a new account.
func (s *AccountService) Create(ctx context.Context, in CreateAccountInput) (*ent.Account, error) {
	if in.DisplayName == "" {
		return nil, NewValidationError("display_name", "required")
	}
	if in.ProfileRef == "" {
		return nil, NewValidationError("profile_ref", "required")
	}
	id := in.AccountID
	if id == "" {
		id = uuid.New().String()
	}

	create := s.client.Account.Create().
		SetID(id).
		SetDisplayName(in.DisplayName).
		SetProfileRef(in.ProfileRef)
	if in.Platform != "" {
		create.SetPlatform(in.Platform)
	}
	created, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// Get returns one account by id.
func (s *AccountService) Get(ctx context.Context, accountID string) (*ent.Account, error) {
	a, err := s.client.Account.Get(ctx, accountID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// List returns accounts, optionally restricted to active ones.
func (s *AccountService) List(ctx context.Context, activeOnly bool) ([]*ent.Account, error) {
	q := s.client.Account.Query()
	if activeOnly {
		q = q.Where(account.ActiveEQ(true))
	}
	accounts, err := q.Order(ent.Asc(account.FieldCreatedAt)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountInput holds optional account mutations.
type UpdateAccountInput struct {
	DisplayName *string
	ProfileRef  *string
	Active      *bool
}

// Update mutates an account's mutable fields.
func (s *AccountService) Update(ctx context.Context, accountID string, in UpdateAccountInput) (*ent.Account, error) {
	update := s.client.Account.UpdateOneID(accountID)
	if in.DisplayName != nil {
		update.SetDisplayName(*in.DisplayName)
	}
	if in.ProfileRef != nil {
		update.SetProfileRef(*in.ProfileRef)
	}
	if in.Active != nil {
		update.SetActive(*in.Active)
	}
	updated, err := update.Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return updated, nil
}
