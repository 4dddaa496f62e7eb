package services

import (
	"context"
	"fmt"
	"time"

	"github.com/castorhq/castor/ent"
	entstrategy "github.com/castorhq/castor/ent/strategy"
	"github.com/castorhq/castor/ent/strategyassignment"
	"github.com/google/uuid"
)

// StrategyService manages strategies and their variant assignments.
type StrategyService struct {
	client *ent.Client
}

// NewStrategyService creates a new StrategyService.
func NewStrategyService(client *ent.Client) *StrategyService {
	if client == nil {
		panic("StrategyService requires a non-nil ent client")
	}
	return &StrategyService{client: client}
}

// CreateStrategyInput holds fields for strategy creation.
type CreateStrategyInput struct {
	Name       string
	Type       string
	Parameters map[string]any
	StartDate  *time.Time
	EndDate    *time.Time
}

// Create registers a new strategy.
func (s *StrategyService) Create(ctx context.Context, in CreateStrategyInput) (*ent.Strategy, error) {
	if in.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	strategyType := entstrategy.Type(in.Type)
	if err := entstrategy.TypeValidator(strategyType); err != nil {
		return nil, NewValidationError("type", "must be ab_test, round_robin, or weighted")
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return nil, NewValidationError("end_date", "must not precede start_date")
	}

	create := s.client.Strategy.Create().
		SetID(uuid.New().String()).
		SetName(in.Name).
		SetType(strategyType)
	if in.Parameters != nil {
		create.SetParameters(in.Parameters)
	}
	if in.StartDate != nil {
		create.SetStartDate(in.StartDate.UTC())
	}
	if in.EndDate != nil {
		create.SetEndDate(in.EndDate.UTC())
	}
	created, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create strategy: %w", err)
	}
	return created, nil
}

// Get returns one strategy by id.
func (s *StrategyService) Get(ctx context.Context, strategyID string) (*ent.Strategy, error) {
	st, err := s.client.Strategy.Get(ctx, strategyID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get strategy: %w", err)
	}
	return st, nil
}

// List returns strategies, optionally restricted to active ones.
func (s *StrategyService) List(ctx context.Context, activeOnly bool) ([]*ent.Strategy, error) {
	q := s.client.Strategy.Query()
	if activeOnly {
		q = q.Where(entstrategy.ActiveEQ(true))
	}
	strategies, err := q.Order(ent.Desc(entstrategy.FieldCreatedAt)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	return strategies, nil
}

// UpdateStrategyInput holds optional strategy mutations.
type UpdateStrategyInput struct {
	Name       *string
	Parameters map[string]any
	Active     *bool
	StartDate  *time.Time
	EndDate    *time.Time
}

// Update mutates a strategy's mutable fields. Type is immutable.
func (s *StrategyService) Update(ctx context.Context, strategyID string, in UpdateStrategyInput) (*ent.Strategy, error) {
	update := s.client.Strategy.UpdateOneID(strategyID)
	if in.Name != nil {
		update.SetName(*in.Name)
	}
	if in.Parameters != nil {
		update.SetParameters(in.Parameters)
	}
	if in.Active != nil {
		update.SetActive(*in.Active)
	}
	if in.StartDate != nil {
		update.SetStartDate(in.StartDate.UTC())
	}
	if in.EndDate != nil {
		update.SetEndDate(in.EndDate.UTC())
	}
	updated, err := update.Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to update strategy: %w", err)
	}
	return updated, nil
}

// Delete removes a strategy and, via FK cascade, its assignments.
func (s *StrategyService) Delete(ctx context.Context, strategyID string) error {
	err := s.client.Strategy.DeleteOneID(strategyID).Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete strategy: %w", err)
	}
	return nil
}

// CreateAssignmentInput holds fields for one variant assignment.
type CreateAssignmentInput struct {
	GroupID     string
	VariantName string
	Payload     map[string]any
	Weight      *float64
	IsControl   bool
}

// AddAssignment attaches one variant to a (strategy, group) pair.
// An ab_test strategy admits exactly one control variant per group.
func (s *StrategyService) AddAssignment(ctx context.Context, strategyID string, in CreateAssignmentInput) (*ent.StrategyAssignment, error) {
	if in.GroupID == "" {
		return nil, NewValidationError("group_id", "required")
	}
	if in.VariantName == "" {
		return nil, NewValidationError("variant_name", "required")
	}
	if in.Weight != nil && *in.Weight < 0 {
		return nil, NewValidationError("weight", "must not be negative")
	}
	strategy, err := s.Get(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if in.IsControl && strategy.Type == entstrategy.TypeAbTest {
		n, err := s.client.StrategyAssignment.Query().
			Where(
				strategyassignment.StrategyIDEQ(strategyID),
				strategyassignment.GroupIDEQ(in.GroupID),
				strategyassignment.IsControlEQ(true),
			).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count control variants: %w", err)
		}
		if n > 0 {
			return nil, NewValidationError("is_control", "group already has a control variant")
		}
	}

	create := s.client.StrategyAssignment.Create().
		SetID(uuid.New().String()).
		SetStrategyID(strategyID).
		SetGroupID(in.GroupID).
		SetVariantName(in.VariantName).
		SetIsControl(in.IsControl)
	if in.Payload != nil {
		create.SetPayload(in.Payload)
	}
	if in.Weight != nil {
		create.SetWeight(*in.Weight)
	}
	created, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}
	return created, nil
}

// ListAssignments returns a strategy's assignments ordered by variant name,
// optionally restricted to one group.
func (s *StrategyService) ListAssignments(ctx context.Context, strategyID, groupID string) ([]*ent.StrategyAssignment, error) {
	q := s.client.StrategyAssignment.Query().
		Where(strategyassignment.StrategyIDEQ(strategyID))
	if groupID != "" {
		q = q.Where(strategyassignment.GroupIDEQ(groupID))
	}
	assignments, err := q.Order(ent.Asc(strategyassignment.FieldVariantName)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return assignments, nil
}

// RemoveAssignment deletes one variant assignment.
func (s *StrategyService) RemoveAssignment(ctx context.Context, strategyID, assignmentID string) error {
	n, err := s.client.StrategyAssignment.Delete().
		Where(
			strategyassignment.IDEQ(assignmentID),
			strategyassignment.StrategyIDEQ(strategyID),
		).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove assignment: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveFor returns the strategy referenced by a config when it is active
// and inside its date window, with assignments for the group preloaded.
// A nil strategy with nil error means no strategy applies.
func (s *StrategyService) ActiveFor(ctx context.Context, strategyID, groupID string, now time.Time) (*ent.Strategy, []*ent.StrategyAssignment, error) {
	if strategyID == "" {
		return nil, nil, nil
	}
	strategy, err := s.Get(ctx, strategyID)
	if err != nil {
		return nil, nil, err
	}
	if !strategy.Active {
		return nil, nil, nil
	}
	now = now.UTC()
	if strategy.StartDate != nil && now.Before(*strategy.StartDate) {
		return nil, nil, nil
	}
	if strategy.EndDate != nil && now.After(*strategy.EndDate) {
		return nil, nil, nil
	}
	assignments, err := s.ListAssignments(ctx, strategyID, groupID)
	if err != nil {
		return nil, nil, err
	}
	return strategy, assignments, nil
}
