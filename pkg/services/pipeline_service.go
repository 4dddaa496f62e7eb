package services

import (
	"context"
	"fmt"

	"github.com/castorhq/castor/ent"
	entpipeline "github.com/castorhq/castor/ent/pipeline"
	"github.com/castorhq/castor/pkg/models"
	"github.com/castorhq/castor/pkg/pipeline"
)

// PipelineService manages pipeline descriptor registration and lookup.
type PipelineService struct {
	client *ent.Client
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(client *ent.Client) *PipelineService {
	if client == nil {
		panic("PipelineService requires a non-nil ent client")
	}
	return &PipelineService{client: client}
}

// Register upserts a pipeline descriptor by pipeline_id.
// The parameter schema must compile as a JSON Schema.
func (s *PipelineService) Register(ctx context.Context, req models.CreatePipelineRequest) (*ent.Pipeline, error) {
	if req.PipelineID == "" {
		return nil, NewValidationError("pipeline_id", "required")
	}
	if req.DisplayName == "" {
		return nil, NewValidationError("display_name", "required")
	}
	if req.TypeTag == "" {
		return nil, NewValidationError("type_tag", "required")
	}
	if req.ImplementationRef == "" {
		return nil, NewValidationError("implementation_ref", "required")
	}
	if _, err := pipeline.CompileSchema(req.ParameterSchema); err != nil {
		return nil, NewValidationError("parameter_schema", err.Error())
	}
	status := entpipeline.StatusActive
	if req.Status != "" {
		status = entpipeline.Status(req.Status)
		if err := entpipeline.StatusValidator(status); err != nil {
			return nil, NewValidationError("status", "must be active, deprecated, or testing")
		}
	}

	existing, err := s.client.Pipeline.Query().
		Where(entpipeline.IDEQ(req.PipelineID)).
		Only(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query pipeline: %w", err)
	}

	if existing != nil {
		update := existing.Update().
			SetDisplayName(req.DisplayName).
			SetTypeTag(req.TypeTag).
			SetImplementationRef(req.ImplementationRef).
			SetParameterSchema(req.ParameterSchema).
			SetStatus(status)
		if req.SupportedPlatforms != nil {
			update.SetSupportedPlatforms(req.SupportedPlatforms)
		}
		if req.Version != "" {
			update.SetVersion(req.Version)
		}
		updated, err := update.Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to update pipeline: %w", err)
		}
		return updated, nil
	}

	create := s.client.Pipeline.Create().
		SetID(req.PipelineID).
		SetDisplayName(req.DisplayName).
		SetTypeTag(req.TypeTag).
		SetImplementationRef(req.ImplementationRef).
		SetParameterSchema(req.ParameterSchema).
		SetStatus(status)
	if req.SupportedPlatforms != nil {
		create.SetSupportedPlatforms(req.SupportedPlatforms)
	}
	if req.Version != "" {
		create.SetVersion(req.Version)
	}
	created, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return created, nil
}

// Get returns a pipeline descriptor by id.
func (s *PipelineService) Get(ctx context.Context, pipelineID string) (*ent.Pipeline, error) {
	p, err := s.client.Pipeline.Get(ctx, pipelineID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return p, nil
}

// List returns pipelines matching the filter, newest first.
func (s *PipelineService) List(ctx context.Context, filter models.PipelineFilter) ([]*ent.Pipeline, error) {
	q := s.client.Pipeline.Query()
	if filter.TypeTag != "" {
		q = q.Where(entpipeline.TypeTagEQ(filter.TypeTag))
	}
	if filter.Status != "" {
		q = q.Where(entpipeline.StatusEQ(entpipeline.Status(filter.Status)))
	}
	pipelines, err := q.Order(ent.Desc(entpipeline.FieldCreatedAt)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	if filter.Platform == "" {
		return pipelines, nil
	}
	// supported_platforms is a JSON array; filter in memory.
	filtered := pipelines[:0]
	for _, p := range pipelines {
		for _, platform := range p.SupportedPlatforms {
			if platform == filter.Platform {
				filtered = append(filtered, p)
				break
			}
		}
	}
	return filtered, nil
}

// Delete removes a pipeline descriptor. Configs referencing it keep their
// id; trigger evaluation skips configs whose pipeline no longer resolves.
func (s *PipelineService) Delete(ctx context.Context, pipelineID string) error {
	err := s.client.Pipeline.DeleteOneID(pipelineID).Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		if ent.IsConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}
	return nil
}
