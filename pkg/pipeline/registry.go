package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/models"
)

// DescriptorStore resolves pipeline descriptors by id.
// pkg/services.PipelineService satisfies this.
type DescriptorStore interface {
	Get(ctx context.Context, pipelineID string) (*ent.Pipeline, error)
}

// Registry validates parameters and routes invocations to the invoker
// registered for each descriptor's type tag.
type Registry struct {
	store DescriptorStore

	mu       sync.RWMutex
	invokers map[string]Invoker
}

// NewRegistry creates a Registry over the given descriptor store.
func NewRegistry(store DescriptorStore) *Registry {
	if store == nil {
		panic("Registry requires a non-nil DescriptorStore")
	}
	return &Registry{
		store:    store,
		invokers: make(map[string]Invoker),
	}
}

// RegisterInvoker binds an invoker to a type tag, replacing any previous
// binding.
func (r *Registry) RegisterInvoker(typeTag string, invoker Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[typeTag] = invoker
}

func (r *Registry) invokerFor(typeTag string) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[typeTag]
	return inv, ok
}

// Invoke resolves the descriptor, validates params against its parameter
// schema, and runs the implementation. Schema rejections return
// ErrInvalidParams and must not be retried. Implementation errors are
// folded into the result with a Retryable hint so the caller's retry
// policy can act on them uniformly.
func (r *Registry) Invoke(ctx context.Context, pipelineID string, params map[string]any) (*models.PipelineResult, error) {
	desc, err := r.store.Get(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pipeline %s: %w", pipelineID, err)
	}

	if err := ValidateParams(desc.ParameterSchema, params); err != nil {
		return nil, err
	}

	invoker, ok := r.invokerFor(desc.TypeTag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInvoker, desc.TypeTag)
	}

	result, err := invoker.Invoke(ctx, desc, params)
	if err != nil {
		slog.Error("Pipeline invocation failed",
			"pipeline_id", pipelineID,
			"type_tag", desc.TypeTag,
			"error", err)
		return &models.PipelineResult{
			Success:      false,
			ErrorMessage: err.Error(),
			Retryable:    ctx.Err() == nil, // deadline expiry is terminal
		}, nil
	}
	return result, nil
}
