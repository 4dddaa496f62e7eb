package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore map[string]*ent.Pipeline

func (s fakeStore) Get(_ context.Context, id string) (*ent.Pipeline, error) {
	if p, ok := s[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("pipeline %s not found", id)
}

const paramSchema = `{
	"type": "object",
	"properties": {
		"topic": {"type": "string"},
		"length_seconds": {"type": "integer", "minimum": 1}
	},
	"required": ["topic"]
}`

func newTestRegistry(t *testing.T) (*Registry, *StubInvoker) {
	t.Helper()
	store := fakeStore{
		"short-form-v1": {
			ID:              "short-form-v1",
			DisplayName:     "Short Form Generator",
			TypeTag:         "stub",
			ParameterSchema: paramSchema,
		},
		"freeform": {
			ID:          "freeform",
			DisplayName: "Freeform",
			TypeTag:     "stub",
		},
		"unroutable": {
			ID:      "unroutable",
			TypeTag: "carrier-pigeon",
		},
	}
	registry := NewRegistry(store)
	stub := NewStubInvoker()
	registry.RegisterInvoker("stub", stub)
	return registry, stub
}

func TestCompileSchema(t *testing.T) {
	t.Run("valid schema compiles", func(t *testing.T) {
		schema, err := CompileSchema(paramSchema)
		require.NoError(t, err)
		assert.NotNil(t, schema)
	})

	t.Run("empty schema compiles to nil", func(t *testing.T) {
		schema, err := CompileSchema("  ")
		require.NoError(t, err)
		assert.Nil(t, schema)
	})

	t.Run("malformed JSON rejected", func(t *testing.T) {
		_, err := CompileSchema("{not json")
		assert.Error(t, err)
	})

	t.Run("invalid schema rejected", func(t *testing.T) {
		_, err := CompileSchema(`{"type": 12}`)
		assert.Error(t, err)
	})
}

func TestRegistry_Invoke(t *testing.T) {
	ctx := context.Background()

	t.Run("valid params reach the invoker", func(t *testing.T) {
		registry, stub := newTestRegistry(t)
		result, err := registry.Invoke(ctx, "short-form-v1", map[string]any{
			"topic":          "space",
			"length_seconds": 45,
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
		require.Len(t, stub.Invocations(), 1)
		assert.Equal(t, "short-form-v1", stub.Invocations()[0].PipelineID)
	})

	t.Run("schema rejection is ErrInvalidParams", func(t *testing.T) {
		registry, stub := newTestRegistry(t)
		_, err := registry.Invoke(ctx, "short-form-v1", map[string]any{
			"length_seconds": 45, // missing required topic
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParams)
		assert.Empty(t, stub.Invocations(), "invalid params must never reach the invoker")
	})

	t.Run("no schema accepts anything", func(t *testing.T) {
		registry, _ := newTestRegistry(t)
		result, err := registry.Invoke(ctx, "freeform", map[string]any{"whatever": true})
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("unknown pipeline fails", func(t *testing.T) {
		registry, _ := newTestRegistry(t)
		_, err := registry.Invoke(ctx, "missing", nil)
		assert.Error(t, err)
	})

	t.Run("unregistered type tag fails", func(t *testing.T) {
		registry, _ := newTestRegistry(t)
		_, err := registry.Invoke(ctx, "unroutable", nil)
		assert.ErrorIs(t, err, ErrUnknownInvoker)
	})

	t.Run("scripted failure surfaces as result", func(t *testing.T) {
		registry, stub := newTestRegistry(t)
		stub.Script("freeform", &models.PipelineResult{
			Success:      false,
			ErrorMessage: "render farm on fire",
			Retryable:    true,
		})
		result, err := registry.Invoke(ctx, "freeform", nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.True(t, result.Retryable)
		assert.Equal(t, "render farm on fire", result.ErrorMessage)
	})

	t.Run("invoker error is folded into the result", func(t *testing.T) {
		store := fakeStore{"broken": {ID: "broken", TypeTag: "boom"}}
		registry := NewRegistry(store)
		registry.RegisterInvoker("boom", invokerFunc(func(context.Context, *ent.Pipeline, map[string]any) (*models.PipelineResult, error) {
			return nil, errors.New("connection reset")
		}))
		result, err := registry.Invoke(ctx, "broken", nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.True(t, result.Retryable)
		assert.Contains(t, result.ErrorMessage, "connection reset")
	})
}

type invokerFunc func(context.Context, *ent.Pipeline, map[string]any) (*models.PipelineResult, error)

func (f invokerFunc) Invoke(ctx context.Context, desc *ent.Pipeline, params map[string]any) (*models.PipelineResult, error) {
	return f(ctx, desc, params)
}
