// Package pipeline resolves registered pipeline descriptors and invokes
// their implementations. Descriptors are persisted by pkg/services; this
// package owns parameter validation and the invocation fan-in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Invoker executes one pipeline implementation kind.
type Invoker interface {
	Invoke(ctx context.Context, desc *ent.Pipeline, params map[string]any) (*models.PipelineResult, error)
}

// ErrInvalidParams marks parameters rejected by the descriptor's schema.
// Schema rejections are caller mistakes and are never retried.
var ErrInvalidParams = errors.New("pipeline parameters failed schema validation")

// ErrUnknownInvoker marks a descriptor whose type_tag has no registered
// invoker.
var ErrUnknownInvoker = errors.New("no invoker registered for pipeline type")

// CompileSchema compiles a JSON Schema document. An empty document means
// the pipeline accepts any parameters and compiles to nil.
func CompileSchema(schemaText string) (*jsonschema.Schema, error) {
	if strings.TrimSpace(schemaText) == "" {
		return nil, nil
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaText))
	if err != nil {
		return nil, fmt.Errorf("schema is not valid JSON: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema does not compile: %w", err)
	}
	return schema, nil
}

// ValidateParams checks params against a descriptor's parameter schema.
func ValidateParams(schemaText string, params map[string]any) error {
	schema, err := CompileSchema(schemaText)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	if schema == nil {
		return nil
	}
	instance := map[string]any{}
	if params != nil {
		instance = params
	}
	if err := schema.Validate(normalizeInstance(instance)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	return nil
}

// normalizeInstance rewrites Go-typed values into the shapes the validator
// expects (JSON numbers decode as float64; params built in process may
// carry ints).
func normalizeInstance(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeInstance(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeInstance(item)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
