package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/models"
)

// HTTPInvoker runs pipelines exposed as HTTP endpoints: one POST to the
// descriptor's implementation_ref with the invocation payload, one JSON
// result back. The caller's context carries the per-invocation deadline.
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker creates an HTTPInvoker. The client timeout is a backstop;
// the context deadline normally fires first.
func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{
		client: &http.Client{Timeout: 35 * time.Minute},
	}
}

type httpInvocation struct {
	PipelineID string         `json:"pipeline_id"`
	Params     map[string]any `json:"params,omitempty"`
}

// Invoke POSTs the params to the implementation endpoint and decodes the
// result. Transport failures and 5xx responses are retryable; 4xx
// responses mean the request itself is bad and are not.
func (h *HTTPInvoker) Invoke(ctx context.Context, desc *ent.Pipeline, params map[string]any) (*models.PipelineResult, error) {
	body, err := json.Marshal(httpInvocation{PipelineID: desc.ID, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.ImplementationRef, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return &models.PipelineResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("pipeline endpoint unreachable: %v", err),
			Retryable:    ctx.Err() == nil,
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result models.PipelineResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("pipeline returned malformed result: %w", err)
		}
		return &result, nil
	case resp.StatusCode >= 500:
		return &models.PipelineResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("pipeline endpoint returned %d: %s", resp.StatusCode, truncate(payload, 512)),
			Retryable:    true,
		}, nil
	default:
		return &models.PipelineResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("pipeline endpoint rejected invocation with %d: %s", resp.StatusCode, truncate(payload, 512)),
			Retryable:    false,
		}, nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
