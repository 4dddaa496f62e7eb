package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/models"
)

// StubInvocation records one call seen by a StubInvoker.
type StubInvocation struct {
	PipelineID string
	Params     map[string]any
	At         time.Time
}

// StubInvoker runs pipelines entirely in process. With no script it
// returns a generic successful result; scripted results are consumed in
// FIFO order per pipeline. Mock mode and tests run on it.
type StubInvoker struct {
	mu          sync.Mutex
	scripted    map[string][]*models.PipelineResult
	invocations []StubInvocation
	delay       time.Duration
}

// NewStubInvoker creates an empty StubInvoker.
func NewStubInvoker() *StubInvoker {
	return &StubInvoker{scripted: make(map[string][]*models.PipelineResult)}
}

// Script queues results for a pipeline, consumed one per invocation.
func (s *StubInvoker) Script(pipelineID string, results ...*models.PipelineResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripted[pipelineID] = append(s.scripted[pipelineID], results...)
}

// SetDelay makes every invocation sleep, for deadline tests.
func (s *StubInvoker) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Invocations returns a copy of the recorded calls.
func (s *StubInvoker) Invocations() []StubInvocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubInvocation, len(s.invocations))
	copy(out, s.invocations)
	return out
}

// Invoke pops the next scripted result or synthesizes a success whose
// artifacts carry a stub video_ref.
func (s *StubInvoker) Invoke(ctx context.Context, desc *ent.Pipeline, params map[string]any) (*models.PipelineResult, error) {
	s.mu.Lock()
	s.invocations = append(s.invocations, StubInvocation{
		PipelineID: desc.ID,
		Params:     params,
		At:         time.Now().UTC(),
	})
	var result *models.PipelineResult
	if queue := s.scripted[desc.ID]; len(queue) > 0 {
		result = queue[0]
		s.scripted[desc.ID] = queue[1:]
	}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if result != nil {
		return result, nil
	}
	return &models.PipelineResult{
		Success:   true,
		Artifacts: map[string]string{"video_ref": "stub://" + desc.ID},
		Metadata: map[string]any{
			"title":       "Stub render of " + desc.DisplayName,
			"description": "",
			"tags":        []any{},
		},
	}, nil
}
