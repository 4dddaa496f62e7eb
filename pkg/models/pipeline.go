// Package models contains shared request/response and domain types used
// across services, the execution engine, and the API layer.
package models

import "encoding/json"

// PipelineResult is the outcome of one pipeline invocation.
// Artifacts carry produced file references (at least "video_ref");
// Metadata carries the base publish fields variant overlays render against.
type PipelineResult struct {
	Success      bool              `json:"success"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Retryable    bool              `json:"retryable,omitempty"`
}

// VideoRef returns the produced video reference, or "" if absent.
func (r *PipelineResult) VideoRef() string {
	if r == nil {
		return ""
	}
	return r.Artifacts["video_ref"]
}

// MetadataString returns a string metadata field, or "" if absent or not a string.
func (r *PipelineResult) MetadataString(key string) string {
	if r == nil {
		return ""
	}
	if v, ok := r.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetadataTags returns the base tag list from pipeline metadata.
// Accepts both []string and []any encodings (JSON round-trips produce the latter).
func (r *PipelineResult) MetadataTags() []string {
	if r == nil {
		return nil
	}
	switch v := r.Metadata["tags"].(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return nil
}

// PipelineResultFromMap decodes the stored JSON shape of a pipeline result.
// Returns an empty result when the map is nil or malformed.
func PipelineResultFromMap(raw map[string]any) *PipelineResult {
	result := &PipelineResult{}
	if raw == nil {
		return result
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return result
	}
	_ = json.Unmarshal(data, result)
	return result
}

// CreatePipelineRequest registers or updates a pipeline descriptor.
type CreatePipelineRequest struct {
	PipelineID         string   `json:"pipeline_id"`
	DisplayName        string   `json:"display_name"`
	TypeTag            string   `json:"type_tag"`
	ImplementationRef  string   `json:"implementation_ref"`
	ParameterSchema    string   `json:"parameter_schema"`
	SupportedPlatforms []string `json:"supported_platforms,omitempty"`
	Version            string   `json:"version,omitempty"`
	Status             string   `json:"status,omitempty"`
}

// PipelineFilter narrows pipeline listings.
type PipelineFilter struct {
	TypeTag  string
	Platform string
	Status   string
}
