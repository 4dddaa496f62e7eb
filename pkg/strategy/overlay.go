package strategy

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/models"
)

// applyOverlay renders one member's publish metadata: the pipeline result's
// base fields, with the assigned variant's payload overlaid. Templates see
// the base fields plus the raw metadata map.
func applyOverlay(result *models.PipelineResult, accountID string, variant *ent.StrategyAssignment) (models.PublishMetadata, error) {
	meta := models.PublishMetadata{
		AccountID:    accountID,
		Title:        result.MetadataString("title"),
		Description:  result.MetadataString("description"),
		Tags:         result.MetadataTags(),
		ThumbnailRef: result.MetadataString("thumbnail_ref"),
		Privacy:      result.MetadataString("privacy"),
	}
	if variant == nil {
		return meta, nil
	}
	meta.VariantName = variant.VariantName

	data := map[string]any{
		"Title":       meta.Title,
		"Description": meta.Description,
		"Tags":        meta.Tags,
		"AccountID":   accountID,
		"Variant":     variant.VariantName,
		"Metadata":    result.Metadata,
	}

	if tmpl, ok := variant.Payload["title_template"].(string); ok && tmpl != "" {
		rendered, err := renderTemplate("title", tmpl, data)
		if err != nil {
			return meta, err
		}
		meta.Title = rendered
	}
	if tmpl, ok := variant.Payload["description_template"].(string); ok && tmpl != "" {
		rendered, err := renderTemplate("description", tmpl, data)
		if err != nil {
			return meta, err
		}
		meta.Description = rendered
	}
	if tags := stringSlice(variant.Payload["tags"]); len(tags) > 0 {
		meta.Tags = mergeTags(meta.Tags, tags)
	}
	if ref, ok := variant.Payload["thumbnail_ref"].(string); ok && ref != "" {
		meta.ThumbnailRef = ref
	}
	if privacy, ok := variant.Payload["privacy"].(string); ok && privacy != "" {
		meta.Privacy = privacy
	}
	return meta, nil
}

func renderTemplate(name, text string, data map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("variant %s template does not parse: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("variant %s template failed: %w", name, err)
	}
	return sb.String(), nil
}

// mergeTags appends variant tags to the base set, deduplicated, base order
// preserved.
func mergeTags(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, t := range base {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range extra {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
