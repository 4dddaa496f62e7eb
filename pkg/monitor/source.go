// Package monitor polls external platform sources for new content and fires
// monitor-triggered publish configs. One goroutine per active monitor; the
// runner reconciles pollers against the database.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/services"
)

const maxFeedBodySize = 4 << 20 // 4MB

// Source fetches the latest content for one monitor. Implementations must
// be safe for concurrent use across pollers.
type Source interface {
	FetchLatest(ctx context.Context, m *ent.Monitor) ([]services.DiscoveredContent, error)
}

// feedItem is one entry in a source feed response.
type feedItem struct {
	ContentID string         `json:"content_id"`
	Title     string         `json:"title"`
	URL       string         `json:"url"`
	Payload   map[string]any `json:"payload"`
}

type feedResponse struct {
	Items []feedItem `json:"items"`
}

// HTTPSource fetches content feeds from the source aggregator service.
// Responses are cached briefly so a reconcile-triggered re-poll does not
// hammer the aggregator.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
}

// NewHTTPSource creates a source against the aggregator base URL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   cache.New(30*time.Second, 2*time.Minute),
	}
}

// FetchLatest returns the monitor's current feed, newest first.
func (s *HTTPSource) FetchLatest(ctx context.Context, m *ent.Monitor) ([]services.DiscoveredContent, error) {
	if cached, ok := s.cache.Get(m.ID); ok {
		return cached.([]services.DiscoveredContent), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL(m), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed request returned %d", resp.StatusCode)
	}

	var feed feedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBodySize)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}

	items := make([]services.DiscoveredContent, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.ContentID == "" {
			continue
		}
		items = append(items, services.DiscoveredContent{
			ContentID: item.ContentID,
			Title:     item.Title,
			URL:       item.URL,
			Payload:   item.Payload,
		})
	}

	s.cache.Set(m.ID, items, cache.DefaultExpiration)
	return items, nil
}

// feedURL builds the aggregator endpoint for one monitor. A feed_url in the
// monitor config overrides the conventional path.
func (s *HTTPSource) feedURL(m *ent.Monitor) string {
	if override, ok := m.Config["feed_url"].(string); ok && override != "" {
		return override
	}
	return fmt.Sprintf("%s/feeds/%s/%s/%s",
		s.baseURL,
		url.PathEscape(m.Platform),
		url.PathEscape(string(m.MonitorType)),
		url.PathEscape(m.TargetIdentifier))
}
