package models

import "time"

// PublishMetadata is one fully resolved publish bundle for a (task, account)
// pair: base pipeline metadata with the variant overlay already applied.
type PublishMetadata struct {
	AccountID    string   `json:"account_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	ThumbnailRef string   `json:"thumbnail_ref,omitempty"`
	Privacy      string   `json:"privacy,omitempty"`
	VideoRef     string   `json:"video_ref"`
	VariantName  string   `json:"variant_name,omitempty"`
}

// CreatePublishRequest creates one publish task. ScheduledTime in the past
// (or zero) means fire as soon as the dispatcher sees it.
type CreatePublishRequest struct {
	TaskID        string
	AccountID     string
	Title         string
	Description   string
	Tags          []string
	ThumbnailRef  string
	Privacy       string
	VideoRef      string
	ScheduledTime time.Time
	IsScheduled   bool
	VariantName   string
	RetriedFromID string
	RetryCount    int
}

// PublishListParams filters publish task listings.
type PublishListParams struct {
	TaskID    string
	AccountID string
	Status    string
	Page      int
	PageSize  int
}

// QueuedPublish is one entry in the publish scheduler queue view.
type QueuedPublish struct {
	PublishID     string    `json:"publish_id"`
	TaskID        string    `json:"task_id"`
	AccountID     string    `json:"account_id"`
	Title         string    `json:"title"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Status        string    `json:"status"`
	RetryCount    int       `json:"retry_count"`
}
