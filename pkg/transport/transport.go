// Package transport abstracts the upload path between the publish scheduler
// and the uploader service. The scheduler resolves metadata and decides
// retries; the transport only moves one upload request and reports what
// happened.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTransportUnavailable reports that the uploader could not be reached at
// all. The dispatcher treats it like a retryable upload failure.
var ErrTransportUnavailable = errors.New("upload transport unavailable")

// UploadItem is one fully resolved upload: everything the uploader needs,
// nothing it has to look up.
type UploadItem struct {
	PublishID    string
	AccountID    string
	VideoRef     string
	Title        string
	Description  string
	Tags         []string
	ThumbnailRef string
	Privacy      string
}

// UploadResult reports one upload outcome. Retryable distinguishes transient
// platform trouble from semantic rejection: only retryable failures spawn a
// retry row.
type UploadResult struct {
	Success         bool
	Retryable       bool
	PlatformVideoID string
	PlatformURL     string
	ErrorMessage    string
	ErrorCode       string
}

// Transport performs uploads. Implementations must be safe for concurrent
// use; the dispatcher fans out across a worker pool.
type Transport interface {
	// Upload performs one upload and blocks until it finishes or ctx expires.
	// A non-nil error means the transport itself broke; upload outcomes,
	// including failures, come back in the result.
	Upload(ctx context.Context, item UploadItem) (*UploadResult, error)

	// Close releases transport resources.
	Close() error
}

// callDeadline bounds a per-upload call, deferring to an earlier ctx deadline.
func callDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
