package services

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/ent/publishtask"
	"github.com/castorhq/castor/pkg/models"
	"github.com/google/uuid"
)

// PublishService manages publish tasks: one row per (task, account) upload
// with fully resolved metadata. Status transitions are strictly monotonic;
// every retry is a new row.
type PublishService struct {
	client *ent.Client
}

// NewPublishService creates a new PublishService.
func NewPublishService(client *ent.Client) *PublishService {
	if client == nil {
		panic("PublishService requires a non-nil ent client")
	}
	return &PublishService{client: client}
}

// Create inserts one publish task in status scheduled.
func (s *PublishService) Create(ctx context.Context, req models.CreatePublishRequest) (*ent.PublishTask, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created, err := s.createInTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit publish task: %w", err)
	}
	return created, nil
}

// CreateBatch inserts a task's fan-out publish tasks and advances the
// parent to publish_status scheduled, all in one transaction.
func (s *PublishService) CreateBatch(ctx context.Context, taskID string, reqs []models.CreatePublishRequest) ([]*ent.PublishTask, error) {
	if len(reqs) == 0 {
		return nil, NewValidationError("publishes", "must not be empty")
	}

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := make([]*ent.PublishTask, 0, len(reqs))
	for _, req := range reqs {
		req.TaskID = taskID
		p, err := s.createInTx(ctx, tx, req)
		if err != nil {
			return nil, err
		}
		created = append(created, p)
	}

	_, err = tx.AutoPublishTask.UpdateOneID(taskID).
		SetPublishStatus(autopublishtask.PublishStatusScheduled).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to advance parent task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit publish batch: %w", err)
	}
	return created, nil
}

func (s *PublishService) createInTx(ctx context.Context, tx *ent.Tx, req models.CreatePublishRequest) (*ent.PublishTask, error) {
	if req.TaskID == "" {
		return nil, NewValidationError("task_id", "required")
	}
	if req.AccountID == "" {
		return nil, NewValidationError("account_id", "required")
	}
	if req.Title == "" {
		return nil, NewValidationError("title", "required")
	}
	if req.VideoRef == "" {
		return nil, NewValidationError("video_ref", "required")
	}

	parent, err := tx.AutoPublishTask.Get(ctx, req.TaskID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get parent task: %w", err)
	}
	if parent.PipelineStatus != autopublishtask.PipelineStatusCompleted {
		return nil, ErrConflict
	}

	scheduledTime := req.ScheduledTime
	if scheduledTime.IsZero() {
		scheduledTime = time.Now()
	}

	create := tx.PublishTask.Create().
		SetID(uuid.New().String()).
		SetTaskID(req.TaskID).
		SetAccountID(req.AccountID).
		SetTitle(req.Title).
		SetDescription(req.Description).
		SetVideoRef(req.VideoRef).
		SetStatus(publishtask.StatusScheduled).
		SetScheduledTime(scheduledTime.UTC()).
		SetIsScheduled(req.IsScheduled).
		SetRetryCount(req.RetryCount)
	if req.Tags != nil {
		create.SetTags(req.Tags)
	}
	if req.ThumbnailRef != "" {
		create.SetThumbnailRef(req.ThumbnailRef)
	}
	if req.Privacy != "" {
		create.SetPrivacy(req.Privacy)
	}
	if req.VariantName != "" {
		create.SetVariantName(req.VariantName)
	}
	if req.RetriedFromID != "" {
		create.SetRetriedFromID(req.RetriedFromID)
	}
	p, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create publish task: %w", err)
	}
	return p, nil
}

// Get returns one publish task by id.
func (s *PublishService) Get(ctx context.Context, publishID string) (*ent.PublishTask, error) {
	p, err := s.client.PublishTask.Get(ctx, publishID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get publish task: %w", err)
	}
	return p, nil
}

// List returns publish tasks matching the params, newest first, plus the
// total count for paging.
func (s *PublishService) List(ctx context.Context, params models.PublishListParams) ([]*ent.PublishTask, int, error) {
	q := s.client.PublishTask.Query()
	if params.TaskID != "" {
		q = q.Where(publishtask.TaskIDEQ(params.TaskID))
	}
	if params.AccountID != "" {
		q = q.Where(publishtask.AccountIDEQ(params.AccountID))
	}
	if params.Status != "" {
		q = q.Where(publishtask.StatusEQ(publishtask.Status(params.Status)))
	}

	total, err := q.Clone().Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count publish tasks: %w", err)
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	tasks, err := q.
		Order(ent.Desc(publishtask.FieldCreatedAt)).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list publish tasks: %w", err)
	}
	return tasks, total, nil
}

// ListScheduled returns every scheduled publish task in time order. The
// publish scheduler rebuilds its heap from this on startup.
func (s *PublishService) ListScheduled(ctx context.Context) ([]*ent.PublishTask, error) {
	tasks, err := s.client.PublishTask.Query().
		Where(publishtask.StatusEQ(publishtask.StatusScheduled)).
		Order(ent.Asc(publishtask.FieldScheduledTime), ent.Asc(publishtask.FieldID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled publishes: %w", err)
	}
	return tasks, nil
}

// NextDue is a read-only peek at the earliest scheduled publish at or
// before now. Returns ErrNotFound when nothing is due.
func (s *PublishService) NextDue(ctx context.Context, now time.Time) (*ent.PublishTask, error) {
	p, err := s.client.PublishTask.Query().
		Where(
			publishtask.StatusEQ(publishtask.StatusScheduled),
			publishtask.ScheduledTimeLTE(now.UTC()),
		).
		Order(ent.Asc(publishtask.FieldScheduledTime), ent.Asc(publishtask.FieldID)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to peek due publishes: %w", err)
	}
	return p, nil
}

// PopDue atomically claims up to limit due publishes, moving each
// scheduled → uploading under FOR UPDATE SKIP LOCKED so concurrent
// dispatchers never double-claim. Nothing with scheduled_time in the
// future is ever returned.
func (s *PublishService) PopDue(ctx context.Context, now time.Time, limit int) ([]*ent.PublishTask, error) {
	if limit < 1 {
		limit = 1
	}

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	due, err := tx.PublishTask.Query().
		Where(
			publishtask.StatusEQ(publishtask.StatusScheduled),
			publishtask.ScheduledTimeLTE(now.UTC()),
		).
		Order(ent.Asc(publishtask.FieldScheduledTime), ent.Asc(publishtask.FieldID)).
		Limit(limit).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query due publishes: %w", err)
	}

	claimed := make([]*ent.PublishTask, 0, len(due))
	uploadingAt := time.Now().UTC()
	for _, p := range due {
		updated, err := tx.PublishTask.UpdateOne(p).
			SetStatus(publishtask.StatusUploading).
			SetUploadingAt(uploadingAt).
			Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to claim publish task: %w", err)
		}
		claimed = append(claimed, updated)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

// MarkSuccess records a finished upload and advances the parent task when
// every sibling publish has reached a terminal state.
func (s *PublishService) MarkSuccess(ctx context.Context, publishID, platformVideoID, platformURL string) error {
	update := s.client.PublishTask.UpdateOneID(publishID).
		SetStatus(publishtask.StatusSuccess).
		SetCompletedAt(time.Now().UTC())
	if platformVideoID != "" {
		update.SetPlatformVideoID(platformVideoID)
	}
	if platformURL != "" {
		update.SetPlatformURL(platformURL)
	}
	p, err := update.Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark publish success: %w", err)
	}
	return s.AdvanceParent(ctx, p.TaskID)
}

// MarkFailed records a failed upload. The retry policy decides separately
// whether a new row gets spawned; AdvanceParent sees either the terminal
// failure or the scheduled retry.
func (s *PublishService) MarkFailed(ctx context.Context, publishID, errMsg, errCode string) (*ent.PublishTask, error) {
	update := s.client.PublishTask.UpdateOneID(publishID).
		SetStatus(publishtask.StatusFailed).
		SetCompletedAt(time.Now().UTC())
	if errMsg != "" {
		update.SetErrorMessage(errMsg)
	}
	if errCode != "" {
		update.SetErrorCode(errCode)
	}
	p, err := update.Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark publish failed: %w", err)
	}
	return p, nil
}

// Cancel drops a publish that has not started uploading.
func (s *PublishService) Cancel(ctx context.Context, publishID string) error {
	n, err := s.client.PublishTask.Update().
		Where(
			publishtask.IDEQ(publishID),
			publishtask.StatusIn(publishtask.StatusPending, publishtask.StatusScheduled),
		).
		SetStatus(publishtask.StatusCancelled).
		SetCompletedAt(time.Now().UTC()).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel publish task: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, publishID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// Reschedule moves a still-scheduled publish to a new time.
func (s *PublishService) Reschedule(ctx context.Context, publishID string, newTime time.Time) (*ent.PublishTask, error) {
	n, err := s.client.PublishTask.Update().
		Where(
			publishtask.IDEQ(publishID),
			publishtask.StatusEQ(publishtask.StatusScheduled),
		).
		SetScheduledTime(newTime.UTC()).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reschedule publish task: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, publishID); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.Get(ctx, publishID)
}

// SpawnRetry creates a NEW publish task retrying the given one, scheduled
// at the backoff time. The original row stays intact for audit.
func (s *PublishService) SpawnRetry(ctx context.Context, original *ent.PublishTask, scheduledTime time.Time) (*ent.PublishTask, error) {
	create := s.client.PublishTask.Create().
		SetID(uuid.New().String()).
		SetTaskID(original.TaskID).
		SetAccountID(original.AccountID).
		SetTitle(original.Title).
		SetDescription(original.Description).
		SetVideoRef(original.VideoRef).
		SetPrivacy(original.Privacy).
		SetStatus(publishtask.StatusScheduled).
		SetScheduledTime(scheduledTime.UTC()).
		SetIsScheduled(true).
		SetRetryCount(original.RetryCount + 1).
		SetRetriedFromID(original.ID)
	if original.Tags != nil {
		create.SetTags(original.Tags)
	}
	if original.ThumbnailRef != nil {
		create.SetThumbnailRef(*original.ThumbnailRef)
	}
	if original.VariantName != nil {
		create.SetVariantName(*original.VariantName)
	}
	retry, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn retry publish: %w", err)
	}
	return retry, nil
}

// AdvanceParent recomputes the parent task's publish status from its
// publish rows: published when every row in the latest retry chain
// succeeded, failed when any chain ended in failure, otherwise left as is.
func (s *PublishService) AdvanceParent(ctx context.Context, taskID string) error {
	rows, err := s.client.PublishTask.Query().
		Where(publishtask.TaskIDEQ(taskID)).
		All(ctx)
	if err != nil {
		return fmt.Errorf("failed to query sibling publishes: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	// Rows superseded by a retry no longer count toward the verdict.
	superseded := map[string]bool{}
	for _, p := range rows {
		if p.RetriedFromID != nil {
			superseded[*p.RetriedFromID] = true
		}
	}

	allSuccess := true
	anyFailed := false
	for _, p := range rows {
		if superseded[p.ID] {
			continue
		}
		switch p.Status {
		case publishtask.StatusSuccess:
		case publishtask.StatusFailed:
			anyFailed = true
			allSuccess = false
		case publishtask.StatusCancelled:
			allSuccess = false
		default:
			return nil // still in flight
		}
	}

	var status autopublishtask.PublishStatus
	switch {
	case allSuccess:
		status = autopublishtask.PublishStatusPublished
	case anyFailed:
		status = autopublishtask.PublishStatusFailed
	default:
		return nil
	}
	_, err = s.client.AutoPublishTask.UpdateOneID(taskID).
		SetPublishStatus(status).
		Save(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("failed to advance parent task: %w", err)
	}
	return nil
}

// AccountPublishCount is one (account, successful publishes) pair.
type AccountPublishCount struct {
	AccountID string `json:"account_id"`
	Count     int    `json:"count"`
}

// TopAccounts returns the accounts with the most successful publishes.
func (s *PublishService) TopAccounts(ctx context.Context, limit int) ([]AccountPublishCount, error) {
	if limit < 1 {
		limit = 5
	}
	var rows []AccountPublishCount
	err := s.client.PublishTask.Query().
		Where(publishtask.StatusEQ(publishtask.StatusSuccess)).
		GroupBy(publishtask.FieldAccountID).
		Aggregate(ent.Count()).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate publishes: %w", err)
	}
	// ent's GroupBy does not order aggregates; sort and cut here.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].Count > rows[j-1].Count; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// SuccessCountFor returns the number of successful publishes for a
// (config, account) pair. The round-robin resolver uses this as its cycle
// counter.
func (s *PublishService) SuccessCountFor(ctx context.Context, configID, accountID string) (int, error) {
	taskIDs, err := s.client.AutoPublishTask.Query().
		Where(autopublishtask.ConfigIDEQ(configID)).
		IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query config tasks: %w", err)
	}
	if len(taskIDs) == 0 {
		return 0, nil
	}
	n, err := s.client.PublishTask.Query().
		Where(
			publishtask.StatusEQ(publishtask.StatusSuccess),
			publishtask.AccountIDEQ(accountID),
			publishtask.TaskIDIn(taskIDs...),
		).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count publishes: %w", err)
	}
	return n, nil
}
