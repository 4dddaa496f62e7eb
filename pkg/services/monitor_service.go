package services

import (
	"context"
	"fmt"
	"time"

	"github.com/castorhq/castor/ent"
	entmonitor "github.com/castorhq/castor/ent/monitor"
	"github.com/castorhq/castor/ent/monitorresult"
	"github.com/google/uuid"
)

// MonitorService manages monitors and their discovered results.
type MonitorService struct {
	client *ent.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(client *ent.Client) *MonitorService {
	if client == nil {
		panic("MonitorService requires a non-nil ent client")
	}
	return &MonitorService{client: client}
}

// CreateMonitorInput holds fields for monitor creation.
type CreateMonitorInput struct {
	Name                 string
	Platform             string
	MonitorType          string
	TargetIdentifier     string
	CheckIntervalSeconds *int
	Config               map[string]any
}

// Create registers a new monitor.
func (s *MonitorService) Create(ctx context.Context, in CreateMonitorInput) (*ent.Monitor, error) {
	if in.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if in.Platform == "" {
		return nil, NewValidationError("platform", "required")
	}
	if in.TargetIdentifier == "" {
		return nil, NewValidationError("target_identifier", "required")
	}
	monitorType := entmonitor.MonitorType(in.MonitorType)
	if err := entmonitor.MonitorTypeValidator(monitorType); err != nil {
		return nil, NewValidationError("monitor_type", "must be competitor, trending, or keyword")
	}
	if in.CheckIntervalSeconds != nil && *in.CheckIntervalSeconds < 30 {
		return nil, NewValidationError("check_interval_seconds", "must be at least 30")
	}

	create := s.client.Monitor.Create().
		SetID(uuid.New().String()).
		SetName(in.Name).
		SetPlatform(in.Platform).
		SetMonitorType(monitorType).
		SetTargetIdentifier(in.TargetIdentifier)
	if in.CheckIntervalSeconds != nil {
		create.SetCheckIntervalSeconds(*in.CheckIntervalSeconds)
	}
	if in.Config != nil {
		create.SetConfig(in.Config)
	}
	created, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}
	return created, nil
}

// Get returns one monitor by id.
func (s *MonitorService) Get(ctx context.Context, monitorID string) (*ent.Monitor, error) {
	m, err := s.client.Monitor.Get(ctx, monitorID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get monitor: %w", err)
	}
	return m, nil
}

// List returns monitors, optionally restricted to active ones.
func (s *MonitorService) List(ctx context.Context, activeOnly bool) ([]*ent.Monitor, error) {
	q := s.client.Monitor.Query()
	if activeOnly {
		q = q.Where(entmonitor.ActiveEQ(true))
	}
	monitors, err := q.Order(ent.Desc(entmonitor.FieldCreatedAt)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitors: %w", err)
	}
	return monitors, nil
}

// UpdateMonitorInput holds optional monitor mutations.
type UpdateMonitorInput struct {
	Name                 *string
	TargetIdentifier     *string
	CheckIntervalSeconds *int
	Active               *bool
	Config               map[string]any
}

// Update mutates a monitor's mutable fields.
func (s *MonitorService) Update(ctx context.Context, monitorID string, in UpdateMonitorInput) (*ent.Monitor, error) {
	if in.CheckIntervalSeconds != nil && *in.CheckIntervalSeconds < 30 {
		return nil, NewValidationError("check_interval_seconds", "must be at least 30")
	}
	update := s.client.Monitor.UpdateOneID(monitorID)
	if in.Name != nil {
		update.SetName(*in.Name)
	}
	if in.TargetIdentifier != nil {
		update.SetTargetIdentifier(*in.TargetIdentifier)
	}
	if in.CheckIntervalSeconds != nil {
		update.SetCheckIntervalSeconds(*in.CheckIntervalSeconds)
	}
	if in.Active != nil {
		update.SetActive(*in.Active)
	}
	if in.Config != nil {
		update.SetConfig(in.Config)
	}
	updated, err := update.Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update monitor: %w", err)
	}
	return updated, nil
}

// Delete removes a monitor and, via FK cascade, its results.
func (s *MonitorService) Delete(ctx context.Context, monitorID string) error {
	err := s.client.Monitor.DeleteOneID(monitorID).Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	return nil
}

// SetActive flips a monitor's active flag.
func (s *MonitorService) SetActive(ctx context.Context, monitorID string, active bool) (*ent.Monitor, error) {
	m, err := s.client.Monitor.UpdateOneID(monitorID).
		SetActive(active).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to set monitor active: %w", err)
	}
	return m, nil
}

// RecordCheck stamps last_check_at after a poll cycle.
func (s *MonitorService) RecordCheck(ctx context.Context, monitorID string, at time.Time) error {
	_, err := s.client.Monitor.UpdateOneID(monitorID).
		SetLastCheckAt(at.UTC()).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to record check: %w", err)
	}
	return nil
}

// DiscoveredContent is one item found by a monitor poll.
type DiscoveredContent struct {
	ContentID string
	Title     string
	URL       string
	Payload   map[string]any
}

// UpsertResult inserts one discovered item, deduplicated on
// (monitor_id, content_id). Returns the row and whether it is new;
// only new rows feed trigger processing.
func (s *MonitorService) UpsertResult(ctx context.Context, tx *ent.Tx, monitorID string, content DiscoveredContent) (*ent.MonitorResult, bool, error) {
	if content.ContentID == "" {
		return nil, false, NewValidationError("content_id", "required")
	}
	existing, err := tx.MonitorResult.Query().
		Where(
			monitorresult.MonitorIDEQ(monitorID),
			monitorresult.ContentIDEQ(content.ContentID),
		).
		Only(ctx)
	if err == nil {
		return existing, false, nil
	}
	if !ent.IsNotFound(err) {
		return nil, false, fmt.Errorf("failed to query result: %w", err)
	}

	create := tx.MonitorResult.Create().
		SetID(uuid.New().String()).
		SetMonitorID(monitorID).
		SetContentID(content.ContentID).
		SetTitle(content.Title).
		SetURL(content.URL)
	if content.Payload != nil {
		create.SetPayload(content.Payload)
	}
	created, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			// Lost a race with a concurrent poller; treat as seen.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to create result: %w", err)
	}
	return created, true, nil
}

// MarkResultProcessed flags a result so it never fires a config twice.
func (s *MonitorService) MarkResultProcessed(ctx context.Context, tx *ent.Tx, resultID string) error {
	_, err := tx.MonitorResult.UpdateOneID(resultID).
		SetProcessed(true).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark result processed: %w", err)
	}
	return nil
}

// ListResults returns a monitor's results, newest first.
func (s *MonitorService) ListResults(ctx context.Context, monitorID string, unprocessedOnly bool) ([]*ent.MonitorResult, error) {
	q := s.client.MonitorResult.Query().
		Where(monitorresult.MonitorIDEQ(monitorID))
	if unprocessedOnly {
		q = q.Where(monitorresult.ProcessedEQ(false))
	}
	results, err := q.Order(ent.Desc(monitorresult.FieldDiscoveredAt)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return results, nil
}

// PruneProcessedResults deletes processed results discovered before the
// cutoff. The retention job calls this.
func (s *MonitorService) PruneProcessedResults(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.client.MonitorResult.Delete().
		Where(
			monitorresult.ProcessedEQ(true),
			monitorresult.DiscoveredAtLT(cutoff.UTC()),
		).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune results: %w", err)
	}
	return n, nil
}

// Tx starts a transaction on the underlying client. Monitor pollers use it
// to process one discovered item atomically.
func (s *MonitorService) Tx(ctx context.Context) (*ent.Tx, error) {
	return s.client.Tx(ctx)
}
