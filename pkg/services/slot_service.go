package services

import (
	"context"
	"fmt"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/ringslot"
	"github.com/castorhq/castor/pkg/ring"
	"github.com/google/uuid"
)

// SlotService persists ring slot plans and runs the slot lifecycle.
// Placement math lives in pkg/ring; this service owns the idempotent
// upsert and the pending → scheduled → terminal transitions.
type SlotService struct {
	client *ent.Client
	groups *GroupService
}

// NewSlotService creates a new SlotService.
func NewSlotService(client *ent.Client, groups *GroupService) *SlotService {
	if client == nil {
		panic("SlotService requires a non-nil ent client")
	}
	if groups == nil {
		panic("SlotService requires a non-nil GroupService")
	}
	return &SlotService{client: client, groups: groups}
}

// GenerateSlots plans and upserts one day's ring for a config. Regeneration
// is idempotent: rows still pending are refreshed, rows that already moved
// past pending keep their state. Returns the day's full slot set.
func (s *SlotService) GenerateSlots(ctx context.Context, configID string, date time.Time, startHour, endHour int, strategy string) ([]*ent.RingSlot, error) {
	cfg, err := s.client.PublishConfig.Get(ctx, configID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	members, err := s.groups.ActiveMembers(ctx, cfg.GroupID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, NewValidationError("group_id", "group has no active members")
	}
	accountIDs := make([]string, len(members))
	for i, m := range members {
		accountIDs[i] = m.Account.ID
	}

	placements, err := ring.Plan(ring.PlanInput{
		ConfigID:   configID,
		Date:       date,
		StartHour:  startHour,
		EndHour:    endHour,
		Strategy:   ring.Strategy(strategy),
		AccountIDs: accountIDs,
	})
	if err != nil {
		return nil, NewValidationError("plan", err.Error())
	}

	slotDate := date.UTC().Format(time.DateOnly)

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := tx.RingSlot.Query().
		Where(
			ringslot.ConfigIDEQ(configID),
			ringslot.SlotDateEQ(slotDate),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	type slotKey struct {
		hour, minute int
		accountID    string
	}
	byKey := make(map[slotKey]*ent.RingSlot, len(existing))
	for _, slot := range existing {
		byKey[slotKey{slot.SlotHour, slot.SlotMinute, slot.AccountID}] = slot
	}

	for _, p := range placements {
		key := slotKey{p.Hour, p.Minute, p.AccountID}
		if slot, ok := byKey[key]; ok {
			if slot.Status != ringslot.StatusPending {
				continue
			}
			if slot.SlotIndex != p.Index {
				if _, err := tx.RingSlot.UpdateOne(slot).SetSlotIndex(p.Index).Save(ctx); err != nil {
					return nil, fmt.Errorf("failed to refresh slot: %w", err)
				}
			}
			continue
		}
		_, err := tx.RingSlot.Create().
			SetID(uuid.New().String()).
			SetConfigID(configID).
			SetAccountID(p.AccountID).
			SetSlotDate(slotDate).
			SetSlotHour(p.Hour).
			SetSlotMinute(p.Minute).
			SetSlotIndex(p.Index).
			Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create slot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit slot plan: %w", err)
	}
	return s.ListSlots(ctx, configID, slotDate)
}

// Get returns one slot by id.
func (s *SlotService) Get(ctx context.Context, slotID string) (*ent.RingSlot, error) {
	slot, err := s.client.RingSlot.Get(ctx, slotID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

// ListSlots returns a config's slots for one day in time order.
func (s *SlotService) ListSlots(ctx context.Context, configID, slotDate string) ([]*ent.RingSlot, error) {
	q := s.client.RingSlot.Query().
		Where(ringslot.ConfigIDEQ(configID))
	if slotDate != "" {
		q = q.Where(ringslot.SlotDateEQ(slotDate))
	}
	slots, err := q.Order(
		ent.Asc(ringslot.FieldSlotDate),
		ent.Asc(ringslot.FieldSlotHour),
		ent.Asc(ringslot.FieldSlotMinute),
	).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}

// NextPendingSlot returns the earliest pending slot whose absolute UTC time
// is at or after now, tie-broken by slot index. Returns ErrNotFound when the
// config has no bindable slot.
func (s *SlotService) NextPendingSlot(ctx context.Context, tx *ent.Tx, configID string, now time.Time) (*ent.RingSlot, error) {
	now = now.UTC()
	today := now.Format(time.DateOnly)

	slots, err := tx.RingSlot.Query().
		Where(
			ringslot.ConfigIDEQ(configID),
			ringslot.StatusEQ(ringslot.StatusPending),
			ringslot.SlotDateGTE(today),
		).
		Order(
			ent.Asc(ringslot.FieldSlotDate),
			ent.Asc(ringslot.FieldSlotHour),
			ent.Asc(ringslot.FieldSlotMinute),
			ent.Asc(ringslot.FieldSlotIndex),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending slots: %w", err)
	}
	for _, slot := range slots {
		at, err := SlotTime(slot)
		if err != nil {
			continue
		}
		if !at.Before(now) {
			return slot, nil
		}
	}
	return nil, ErrNotFound
}

// BindSlotToTask moves a slot pending → scheduled and records the task id.
// The conditional update makes concurrent binds race-safe: exactly one
// caller wins, the rest get ErrConflict.
func (s *SlotService) BindSlotToTask(ctx context.Context, tx *ent.Tx, slotID, taskID string) error {
	n, err := tx.RingSlot.Update().
		Where(
			ringslot.IDEQ(slotID),
			ringslot.StatusEQ(ringslot.StatusPending),
		).
		SetStatus(ringslot.StatusScheduled).
		SetTaskID(taskID).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to bind slot: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ResolveSlot moves a scheduled slot to a terminal status once its task
// finishes. Terminal slots are never rewritten.
func (s *SlotService) ResolveSlot(ctx context.Context, slotID string, status ringslot.Status) error {
	switch status {
	case ringslot.StatusCompleted, ringslot.StatusFailed, ringslot.StatusCancelled:
	default:
		return NewValidationError("status", "must be terminal")
	}
	n, err := s.client.RingSlot.Update().
		Where(
			ringslot.IDEQ(slotID),
			ringslot.StatusEQ(ringslot.StatusScheduled),
		).
		SetStatus(status).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve slot: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SlotTime returns a slot's absolute UTC instant.
func SlotTime(slot *ent.RingSlot) (time.Time, error) {
	day, err := time.Parse(time.DateOnly, slot.SlotDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed slot_date %q: %w", slot.SlotDate, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), slot.SlotHour, slot.SlotMinute, 0, 0, time.UTC), nil
}
