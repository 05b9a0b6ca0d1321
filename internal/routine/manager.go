// Package routine implements the activity lifecycle manager for Amparo.
//
// The manager owns the state machine of a single activity (pending ->
// completed / not-completed) together with its three notification flags, and
// exposes the CRUD-with-side-effects operations used by the API layer. Every
// mutation appends one audit log entry to the routine and publishes one
// real-time event on the dependent's channel.
package routine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/amparo-care/amparo/internal/models"
	"github.com/amparo-care/amparo/internal/notify"
	"github.com/amparo-care/amparo/internal/store"
)

// Manager coordinates activity mutations against the routine store and the
// notification channel. Operations are request-scoped and share no mutable
// state; concurrent calls against the same activity are serialized by the
// store's per-document atomicity.
type Manager struct {
	store    store.RoutineStore
	notifier notify.Notifier
	now      func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(s store.RoutineStore, n notify.Notifier) *Manager {
	return &Manager{store: s, notifier: n, now: time.Now}
}

// SetClock overrides the manager's clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create validates and appends a new activity to the dependent's routine,
// creating the routine if needed. caregiverID is recorded only when the
// routine is created; it is the recipient of later failure alerts.
func (m *Manager) Create(ctx context.Context, dependentID, caregiverID string, input models.Activity) (*models.Activity, error) {
	if dependentID == "" {
		return nil, models.ErrEmptyDependentID
	}
	activity := input
	activity.Title = strings.TrimSpace(activity.Title)
	if activity.Status == "" {
		activity.Status = models.ActivityStatusPending
	}
	if err := activity.Validate(); err != nil {
		slog.Warn("Manager.Create: validation failed", "error", err, "dependent_id", dependentID)
		return nil, err
	}
	activity.ID = primitive.NewObjectID()
	activity.CompletionDate = nil
	activity.PreNotificationSent = false
	activity.ImmediateAlarmSent = false
	activity.FailureAlertSent = false

	entry := models.LogEntry{
		Action:        models.LogActionActivityCreated,
		ActivityID:    activity.ID.Hex(),
		ActivityTitle: activity.Title,
		Timestamp:     m.now(),
	}
	if err := m.store.UpsertAppendActivity(ctx, dependentID, caregiverID, activity, entry); err != nil {
		return nil, err
	}
	slog.Info("Manager.Create: activity created", "dependent_id", dependentID, "activity_id", activity.ID.Hex(), "title", activity.Title)

	m.publish(ctx, dependentID, models.EventActivityCreated, activity)
	return &activity, nil
}

// List returns all activities of the dependent's routine. A dependent
// without a routine yields an empty list, not an error.
func (m *Manager) List(ctx context.Context, dependentID string) ([]models.Activity, error) {
	routine, err := m.store.FindByDependent(ctx, dependentID)
	if err != nil {
		return nil, err
	}
	if routine == nil {
		return []models.Activity{}, nil
	}
	return routine.Activities, nil
}

// Get returns a single activity, or ErrActivityNotFound.
func (m *Manager) Get(ctx context.Context, dependentID, activityID string) (*models.Activity, error) {
	activity, err := m.store.FindActivityByID(ctx, dependentID, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, models.ErrActivityNotFound
	}
	return activity, nil
}

// Log returns the routine's audit log, or ErrRoutineNotFound.
func (m *Manager) Log(ctx context.Context, dependentID string) ([]models.LogEntry, error) {
	routine, err := m.store.FindByDependent(ctx, dependentID)
	if err != nil {
		return nil, err
	}
	if routine == nil {
		return nil, models.ErrRoutineNotFound
	}
	return routine.Log, nil
}

// Update applies a partial patch to the matching activity. Status
// transitions maintain the completion timestamp, and a reset to pending (or
// a schedule change) clears all three notification flags, starting a new
// notification epoch.
func (m *Manager) Update(ctx context.Context, dependentID, activityID string, patch models.ActivityPatch) (*models.Activity, error) {
	if err := patch.Validate(); err != nil {
		slog.Warn("Manager.Update: validation failed", "error", err, "dependent_id", dependentID, "activity_id", activityID)
		return nil, err
	}

	fields := patch.Fields()
	if patch.Status != nil {
		if *patch.Status == models.ActivityStatusCompleted {
			fields["completion_date"] = m.now()
		} else {
			fields["completion_date"] = nil
		}
	}
	resetFlags := (patch.Status != nil && *patch.Status == models.ActivityStatusPending) || patch.Schedule != nil
	if resetFlags {
		fields[string(store.FlagPreNotification)] = false
		fields[string(store.FlagImmediateAlarm)] = false
		fields[string(store.FlagFailureAlert)] = false
		slog.Debug("Manager.Update: resetting notification flags", "dependent_id", dependentID, "activity_id", activityID)
	}

	updated, err := m.store.UpdateMatchedActivityFields(ctx, dependentID, activityID, fields)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, models.ErrActivityNotFound
	}

	entry := models.LogEntry{
		Action:        models.LogActionActivityUpdated,
		ActivityID:    activityID,
		UpdatedFields: patch.FieldNames(),
		Timestamp:     m.now(),
	}
	if err := m.store.AppendLog(ctx, dependentID, entry); err != nil {
		// The update itself committed; losing the audit entry is logged, not fatal.
		slog.Warn("Manager.Update: failed to append audit log", "error", err, "dependent_id", dependentID, "activity_id", activityID)
	}
	slog.Info("Manager.Update: activity updated", "dependent_id", dependentID, "activity_id", activityID, "fields", entry.UpdatedFields)

	m.publish(ctx, dependentID, models.EventActivityUpdated, updated)
	return updated, nil
}

// Delete removes the matching activity. It returns false, without error,
// when nothing matched.
func (m *Manager) Delete(ctx context.Context, dependentID, activityID string) (bool, error) {
	removed, err := m.store.RemoveActivity(ctx, dependentID, activityID)
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}

	entry := models.LogEntry{
		Action:     models.LogActionActivityDeleted,
		ActivityID: activityID,
		Timestamp:  m.now(),
	}
	if err := m.store.AppendLog(ctx, dependentID, entry); err != nil {
		slog.Warn("Manager.Delete: failed to append audit log", "error", err, "dependent_id", dependentID, "activity_id", activityID)
	}
	slog.Info("Manager.Delete: activity deleted", "dependent_id", dependentID, "activity_id", activityID)

	m.publish(ctx, dependentID, models.EventActivityDeleted, models.ActivityDeleted{
		ActivityID:  activityID,
		DependentID: dependentID,
	})
	return true, nil
}

// DeleteAll clears the dependent's activity list. It returns false, without
// error, when the dependent has no routine document.
func (m *Manager) DeleteAll(ctx context.Context, dependentID string) (bool, error) {
	matched, err := m.store.ClearActivities(ctx, dependentID)
	if err != nil {
		return false, err
	}
	if matched == 0 {
		return false, nil
	}

	entry := models.LogEntry{
		Action:      models.LogActionAllActivitiesDeleted,
		DependentID: dependentID,
		Timestamp:   m.now(),
	}
	if err := m.store.AppendLog(ctx, dependentID, entry); err != nil {
		slog.Warn("Manager.DeleteAll: failed to append audit log", "error", err, "dependent_id", dependentID)
	}
	slog.Info("Manager.DeleteAll: all activities deleted", "dependent_id", dependentID)

	m.publish(ctx, dependentID, models.EventAllActivitiesDeleted, models.AllActivitiesDeleted{
		DependentID: dependentID,
	})
	return true, nil
}

// publish delivers a lifecycle event to the dependent's channel. Delivery is
// best-effort: the mutation already committed, so a channel failure is
// logged and the operation still succeeds.
func (m *Manager) publish(ctx context.Context, dependentID string, event models.EventType, payload interface{}) {
	if err := m.notifier.Publish(ctx, dependentID, event, payload); err != nil {
		slog.Warn("Manager.publish: failed to publish event", "error", err, "event", event, "dependent_id", dependentID)
	}
}
