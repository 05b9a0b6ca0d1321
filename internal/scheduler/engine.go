// Package scheduler provides the recurring sweep scheduling for Amparo.
//
// This file implements the engine that scans routines once per minute and
// emits alarms, pre-notifications and failure alerts, each at most once per
// activity per notification epoch.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amparo-care/amparo/internal/messaging"
	"github.com/amparo-care/amparo/internal/models"
	"github.com/amparo-care/amparo/internal/notify"
	"github.com/amparo-care/amparo/internal/store"
)

// TickSpec runs the sweeps once per minute. The three window offsets assume
// back-to-back one-minute ticks: each activity enters each window exactly
// once, which is what makes the sent flags sufficient for at-most-once.
const TickSpec = "* * * * *"

// Sweep window offsets relative to the tick time T.
const (
	// ImmediateAlarmWindow is how far back the due-now sweep looks: [T-60s, T].
	ImmediateAlarmWindow = time.Minute
	// PreNotificationLead is the far edge of the reminder sweep: [T+14m, T+15m].
	PreNotificationLead = 15 * time.Minute
	// FailureAlertLag is the far edge of the overdue sweep: [T-31m, T-30m].
	FailureAlertLag = 31 * time.Minute
)

// Engine runs the three notification sweeps against the routine store.
type Engine struct {
	store    store.RoutineStore
	notifier notify.Notifier

	// Optional SMS escalation for failure alerts. Both must be set; the
	// identity store resolves the caregiver's phone number.
	sms      messaging.Service
	identity store.IdentityStore

	now func() time.Time
}

// NewEngine creates a sweep engine.
func NewEngine(s store.RoutineStore, n notify.Notifier) *Engine {
	return &Engine{store: s, notifier: n, now: time.Now}
}

// WithSMSEscalation enables the SMS copy of failure alerts.
func (e *Engine) WithSMSEscalation(sms messaging.Service, identity store.IdentityStore) *Engine {
	e.sms = sms
	e.identity = identity
	return e
}

// SetClock overrides the engine's clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Start registers the engine's tick on the scheduler.
func (e *Engine) Start(s *Scheduler) error {
	return s.AddJob(TickSpec, func() {
		e.RunTick(context.Background())
	})
}

// RunTick executes the three sweeps for the current tick time. The sweeps
// are independent: a failure in one is logged and the others still run. A
// tick never returns an error; anything that went wrong is retried naturally
// on a later tick for every activity whose flag was not yet persisted.
func (e *Engine) RunTick(ctx context.Context) {
	t := e.now()
	slog.Debug("Engine.RunTick: scheduler tick", "time", t)

	if err := e.sweepImmediateAlarms(ctx, t); err != nil {
		slog.Error("Engine.RunTick: immediate alarm sweep failed", "error", err)
	}
	if err := e.sweepPreNotifications(ctx, t); err != nil {
		slog.Error("Engine.RunTick: pre-notification sweep failed", "error", err)
	}
	if err := e.sweepFailureAlerts(ctx, t); err != nil {
		slog.Error("Engine.RunTick: failure alert sweep failed", "error", err)
	}
}

// sweepImmediateAlarms notifies dependents of activities due within the last
// minute.
func (e *Engine) sweepImmediateAlarms(ctx context.Context, t time.Time) error {
	lo, hi := t.Add(-ImmediateAlarmWindow), t
	routines, err := e.store.QueryByScheduleWindowAndFlag(ctx, lo, hi, models.ActivityStatusPending, store.FlagImmediateAlarm)
	if err != nil {
		return fmt.Errorf("immediate alarm query failed: %w", err)
	}
	for _, routine := range routines {
		if routine.DependentID == "" {
			slog.Warn("Engine.sweepImmediateAlarms: routine without dependent id, skipping", "routine_id", routine.ID.Hex())
			continue
		}
		for i := range routine.Activities {
			activity := routine.Activities[i]
			// The bulk query matches whole routines; re-check each activity.
			if !inWindow(activity.Schedule, lo, hi) || activity.Status != models.ActivityStatusPending || activity.ImmediateAlarmSent {
				continue
			}
			alert := models.Alert{
				Title:    "Activity Alarm!",
				Message:  fmt.Sprintf("It's time for: %s", activity.Title),
				Activity: &activity,
				Type:     models.AlertTypeImmediateAlarm,
			}
			e.deliver(ctx, routine, activity, routine.DependentID, models.EventAlarm, alert, store.FlagImmediateAlarm)
		}
	}
	slog.Debug("Engine.sweepImmediateAlarms: sweep complete", "routines_checked", len(routines))
	return nil
}

// sweepPreNotifications reminds dependents of activities due in roughly 15
// minutes.
func (e *Engine) sweepPreNotifications(ctx context.Context, t time.Time) error {
	lo, hi := t.Add(PreNotificationLead-time.Minute), t.Add(PreNotificationLead)
	routines, err := e.store.QueryByScheduleWindowAndFlag(ctx, lo, hi, models.ActivityStatusPending, store.FlagPreNotification)
	if err != nil {
		return fmt.Errorf("pre-notification query failed: %w", err)
	}
	for _, routine := range routines {
		if routine.DependentID == "" {
			slog.Warn("Engine.sweepPreNotifications: routine without dependent id, skipping", "routine_id", routine.ID.Hex())
			continue
		}
		for i := range routine.Activities {
			activity := routine.Activities[i]
			if !inWindow(activity.Schedule, lo, hi) || activity.Status != models.ActivityStatusPending || activity.PreNotificationSent {
				continue
			}
			alert := models.Alert{
				Title:    "Activity Reminder",
				Message:  fmt.Sprintf("Reminder: %s in approximately 15 minutes.", activity.Title),
				Activity: &activity,
				Type:     models.AlertTypePreNotification,
			}
			e.deliver(ctx, routine, activity, routine.DependentID, models.EventPreNotification, alert, store.FlagPreNotification)
		}
	}
	slog.Debug("Engine.sweepPreNotifications: sweep complete", "routines_checked", len(routines))
	return nil
}

// sweepFailureAlerts tells caregivers about activities that stayed pending
// for half an hour past their scheduled time.
func (e *Engine) sweepFailureAlerts(ctx context.Context, t time.Time) error {
	lo, hi := t.Add(-FailureAlertLag), t.Add(-(FailureAlertLag - time.Minute))
	routines, err := e.store.QueryByScheduleWindowAndFlag(ctx, lo, hi, models.ActivityStatusPending, store.FlagFailureAlert)
	if err != nil {
		return fmt.Errorf("failure alert query failed: %w", err)
	}
	for _, routine := range routines {
		if routine.CaregiverID == "" {
			// Without a caregiver there is nobody to alert; never fatal.
			slog.Warn("Engine.sweepFailureAlerts: routine without caregiver id, alerts skipped", "dependent_id", routine.DependentID)
			continue
		}
		for i := range routine.Activities {
			activity := routine.Activities[i]
			if !inWindow(activity.Schedule, lo, hi) || activity.Status != models.ActivityStatusPending || activity.FailureAlertSent {
				continue
			}
			alert := models.Alert{
				Title:       "Alert: Activity Not Completed!",
				Message:     fmt.Sprintf("The activity %q for dependent (ID: %s) scheduled for %s appears to be uncompleted.", activity.Title, routine.DependentID, activity.Schedule.Format(time.Kitchen)),
				Activity:    &activity,
				DependentID: routine.DependentID,
				Type:        models.AlertTypeFailureAlert,
			}
			if e.deliver(ctx, routine, activity, routine.CaregiverID, models.EventFailureAlert, alert, store.FlagFailureAlert) {
				e.escalateSMS(ctx, routine.CaregiverID, alert)
			}
		}
	}
	slog.Debug("Engine.sweepFailureAlerts: sweep complete", "routines_checked", len(routines))
	return nil
}

// deliver publishes the alert on the recipient's channel and then, only
// after a successful publish, persists the sent flag keyed by the routine
// and activity ids. Reports whether the alert was published.
func (e *Engine) deliver(ctx context.Context, routine models.Routine, activity models.Activity, channel string, event models.EventType, alert models.Alert, flag store.NotificationFlag) bool {
	if err := e.notifier.Publish(ctx, channel, event, alert); err != nil {
		// Flag stays unset so the next tick retries while the activity is
		// still inside the window.
		slog.Error("Engine.deliver: publish failed", "error", err, "event", event, "channel", channel, "activity_id", activity.ID.Hex())
		return false
	}
	if err := e.store.SetActivityFlag(ctx, routine.ID.Hex(), activity.ID.Hex(), flag); err != nil {
		slog.Error("Engine.deliver: failed to persist sent flag", "error", err, "flag", flag, "activity_id", activity.ID.Hex())
		return true
	}
	slog.Info("Engine.deliver: notification sent", "event", event, "channel", channel, "dependent_id", routine.DependentID, "activity_id", activity.ID.Hex(), "title", activity.Title)
	return true
}

// escalateSMS sends a best-effort SMS copy of a failure alert to the
// caregiver's phone, when SMS escalation is configured.
func (e *Engine) escalateSMS(ctx context.Context, caregiverID string, alert models.Alert) {
	if e.sms == nil || e.identity == nil {
		return
	}
	caregiver, err := e.identity.GetCaregiver(ctx, caregiverID)
	if err != nil {
		slog.Warn("Engine.escalateSMS: caregiver lookup failed", "error", err, "caregiver_id", caregiverID)
		return
	}
	if caregiver == nil || caregiver.Phone == "" {
		slog.Debug("Engine.escalateSMS: caregiver has no phone, skipping", "caregiver_id", caregiverID)
		return
	}
	if err := e.sms.SendMessage(ctx, caregiver.Phone, alert.Title+" "+alert.Message); err != nil {
		slog.Warn("Engine.escalateSMS: SMS send failed", "error", err, "caregiver_id", caregiverID)
	}
}

// inWindow reports whether the schedule falls in [lo, hi], both ends
// inclusive, matching the store's window query.
func inWindow(schedule, lo, hi time.Time) bool {
	return !schedule.Before(lo) && !schedule.After(hi)
}
