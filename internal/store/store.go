// Package store provides storage backends for Amparo.
//
// Routine documents (one per dependent, embedding the activity list and the
// audit log) live in MongoDB; caregiver/dependent identity records live in a
// relational store with PostgreSQL and SQLite implementations. An in-memory
// routine store backs unit tests and single-process development runs.
package store

import (
	"context"
	"time"

	"github.com/amparo-care/amparo/internal/models"
)

// NotificationFlag names one of the per-activity sent flags, by its
// persisted field name.
type NotificationFlag string

const (
	// FlagPreNotification gates the ~15-minutes-ahead reminder.
	FlagPreNotification NotificationFlag = "pre_notification_sent"
	// FlagImmediateAlarm gates the at-schedule-time alarm.
	FlagImmediateAlarm NotificationFlag = "immediate_alarm_sent"
	// FlagFailureAlert gates the still-pending-past-due caregiver alert.
	FlagFailureAlert NotificationFlag = "failure_alert_sent"
)

// RoutineStore is the persistence contract for routine documents. All writes
// are atomic at the single-document level; no cross-document atomicity is
// assumed anywhere.
//
// Lookup methods report absence as a nil result with a nil error; errors are
// reserved for store failures.
type RoutineStore interface {
	// UpsertAppendActivity appends an activity and a log entry to the
	// dependent's routine, creating the routine if it does not exist yet.
	// caregiverID is only applied when the routine is created.
	UpsertAppendActivity(ctx context.Context, dependentID, caregiverID string, activity models.Activity, entry models.LogEntry) error

	// FindByDependent returns the dependent's routine, or nil if none exists.
	FindByDependent(ctx context.Context, dependentID string) (*models.Routine, error)

	// FindActivityByID returns a single activity, or nil if the routine or
	// the activity does not exist.
	FindActivityByID(ctx context.Context, dependentID, activityID string) (*models.Activity, error)

	// UpdateMatchedActivityFields applies the given field values to the
	// matching embedded activity only, all-or-nothing, and returns the
	// updated activity. Returns nil if no routine or activity matched.
	UpdateMatchedActivityFields(ctx context.Context, dependentID, activityID string, fields map[string]interface{}) (*models.Activity, error)

	// AppendLog appends an audit log entry to the dependent's routine.
	AppendLog(ctx context.Context, dependentID string, entry models.LogEntry) error

	// RemoveActivity removes the matching activity and returns the number of
	// activities removed (0 or 1).
	RemoveActivity(ctx context.Context, dependentID, activityID string) (int64, error)

	// ClearActivities empties the dependent's activity list and returns the
	// number of routine documents matched (0 or 1).
	ClearActivities(ctx context.Context, dependentID string) (int64, error)

	// QueryByScheduleWindowAndFlag returns routines containing at least one
	// activity whose schedule falls in [lo, hi], whose status matches, and
	// whose flag is not yet set. The result may over-return (a routine
	// qualifies through any one activity); callers must re-check
	// per-activity before acting.
	QueryByScheduleWindowAndFlag(ctx context.Context, lo, hi time.Time, status models.ActivityStatus, flag NotificationFlag) ([]models.Routine, error)

	// SetActivityFlag persists flag=true on one activity, keyed by the
	// routine document id plus the activity id so concurrent sweeps cannot
	// touch a sibling activity.
	SetActivityFlag(ctx context.Context, routineID, activityID string, flag NotificationFlag) error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN      string
	Database string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithDSN sets the connection string (Mongo URI, Postgres DSN or SQLite path).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithDatabase sets the Mongo database name.
func WithDatabase(name string) Option {
	return func(o *Opts) { o.Database = name }
}
