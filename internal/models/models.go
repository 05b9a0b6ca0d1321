// Package models defines the core data structures for Amparo.
//
// It includes the routine/activity document types shared by the store,
// lifecycle manager and scheduler, plus the caregiver/dependent identity
// records kept in the relational store.
package models

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ActivityKind classifies a scheduled care activity.
type ActivityKind string

const (
	// ActivityKindPhysical is a physical exercise activity.
	ActivityKindPhysical ActivityKind = "physical_activity"
	// ActivityKindFeeding is a meal or hydration activity.
	ActivityKindFeeding ActivityKind = "feeding"
	// ActivityKindMedication is a medication intake activity.
	ActivityKindMedication ActivityKind = "medication"
)

// ActivityStatus tracks the lifecycle state of an activity.
type ActivityStatus string

const (
	// ActivityStatusPending means the activity has not been acted on yet.
	ActivityStatusPending ActivityStatus = "pending"
	// ActivityStatusCompleted means the dependent completed the activity.
	ActivityStatusCompleted ActivityStatus = "completed"
	// ActivityStatusNotCompleted means the activity was explicitly marked as missed.
	ActivityStatusNotCompleted ActivityStatus = "not_completed"
)

// Validation constants
const (
	// MaxActivityTitleLength defines the maximum allowed length for an activity title
	MaxActivityTitleLength = 200
	// MaxActivityDescriptionLength defines the maximum allowed length for an activity description
	MaxActivityDescriptionLength = 2000
)

// Error variables for better error handling and testability
var (
	ErrEmptyDependentID    = errors.New("dependent id cannot be empty")
	ErrEmptyTitle          = errors.New("activity title is required")
	ErrTitleTooLong        = errors.New("activity title exceeds maximum length")
	ErrDescriptionTooLong  = errors.New("activity description exceeds maximum length")
	ErrInvalidActivityKind = errors.New("invalid activity kind")
	ErrInvalidStatus       = errors.New("invalid activity status")
	ErrMissingSchedule     = errors.New("activity schedule is required")
	ErrEmptyPatch          = errors.New("no fields to update")
	ErrActivityNotFound    = errors.New("activity not found")
	ErrRoutineNotFound     = errors.New("routine not found")
)

// IsValidActivityKind checks if the given kind is part of the closed enumeration.
func IsValidActivityKind(k ActivityKind) bool {
	switch k {
	case ActivityKindPhysical, ActivityKindFeeding, ActivityKindMedication:
		return true
	default:
		return false
	}
}

// IsValidActivityStatus checks if the given status is supported.
func IsValidActivityStatus(s ActivityStatus) bool {
	switch s {
	case ActivityStatusPending, ActivityStatusCompleted, ActivityStatusNotCompleted:
		return true
	default:
		return false
	}
}

// Activity is a single scheduled care task embedded in a dependent's routine.
// The three *_sent flags are one-way switches per lifecycle epoch: once true
// they stay true until the activity is reset to pending (or rescheduled),
// which starts a new epoch with all flags cleared.
type Activity struct {
	ID                  primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	Title               string                 `bson:"title" json:"title"`
	Kind                ActivityKind           `bson:"kind" json:"kind"`
	Description         string                 `bson:"description,omitempty" json:"description,omitempty"`
	Schedule            time.Time              `bson:"schedule" json:"schedule"`
	Status              ActivityStatus         `bson:"status" json:"status"`
	CompletionDate      *time.Time             `bson:"completion_date,omitempty" json:"completion_date,omitempty"`
	SpecificData        map[string]interface{} `bson:"specific_data,omitempty" json:"specific_data,omitempty"` // kind-specific payload (e.g. dosage), opaque to the scheduler
	PreNotificationSent bool                   `bson:"pre_notification_sent" json:"pre_notification_sent"`
	ImmediateAlarmSent  bool                   `bson:"immediate_alarm_sent" json:"immediate_alarm_sent"`
	FailureAlertSent    bool                   `bson:"failure_alert_sent" json:"failure_alert_sent"`
}

// Validate performs validation of the required activity fields for creation.
func (a *Activity) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return ErrEmptyTitle
	}
	if len(a.Title) > MaxActivityTitleLength {
		return ErrTitleTooLong
	}
	if len(a.Description) > MaxActivityDescriptionLength {
		return ErrDescriptionTooLong
	}
	if !IsValidActivityKind(a.Kind) {
		return ErrInvalidActivityKind
	}
	if a.Schedule.IsZero() {
		return ErrMissingSchedule
	}
	return nil
}

// LogEntry is a write-once audit record appended to a routine's log.
type LogEntry struct {
	Action        string    `bson:"action" json:"action"`
	ActivityID    string    `bson:"activity_id,omitempty" json:"activity_id,omitempty"`
	ActivityTitle string    `bson:"activity_title,omitempty" json:"activity_title,omitempty"`
	UpdatedFields []string  `bson:"updated_fields,omitempty" json:"updated_fields,omitempty"`
	DependentID   string    `bson:"dependent_id,omitempty" json:"dependent_id,omitempty"`
	Timestamp     time.Time `bson:"timestamp" json:"timestamp"`
}

// Audit log action names
const (
	LogActionActivityCreated      = "activity_created"
	LogActionActivityUpdated      = "activity_updated"
	LogActionActivityDeleted      = "activity_deleted"
	LogActionAllActivitiesDeleted = "all_activities_deleted"
)

// Routine aggregates all scheduled activities for one dependent. Exactly one
// routine document exists per dependent id.
type Routine struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DependentID string             `bson:"dependent_id" json:"dependent_id"`
	CaregiverID string             `bson:"caregiver_id,omitempty" json:"caregiver_id,omitempty"`
	Activities  []Activity         `bson:"activities" json:"activities"`
	Log         []LogEntry         `bson:"log,omitempty" json:"log,omitempty"`
}

// ActivityPatch carries the optional fields of a partial activity update.
// Nil fields are left untouched.
type ActivityPatch struct {
	Title        *string                `json:"title,omitempty"`
	Kind         *ActivityKind          `json:"kind,omitempty"`
	Description  *string                `json:"description,omitempty"`
	Schedule     *time.Time             `json:"schedule,omitempty"`
	Status       *ActivityStatus        `json:"status,omitempty"`
	SpecificData map[string]interface{} `json:"specific_data,omitempty"`
}

// Validate checks the fields that are present in the patch.
func (p *ActivityPatch) Validate() error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return ErrEmptyTitle
		}
		if len(*p.Title) > MaxActivityTitleLength {
			return ErrTitleTooLong
		}
	}
	if p.Description != nil && len(*p.Description) > MaxActivityDescriptionLength {
		return ErrDescriptionTooLong
	}
	if p.Kind != nil && !IsValidActivityKind(*p.Kind) {
		return ErrInvalidActivityKind
	}
	if p.Schedule != nil && p.Schedule.IsZero() {
		return ErrMissingSchedule
	}
	if p.Status != nil && !IsValidActivityStatus(*p.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// IsEmpty reports whether the patch contains no fields at all.
func (p *ActivityPatch) IsEmpty() bool {
	return p.Title == nil && p.Kind == nil && p.Description == nil &&
		p.Schedule == nil && p.Status == nil && p.SpecificData == nil
}

// Fields returns the document field names and values the patch sets,
// keyed by the activity's persisted field names.
func (p *ActivityPatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.Title != nil {
		fields["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Kind != nil {
		fields["kind"] = *p.Kind
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.Schedule != nil {
		fields["schedule"] = *p.Schedule
	}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	if p.SpecificData != nil {
		fields["specific_data"] = p.SpecificData
	}
	return fields
}

// FieldNames returns the names of the activity fields the patch touches,
// for audit log entries.
func (p *ActivityPatch) FieldNames() []string {
	names := make([]string, 0, 6)
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"title", p.Title != nil},
		{"kind", p.Kind != nil},
		{"description", p.Description != nil},
		{"schedule", p.Schedule != nil},
		{"status", p.Status != nil},
		{"specific_data", p.SpecificData != nil},
	} {
		if f.set {
			names = append(names, f.name)
		}
	}
	return names
}
