// Package models defines the core data structures for Amparo.
//
// This file defines the real-time events published on recipient channels.
package models

import "time"

// EventType names a real-time event published on a recipient channel.
type EventType string

const (
	// EventActivityCreated is published to the dependent channel on activity creation.
	EventActivityCreated EventType = "activity_created_realtime"
	// EventActivityUpdated is published to the dependent channel on activity update.
	EventActivityUpdated EventType = "activity_updated_realtime"
	// EventActivityDeleted is published to the dependent channel on activity deletion.
	EventActivityDeleted EventType = "activity_deleted_realtime"
	// EventAllActivitiesDeleted is published to the dependent channel when a routine is cleared.
	EventAllActivitiesDeleted EventType = "all_activities_deleted_realtime"
	// EventAlarm is published to the dependent channel when an activity is due.
	EventAlarm EventType = "alarm"
	// EventPreNotification is published to the dependent channel ~15 minutes ahead of an activity.
	EventPreNotification EventType = "pre_notification"
	// EventFailureAlert is published to the caregiver channel when an activity stays pending past due.
	EventFailureAlert EventType = "failure_alert"
	// EventEmergency is published to the caregiver channel when a dependent raises an emergency.
	EventEmergency EventType = "emergency"
	// EventEmergencyCancel is published to the caregiver channel when an emergency is withdrawn.
	EventEmergencyCancel EventType = "emergency_cancel"
)

// AlertType classifies a scheduler alert payload.
type AlertType string

const (
	// AlertTypeImmediateAlarm marks an alert fired at the activity's scheduled time.
	AlertTypeImmediateAlarm AlertType = "immediate_alarm"
	// AlertTypePreNotification marks an alert fired ahead of the scheduled time.
	AlertTypePreNotification AlertType = "pre_activity_notification"
	// AlertTypeFailureAlert marks an alert fired when an activity stays pending past due.
	AlertTypeFailureAlert AlertType = "activity_failure_alert"
)

// Alert is the payload of scheduler-driven notifications.
type Alert struct {
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Activity    *Activity `json:"activity,omitempty"`
	DependentID string    `json:"dependent_id,omitempty"` // set on failure alerts so the caregiver knows whose activity lapsed
	Type        AlertType `json:"type"`
}

// ActivityDeleted is the payload of activity deletion events.
type ActivityDeleted struct {
	ActivityID  string `json:"activity_id"`
	DependentID string `json:"dependent_id"`
}

// AllActivitiesDeleted is the payload of routine-cleared events.
type AllActivitiesDeleted struct {
	DependentID string `json:"dependent_id"`
}

// EmergencyAlert is the payload of emergency and emergency-cancel events.
type EmergencyAlert struct {
	CaregiverID string    `json:"caregiver_id"`
	DependentID string    `json:"dependent_id,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}
