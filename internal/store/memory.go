// Package store provides storage backends for Amparo.
//
// This file implements an in-memory routine store used by unit tests and
// single-process development runs. Semantics mirror the MongoDB store,
// including the over-returning window query.
package store

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/amparo-care/amparo/internal/models"
)

// InMemoryRoutineStore is a mutex-guarded RoutineStore implementation.
type InMemoryRoutineStore struct {
	mu       sync.Mutex
	routines map[string]*models.Routine // keyed by dependent id
}

// NewInMemoryRoutineStore creates an empty in-memory routine store.
func NewInMemoryRoutineStore() *InMemoryRoutineStore {
	return &InMemoryRoutineStore{routines: make(map[string]*models.Routine)}
}

func (s *InMemoryRoutineStore) UpsertAppendActivity(ctx context.Context, dependentID, caregiverID string, activity models.Activity, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	routine, ok := s.routines[dependentID]
	if !ok {
		routine = &models.Routine{
			ID:          primitive.NewObjectID(),
			DependentID: dependentID,
			CaregiverID: caregiverID,
		}
		s.routines[dependentID] = routine
	}
	routine.Activities = append(routine.Activities, activity)
	routine.Log = append(routine.Log, entry)
	return nil
}

func (s *InMemoryRoutineStore) FindByDependent(ctx context.Context, dependentID string) (*models.Routine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	routine, ok := s.routines[dependentID]
	if !ok {
		return nil, nil
	}
	return copyRoutine(routine), nil
}

func (s *InMemoryRoutineStore) FindActivityByID(ctx context.Context, dependentID, activityID string) (*models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	routine, ok := s.routines[dependentID]
	if !ok {
		return nil, nil
	}
	for i := range routine.Activities {
		if routine.Activities[i].ID.Hex() == activityID {
			a := routine.Activities[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (s *InMemoryRoutineStore) UpdateMatchedActivityFields(ctx context.Context, dependentID, activityID string, fields map[string]interface{}) (*models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	routine, ok := s.routines[dependentID]
	if !ok {
		return nil, nil
	}
	for i := range routine.Activities {
		if routine.Activities[i].ID.Hex() != activityID {
			continue
		}
		applyActivityFields(&routine.Activities[i], fields)
		a := routine.Activities[i]
		return &a, nil
	}
	return nil, nil
}

func (s *InMemoryRoutineStore) AppendLog(ctx context.Context, dependentID string, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if routine, ok := s.routines[dependentID]; ok {
		routine.Log = append(routine.Log, entry)
	}
	return nil
}

func (s *InMemoryRoutineStore) RemoveActivity(ctx context.Context, dependentID, activityID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	routine, ok := s.routines[dependentID]
	if !ok {
		return 0, nil
	}
	for i := range routine.Activities {
		if routine.Activities[i].ID.Hex() == activityID {
			routine.Activities = append(routine.Activities[:i], routine.Activities[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *InMemoryRoutineStore) ClearActivities(ctx context.Context, dependentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	routine, ok := s.routines[dependentID]
	if !ok {
		return 0, nil
	}
	routine.Activities = nil
	return 1, nil
}

func (s *InMemoryRoutineStore) QueryByScheduleWindowAndFlag(ctx context.Context, lo, hi time.Time, status models.ActivityStatus, flag NotificationFlag) ([]models.Routine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Routine
	for _, routine := range s.routines {
		for i := range routine.Activities {
			a := &routine.Activities[i]
			if a.Status != status || flagSet(a, flag) {
				continue
			}
			if a.Schedule.Before(lo) || a.Schedule.After(hi) {
				continue
			}
			// The whole routine is returned, like the document query.
			matched = append(matched, *copyRoutine(routine))
			break
		}
	}
	return matched, nil
}

func (s *InMemoryRoutineStore) SetActivityFlag(ctx context.Context, routineID, activityID string, flag NotificationFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, routine := range s.routines {
		if routine.ID.Hex() != routineID {
			continue
		}
		for i := range routine.Activities {
			if routine.Activities[i].ID.Hex() != activityID {
				continue
			}
			switch flag {
			case FlagPreNotification:
				routine.Activities[i].PreNotificationSent = true
			case FlagImmediateAlarm:
				routine.Activities[i].ImmediateAlarmSent = true
			case FlagFailureAlert:
				routine.Activities[i].FailureAlertSent = true
			}
			return nil
		}
	}
	return nil
}

func flagSet(a *models.Activity, flag NotificationFlag) bool {
	switch flag {
	case FlagPreNotification:
		return a.PreNotificationSent
	case FlagImmediateAlarm:
		return a.ImmediateAlarmSent
	case FlagFailureAlert:
		return a.FailureAlertSent
	default:
		return false
	}
}

// applyActivityFields mutates an activity with the persisted-field-name
// values an ActivityPatch (plus manager side effects) produces. It mirrors
// what an array-filtered $set does to the embedded document.
func applyActivityFields(a *models.Activity, fields map[string]interface{}) {
	for name, value := range fields {
		switch name {
		case "title":
			a.Title = value.(string)
		case "kind":
			a.Kind = value.(models.ActivityKind)
		case "description":
			a.Description = value.(string)
		case "schedule":
			a.Schedule = value.(time.Time)
		case "status":
			a.Status = value.(models.ActivityStatus)
		case "specific_data":
			a.SpecificData = value.(map[string]interface{})
		case "completion_date":
			if value == nil {
				a.CompletionDate = nil
			} else {
				t := value.(time.Time)
				a.CompletionDate = &t
			}
		case "pre_notification_sent":
			a.PreNotificationSent = value.(bool)
		case "immediate_alarm_sent":
			a.ImmediateAlarmSent = value.(bool)
		case "failure_alert_sent":
			a.FailureAlertSent = value.(bool)
		}
	}
}

func copyRoutine(r *models.Routine) *models.Routine {
	out := *r
	out.Activities = append([]models.Activity(nil), r.Activities...)
	out.Log = append([]models.LogEntry(nil), r.Log...)
	return &out
}
